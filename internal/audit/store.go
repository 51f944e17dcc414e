package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleeDevp/italihub-moderation/internal/db"
)

// Store persists audit entries. It is append-only by design.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts a new audit entry. If entry.ID is empty a UUID is generated.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, action, entity_type, entity_id, actor_id, actor_role,
			outcome, error_code, metadata, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		string(entry.Action),
		string(entry.EntityType),
		nullInt(entry.EntityID),
		nullInt(entry.ActorID),
		entry.ActorRole,
		string(entry.Outcome),
		nullString(entry.ErrorCode),
		metadata,
		nullString(entry.Note),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// LogBatch inserts many entries in a single transaction. Used by bulk
// moderation in addition to the per-item entries.
func (s *Store) LogBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (
			id, action, entity_type, entity_id, actor_id, actor_role,
			outcome, error_code, metadata, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		metadata, err := marshalMetadata(entry.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			entry.ID,
			string(entry.Action),
			string(entry.EntityType),
			nullInt(entry.EntityID),
			nullInt(entry.ActorID),
			entry.ActorRole,
			string(entry.Outcome),
			nullString(entry.ErrorCode),
			metadata,
			nullString(entry.Note),
		); err != nil {
			return fmt.Errorf("inserting batch entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// GetByID retrieves a single audit entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, action, entity_type, entity_id, actor_id, actor_role,
			   outcome, error_code, metadata, note, created_at
		FROM audit_entries WHERE id = ?`, id)

	return scanInto(row)
}

// QueryFilter controls which audit entries are returned by Query.
type QueryFilter struct {
	Action     Action
	EntityType EntityType
	EntityID   int64
	ActorID    int64
	Outcome    Outcome
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Query returns audit entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityID != 0 {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ActorID != 0 {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.Until.UTC().Format(time.DateTime))
	}

	query := "SELECT id, action, entity_type, entity_id, actor_id, actor_role, outcome, error_code, metadata, note, created_at FROM audit_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshalling audit metadata: %w", err)
	}
	return string(raw), nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Entry, error) {
	var (
		e                    Entry
		action, entityType   string
		outcome              string
		entityID, actorID    sql.NullInt64
		errorCode, note      sql.NullString
		metadataJSON         string
		ts                   string
	)

	err := sc.Scan(
		&e.ID, &action, &entityType, &entityID, &actorID, &e.ActorRole,
		&outcome, &errorCode, &metadataJSON, &note, &ts,
	)
	if err != nil {
		return nil, err
	}

	e.Action = Action(action)
	e.EntityType = EntityType(entityType)
	e.Outcome = Outcome(outcome)

	if entityID.Valid {
		e.EntityID = entityID.Int64
	}
	if actorID.Valid {
		e.ActorID = actorID.Int64
	}
	if errorCode.Valid {
		e.ErrorCode = errorCode.String
	}
	if note.Valid {
		e.Note = note.String
	}

	if t, parseErr := time.Parse(time.DateTime, ts); parseErr == nil {
		e.CreatedAt = t
	} else if t, parseErr := time.Parse("2006-01-02T15:04:05Z", ts); parseErr == nil {
		e.CreatedAt = t
	}

	if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
		e.Metadata = nil
	}

	return &e, nil
}
