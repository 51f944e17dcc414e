package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleeDevp/italihub-moderation/internal/db"
)

// DefaultPageSize is used when a list request does not specify take.
const DefaultPageSize = 20

// maxPageSize caps a single history page.
const maxPageSize = 100

// Store persists notifications and delivery preferences.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create validates the input and inserts a notification row. The generated
// id is strictly greater than every earlier one.
func (s *Store) Create(ctx context.Context, in Input) (*Notification, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	data := json.RawMessage("{}")
	if in.Data != nil {
		raw, err := json.Marshal(in.Data)
		if err != nil {
			return nil, fmt.Errorf("marshalling notification data: %w", err)
		}
		data = raw
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, type, severity, title, body, deep_link, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.UserID, string(in.Type), string(in.Severity), in.Title, in.Body, in.DeepLink, string(data),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading notification id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID retrieves a single notification.
func (s *Store) GetByID(ctx context.Context, id int64) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, severity, title, body, deep_link, data, created_at, read_at
		FROM notifications WHERE id = ?`, id)

	return scanInto(row)
}

// Cursor marks where the next history page starts.
type Cursor struct {
	CursorID int64 `json:"cursorId"`
}

// Page is one backward page of notification history.
type Page struct {
	Items      []Notification `json:"items"`
	NextCursor *Cursor        `json:"nextCursor"`
}

// ListPage returns up to take notifications for the user (their own rows
// plus broadcasts), newest first. A non-zero cursorID restricts the page to
// ids strictly below it; ids never repeat across pages because rows are
// inserted in increasing id order and never deleted. Broadcast rows carry
// the requesting user's own read state, kept in notification_reads.
func (s *Store) ListPage(ctx context.Context, userID int64, take int, cursorID int64) (*Page, error) {
	if take <= 0 {
		take = DefaultPageSize
	}
	if take > maxPageSize {
		take = maxPageSize
	}

	query := `
		SELECT n.id, n.user_id, n.type, n.severity, n.title, n.body, n.deep_link, n.data,
		       n.created_at, COALESCE(n.read_at, r.read_at)
		FROM notifications n
		LEFT JOIN notification_reads r ON r.notification_id = n.id AND r.user_id = ?
		WHERE (n.user_id = ? OR n.user_id = 0)`
	args := []any{userID, userID}

	if cursorID > 0 {
		query += " AND n.id < ?"
		args = append(args, cursorID)
	}
	// One extra row decides whether another page exists.
	query += " ORDER BY n.id DESC LIMIT ?"
	args = append(args, take+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		n, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &Page{Items: items}
	if len(items) > take {
		page.Items = items[:take]
		page.NextCursor = &Cursor{CursorID: page.Items[take-1].ID}
	}
	return page, nil
}

// MarkRead sets read_at for the user's given notifications. Rows already
// read keep their original timestamp: read_at is monotonic and the call is
// idempotent. Broadcast rows are marked per user in notification_reads so
// one reader never hides an announcement from everyone else. Returns the
// number of rows newly marked.
func (s *Store) MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning mark-read transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.DateTime)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	idArgs := make([]any, 0, len(ids))
	for _, id := range ids {
		idArgs = append(idArgs, id)
	}

	args := append([]any{now}, idArgs...)
	args = append(args, userID)
	res, err := tx.ExecContext(ctx, `
		UPDATE notifications SET read_at = ?
		WHERE id IN (`+placeholders+`) AND user_id = ? AND read_at IS NULL`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	marked, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	args = append([]any{userID, now}, idArgs...)
	res, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO notification_reads (notification_id, user_id, read_at)
		SELECT id, ?, ? FROM notifications
		WHERE id IN (`+placeholders+`) AND user_id = 0`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("marking broadcasts read: %w", err)
	}
	broadcastMarked, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing mark-read: %w", err)
	}
	return marked + broadcastMarked, nil
}

// UnreadCount returns how many notifications visible to the user (their own
// rows plus broadcasts) are unread for them.
func (s *Store) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications n
		LEFT JOIN notification_reads r ON r.notification_id = n.id AND r.user_id = ?
		WHERE (n.user_id = ? OR n.user_id = 0)
		  AND n.read_at IS NULL AND r.notification_id IS NULL`,
		userID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// Preference stores a user's webhook delivery preference. TypeFilter is a
// glob pattern over notification types ("moderation.ad.*", "**").
type Preference struct {
	UserID         int64    `json:"user_id"`
	Channel        string   `json:"channel"`
	TypeFilter     string   `json:"type_filter"`
	SeverityFilter Severity `json:"severity_filter"`
	WebhookURL     string   `json:"webhook_url,omitempty"`
}

// SetPreference upserts a delivery preference.
func (s *Store) SetPreference(ctx context.Context, pref Preference) error {
	if pref.Channel == "" {
		pref.Channel = "webhook"
	}
	if pref.TypeFilter == "" {
		pref.TypeFilter = "**"
	}
	if pref.SeverityFilter == "" {
		pref.SeverityFilter = SeverityInfo
	}

	var webhookURL sql.NullString
	if pref.WebhookURL != "" {
		webhookURL = sql.NullString{String: pref.WebhookURL, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, channel, type_filter, severity_filter, webhook_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel) DO UPDATE SET
			type_filter = excluded.type_filter,
			severity_filter = excluded.severity_filter,
			webhook_url = excluded.webhook_url`,
		pref.UserID, pref.Channel, pref.TypeFilter, string(pref.SeverityFilter), webhookURL,
	)
	if err != nil {
		return fmt.Errorf("upserting preference: %w", err)
	}
	return nil
}

// GetPreferences returns all delivery preferences for a user.
func (s *Store) GetPreferences(ctx context.Context, userID int64) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, channel, type_filter, severity_filter, webhook_url
		FROM notification_preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		var webhookURL sql.NullString
		var sevFilter string

		if err := rows.Scan(&p.UserID, &p.Channel, &p.TypeFilter, &sevFilter, &webhookURL); err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		p.SeverityFilter = Severity(sevFilter)
		if webhookURL.Valid {
			p.WebhookURL = webhookURL.String
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Notification, error) {
	var (
		n               Notification
		ntype, severity string
		data            string
		ts              string
		readAt          sql.NullString
	)

	err := sc.Scan(&n.ID, &n.UserID, &ntype, &severity, &n.Title, &n.Body,
		&n.DeepLink, &data, &ts, &readAt)
	if err != nil {
		return nil, err
	}

	n.Type = Type(ntype)
	n.Severity = Severity(severity)
	n.Data = json.RawMessage(data)

	if t, parseErr := parseTimestamp(ts); parseErr == nil {
		n.CreatedAt = t
	}
	if readAt.Valid {
		if t, parseErr := parseTimestamp(readAt.String); parseErr == nil {
			n.ReadAt = &t
		}
	}

	return &n, nil
}

func parseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.DateTime, ts); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05Z", ts)
}
