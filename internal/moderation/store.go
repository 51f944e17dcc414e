package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AleeDevp/italihub-moderation/internal/db"
)

// Store owns all moderation reads and writes. Status transitions go through
// TransitionAd / DecideVerification, which re-read the current status inside
// the same transaction that writes the new one: two moderators racing on one
// entity cannot both pass the precondition.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// GetAd retrieves an ad by id.
func (s *Store) GetAd(ctx context.Context, id int64) (*Ad, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, status, created_at, updated_at, reviewed_at
		FROM ads WHERE id = ?`, id)
	return scanAd(row)
}

// GetVerification retrieves a verification request by id.
func (s *Store) GetVerification(ctx context.Context, id int64) (*VerificationRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, document_type, rejection_code, rejection_note,
		       created_at, reviewed_at, reviewed_by
		FROM verification_requests WHERE id = ?`, id)
	return scanVerification(row)
}

// AdTransition is the result of one committed ad status change.
type AdTransition struct {
	Ad     Ad
	Action Action
}

// TransitionAd moves an ad to next inside one transaction. decide receives
// the current status and either returns the action kind to record or an
// error that aborts the transition with no partial writes.
func (s *Store) TransitionAd(ctx context.Context, adID int64, next AdStatus, actorID int64, reasonCode, reasonText string, decide func(prev AdStatus) (ActionKind, error)) (*AdTransition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transition: %w", err)
	}
	defer tx.Rollback()

	ad, err := scanAd(tx.QueryRowContext(ctx, `
		SELECT id, owner_id, title, status, created_at, updated_at, reviewed_at
		FROM ads WHERE id = ?`, adID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Target: TargetAd, ID: adID}
	}
	if err != nil {
		return nil, fmt.Errorf("reading ad %d: %w", adID, err)
	}

	kind, err := decide(ad.Status)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ads SET status = ?, updated_at = datetime('now'), reviewed_at = datetime('now')
		WHERE id = ?`, string(next), adID); err != nil {
		return nil, fmt.Errorf("updating ad %d: %w", adID, err)
	}

	action := Action{
		ActorID:    actorID,
		TargetType: TargetAd,
		TargetID:   adID,
		Kind:       kind,
		ReasonCode: reasonCode,
		ReasonText: reasonText,
		PrevStatus: string(ad.Status),
		NextStatus: string(next),
	}
	actionID, err := insertAction(ctx, tx, action)
	if err != nil {
		return nil, err
	}
	action.ID = actionID

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}

	now := time.Now().UTC()
	action.CreatedAt = now
	ad.Status = next
	ad.UpdatedAt = now
	ad.ReviewedAt = &now

	return &AdTransition{Ad: *ad, Action: action}, nil
}

// VerificationDecision is the result of one committed verification review.
type VerificationDecision struct {
	Request VerificationRequest
	Action  Action
}

// DecideVerification settles a pending request. Approval also flips the
// owning user's verified flag in the same transaction; both writes commit
// or neither does.
func (s *Store) DecideVerification(ctx context.Context, reqID int64, decision VerificationStatus, actorID int64, rejectionCode, rejectionNote string) (*VerificationDecision, error) {
	if decision != VerificationApproved && decision != VerificationRejected {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid verification decision %q", decision)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning decision: %w", err)
	}
	defer tx.Rollback()

	req, err := scanVerification(tx.QueryRowContext(ctx, `
		SELECT id, user_id, status, document_type, rejection_code, rejection_note,
		       created_at, reviewed_at, reviewed_by
		FROM verification_requests WHERE id = ?`, reqID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Target: TargetVerification, ID: reqID}
	}
	if err != nil {
		return nil, fmt.Errorf("reading verification request %d: %w", reqID, err)
	}

	if req.Status != VerificationPending {
		return nil, &InvalidTransitionError{
			Target: TargetVerification, ID: reqID,
			From: string(req.Status), To: string(decision),
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = ?, rejection_code = ?, rejection_note = ?,
		    reviewed_at = datetime('now'), reviewed_by = ?
		WHERE id = ?`,
		string(decision), nullString(rejectionCode), nullString(rejectionNote),
		actorID, reqID); err != nil {
		return nil, fmt.Errorf("updating verification request %d: %w", reqID, err)
	}

	kind := KindReject
	if decision == VerificationApproved {
		kind = KindApprove
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET verified = 1, verified_at = datetime('now')
			WHERE id = ?`, req.UserID); err != nil {
			return nil, fmt.Errorf("marking user %d verified: %w", req.UserID, err)
		}
	}

	action := Action{
		ActorID:    actorID,
		TargetType: TargetVerification,
		TargetID:   reqID,
		Kind:       kind,
		ReasonCode: rejectionCode,
		ReasonText: rejectionNote,
		PrevStatus: string(VerificationPending),
		NextStatus: string(decision),
	}
	actionID, err := insertAction(ctx, tx, action)
	if err != nil {
		return nil, err
	}
	action.ID = actionID

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing decision: %w", err)
	}

	now := time.Now().UTC()
	action.CreatedAt = now
	req.Status = decision
	req.RejectionCode = rejectionCode
	req.RejectionNote = rejectionNote
	req.ReviewedAt = &now
	req.ReviewedBy = actorID

	return &VerificationDecision{Request: *req, Action: action}, nil
}

// ListActions returns the action history for one entity, oldest first.
func (s *Store) ListActions(ctx context.Context, target TargetType, targetID int64) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, target_type, target_id, action, reason_code, reason_text,
		       prev_status, next_status, created_at
		FROM moderation_actions
		WHERE target_type = ? AND target_id = ?
		ORDER BY id`, string(target), targetID)
	if err != nil {
		return nil, fmt.Errorf("querying moderation actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a                      Action
			targetType, kind       string
			reasonCode, reasonText sql.NullString
			ts                     string
		)
		if err := rows.Scan(&a.ID, &a.ActorID, &targetType, &a.TargetID, &kind,
			&reasonCode, &reasonText, &a.PrevStatus, &a.NextStatus, &ts); err != nil {
			return nil, fmt.Errorf("scanning moderation action: %w", err)
		}
		a.TargetType = TargetType(targetType)
		a.Kind = ActionKind(kind)
		if reasonCode.Valid {
			a.ReasonCode = reasonCode.String
		}
		if reasonText.Valid {
			a.ReasonText = reasonText.String
		}
		if t, parseErr := time.Parse(time.DateTime, ts); parseErr == nil {
			a.CreatedAt = t
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ListAdIDs returns ids of ads in the given status, ordered by id. Used by
// the expiry sweep.
func (s *Store) ListAdIDs(ctx context.Context, status AdStatus, updatedBefore time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM ads WHERE status = ? AND updated_at < ? ORDER BY id`,
		string(status), updatedBefore.UTC().Format(time.DateTime))
	if err != nil {
		return nil, fmt.Errorf("listing ads: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUser inserts a user row. Account management belongs to the host
// application; this exists for fixtures and local development.
func (s *Store) CreateUser(ctx context.Context, username, role string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, role) VALUES (?, ?)`, username, role)
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return res.LastInsertId()
}

// UserVerified reports a user's verified flag.
func (s *Store) UserVerified(ctx context.Context, userID int64) (bool, error) {
	var verified int
	err := s.db.QueryRowContext(ctx,
		`SELECT verified FROM users WHERE id = ?`, userID).Scan(&verified)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &NotFoundError{Target: "user", ID: userID}
	}
	if err != nil {
		return false, fmt.Errorf("reading user %d: %w", userID, err)
	}
	return verified != 0, nil
}

// CreateAd inserts a pending ad owned by the given user.
func (s *Store) CreateAd(ctx context.Context, ownerID int64, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ads (owner_id, title) VALUES (?, ?)`, ownerID, title)
	if err != nil {
		return 0, fmt.Errorf("inserting ad: %w", err)
	}
	return res.LastInsertId()
}

// CreateVerification inserts a pending verification request.
func (s *Store) CreateVerification(ctx context.Context, userID int64, documentType string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_requests (user_id, document_type) VALUES (?, ?)`,
		userID, documentType)
	if err != nil {
		return 0, fmt.Errorf("inserting verification request: %w", err)
	}
	return res.LastInsertId()
}

func insertAction(ctx context.Context, tx *sql.Tx, a Action) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO moderation_actions
			(actor_id, target_type, target_id, action, reason_code, reason_text, prev_status, next_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ActorID, string(a.TargetType), a.TargetID, string(a.Kind),
		nullString(a.ReasonCode), nullString(a.ReasonText), a.PrevStatus, a.NextStatus)
	if err != nil {
		return 0, fmt.Errorf("inserting moderation action: %w", err)
	}
	return res.LastInsertId()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAd(sc scanner) (*Ad, error) {
	var (
		ad         Ad
		status     string
		created    string
		updated    string
		reviewedAt sql.NullString
	)
	err := sc.Scan(&ad.ID, &ad.OwnerID, &ad.Title, &status, &created, &updated, &reviewedAt)
	if err != nil {
		return nil, err
	}
	ad.Status = AdStatus(status)
	if t, parseErr := time.Parse(time.DateTime, created); parseErr == nil {
		ad.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.DateTime, updated); parseErr == nil {
		ad.UpdatedAt = t
	}
	if reviewedAt.Valid {
		if t, parseErr := time.Parse(time.DateTime, reviewedAt.String); parseErr == nil {
			ad.ReviewedAt = &t
		}
	}
	return &ad, nil
}

func scanVerification(sc scanner) (*VerificationRequest, error) {
	var (
		req              VerificationRequest
		status           string
		rejCode, rejNote sql.NullString
		created          string
		reviewedAt       sql.NullString
		reviewedBy       sql.NullInt64
	)
	err := sc.Scan(&req.ID, &req.UserID, &status, &req.DocumentType,
		&rejCode, &rejNote, &created, &reviewedAt, &reviewedBy)
	if err != nil {
		return nil, err
	}
	req.Status = VerificationStatus(status)
	if rejCode.Valid {
		req.RejectionCode = rejCode.String
	}
	if rejNote.Valid {
		req.RejectionNote = rejNote.String
	}
	if t, parseErr := time.Parse(time.DateTime, created); parseErr == nil {
		req.CreatedAt = t
	}
	if reviewedAt.Valid {
		if t, parseErr := time.Parse(time.DateTime, reviewedAt.String); parseErr == nil {
			req.ReviewedAt = &t
		}
	}
	if reviewedBy.Valid {
		req.ReviewedBy = reviewedBy.Int64
	}
	return &req, nil
}
