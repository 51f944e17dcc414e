package audit

import (
	"errors"
	"time"
)

// Outcome records whether the attempted action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Action describes what was attempted.
type Action string

const (
	ActionAdApprove               Action = "ad.approve"
	ActionAdReject                Action = "ad.reject"
	ActionAdChangeStatus          Action = "ad.change_status"
	ActionAdBulkApprove           Action = "ad.bulk_approve"
	ActionAdBulkReject            Action = "ad.bulk_reject"
	ActionVerificationApprove     Action = "verification.approve"
	ActionVerificationReject      Action = "verification.reject"
	ActionVerificationBulkApprove Action = "verification.bulk_approve"
	ActionVerificationBulkReject  Action = "verification.bulk_reject"
	ActionNotificationDispatch    Action = "notification.dispatch"
)

// EntityType identifies the kind of entity an action targeted.
type EntityType string

const (
	EntityAd           EntityType = "ad"
	EntityVerification EntityType = "verification"
	EntityUser         EntityType = "user"
	EntityNotification EntityType = "notification"
)

// Entry is a single audit trail record. Entries are append-only: the store
// exposes no update or delete for them.
type Entry struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   int64          `json:"entity_id,omitempty"`
	ActorID    int64          `json:"actor_id,omitempty"`
	ActorRole  string         `json:"actor_role"`
	Outcome    Outcome        `json:"outcome"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Note       string         `json:"note,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// coded is implemented by domain errors that carry a stable audit code.
type coded interface {
	AuditCode() string
}

// ErrorCode derives a stable code from an error for FAILURE entries.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c coded
	if errors.As(err, &c) {
		return c.AuditCode()
	}
	return "internal"
}
