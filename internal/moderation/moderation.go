package moderation

import "time"

// AdStatus is the workflow stage of an ad. The status column is the single
// source of truth; moderation_actions rows are derived history.
type AdStatus string

const (
	AdPending  AdStatus = "pending"
	AdOnline   AdStatus = "online"
	AdRejected AdStatus = "rejected"
	AdExpired  AdStatus = "expired"
)

var validAdStatuses = map[AdStatus]bool{
	AdPending:  true,
	AdOnline:   true,
	AdRejected: true,
	AdExpired:  true,
}

// VerificationStatus is the stage of an identity verification request.
// Requests are terminal once decided.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// TargetType identifies what a moderation action was applied to.
type TargetType string

const (
	TargetAd           TargetType = "ad"
	TargetVerification TargetType = "verification"
	TargetReport       TargetType = "report"
)

// ActionKind is the decision recorded in a moderation action.
type ActionKind string

const (
	KindApprove        ActionKind = "approve"
	KindReject         ActionKind = "reject"
	KindExpire         ActionKind = "expire"
	KindRestore        ActionKind = "restore"
	KindRequestChanges ActionKind = "request_changes"
)

// Ad is the moderated classifieds entity.
type Ad struct {
	ID         int64      `json:"id"`
	OwnerID    int64      `json:"owner_id"`
	Title      string     `json:"title"`
	Status     AdStatus   `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// VerificationRequest is the moderated identity-verification entity.
type VerificationRequest struct {
	ID            int64              `json:"id"`
	UserID        int64              `json:"user_id"`
	Status        VerificationStatus `json:"status"`
	DocumentType  string             `json:"document_type"`
	RejectionCode string             `json:"rejection_code,omitempty"`
	RejectionNote string             `json:"rejection_note,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ReviewedAt    *time.Time         `json:"reviewed_at,omitempty"`
	ReviewedBy    int64              `json:"reviewed_by,omitempty"`
}

// Action is one recorded moderation decision with its before/after status.
type Action struct {
	ID         int64      `json:"id"`
	ActorID    int64      `json:"actor_id"`
	TargetType TargetType `json:"target_type"`
	TargetID   int64      `json:"target_id"`
	Kind       ActionKind `json:"action"`
	ReasonCode string     `json:"reason_code,omitempty"`
	ReasonText string     `json:"reason_text,omitempty"`
	PrevStatus string     `json:"prev_status"`
	NextStatus string     `json:"next_status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// actionKindFor maps a target ad status to the action kind recorded for an
// administrative status change. Leaving expired is a restore rather than a
// plain approve.
func actionKindFor(prev, next AdStatus) ActionKind {
	switch next {
	case AdOnline:
		if prev == AdExpired {
			return KindRestore
		}
		return KindApprove
	case AdRejected:
		return KindReject
	case AdExpired:
		return KindExpire
	default:
		return KindRequestChanges
	}
}

// severityFor maps a target ad status to the severity of the owner's
// notification.
func severityFor(next AdStatus) string {
	switch next {
	case AdOnline:
		return "success"
	case AdRejected:
		return "error"
	case AdExpired:
		return "warning"
	default:
		return "info"
	}
}
