package notifications

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity indicates the importance of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Type categorises the event that triggered the notification. The set is
// closed: unknown types are rejected at the write boundary.
type Type string

const (
	TypeAdApproved           Type = "moderation.ad.approved"
	TypeAdRejected           Type = "moderation.ad.rejected"
	TypeAdStatusChanged      Type = "moderation.ad.status_changed"
	TypeVerificationApproved Type = "moderation.verification.approved"
	TypeVerificationRejected Type = "moderation.verification.rejected"
	TypeAnnouncement         Type = "system.announcement"
)

var validTypes = map[Type]bool{
	TypeAdApproved:           true,
	TypeAdRejected:           true,
	TypeAdStatusChanged:      true,
	TypeVerificationApproved: true,
	TypeVerificationRejected: true,
	TypeAnnouncement:         true,
}

var validSeverities = map[Severity]bool{
	SeverityInfo:    true,
	SeveritySuccess: true,
	SeverityWarning: true,
	SeverityError:   true,
}

// Notification is a single notification record. UserID 0 means broadcast.
// ReadAt is the only mutable field and, once set, is never unset.
type Notification struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      Type            `json:"type"`
	Severity  Severity        `json:"severity"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	DeepLink  string          `json:"deep_link,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`

	// Payload is Data decoded into the shape fixed by Type. Populated on the
	// client when a notification crosses the stream or history boundary;
	// never serialized.
	Payload Payload `json:"-"`
}

// Input is the payload accepted by the dispatcher.
type Input struct {
	UserID   int64    `json:"user_id"`
	Type     Type     `json:"type"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	DeepLink string   `json:"deep_link,omitempty"`
	Data     any      `json:"data,omitempty"`
}

// Validate checks the closed enums. Called before any row is written.
func (in Input) Validate() error {
	if !validTypes[in.Type] {
		return fmt.Errorf("unknown notification type %q", in.Type)
	}
	if !validSeverities[in.Severity] {
		return fmt.Errorf("unknown notification severity %q", in.Severity)
	}
	if in.Title == "" {
		return fmt.Errorf("notification title is required")
	}
	return nil
}

// AdEventData is the payload shape for moderation.ad.* notifications.
type AdEventData struct {
	AdID       int64  `json:"ad_id"`
	PrevStatus string `json:"prev_status"`
	NextStatus string `json:"next_status"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// VerificationEventData is the payload shape for moderation.verification.*.
type VerificationEventData struct {
	RequestID     int64  `json:"request_id"`
	RejectionCode string `json:"rejection_code,omitempty"`
}

// AnnouncementData is the payload shape for system.announcement.
type AnnouncementData struct {
	Link string `json:"link,omitempty"`
}

// Payload is one of the typed data shapes above.
type Payload interface {
	isPayload()
}

func (AdEventData) isPayload()           {}
func (VerificationEventData) isPayload() {}
func (AnnouncementData) isPayload()      {}

// DecodePayload decodes a notification's opaque data blob into the shape
// fixed by its type. Decoding happens at the boundary (stream ingestion,
// history fetch); deeper code never treats data as raw JSON.
func DecodePayload(n Notification) (Payload, error) {
	if len(n.Data) == 0 {
		n.Data = json.RawMessage("{}")
	}
	switch n.Type {
	case TypeAdApproved, TypeAdRejected, TypeAdStatusChanged:
		var p AdEventData
		if err := json.Unmarshal(n.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding ad event data: %w", err)
		}
		return p, nil
	case TypeVerificationApproved, TypeVerificationRejected:
		var p VerificationEventData
		if err := json.Unmarshal(n.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding verification event data: %w", err)
		}
		return p, nil
	case TypeAnnouncement:
		var p AnnouncementData
		if err := json.Unmarshal(n.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding announcement data: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}
}
