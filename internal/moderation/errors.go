package moderation

import "fmt"

// NotFoundError reports a missing moderated entity.
type NotFoundError struct {
	Target TargetType
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Target, e.ID)
}

// AuditCode implements the audit ledger's error-code derivation.
func (e *NotFoundError) AuditCode() string { return "not_found" }

// InvalidTransitionError reports an illegal state transition, e.g. approving
// an ad that is not pending.
type InvalidTransitionError struct {
	Target TargetType
	ID     int64
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move %s %d from %s to %s", e.Target, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) AuditCode() string { return "invalid_transition" }

// ValidationError reports malformed input rejected before any transaction
// begins.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) AuditCode() string { return "validation" }
