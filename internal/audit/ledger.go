package audit

import (
	"context"
	"log"

	"github.com/AleeDevp/italihub-moderation/internal/auth"
)

// Ledger is the write front-end used by business code. A ledger write must
// never abort the caller: store failures are logged to the process log and
// swallowed here.
type Ledger struct {
	store *Store
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store}
}

// LogSuccess records a successful action outside the Run wrapper, e.g. after
// a fire-and-forget side effect.
func (l *Ledger) LogSuccess(ctx context.Context, action Action, entityType EntityType, actor auth.Actor, entityID int64, note string, metadata map[string]any) {
	l.write(ctx, Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Outcome:    OutcomeSuccess,
		Metadata:   metadata,
		Note:       note,
	})
}

// LogFailure records a failed action outside the Run wrapper.
func (l *Ledger) LogFailure(ctx context.Context, action Action, entityType EntityType, actor auth.Actor, entityID int64, cause error, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if cause != nil {
		metadata["error"] = cause.Error()
	}
	l.write(ctx, Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Outcome:    OutcomeFailure,
		ErrorCode:  ErrorCode(cause),
		Metadata:   metadata,
	})
}

// LogBatch persists many entries as one batch write. Bulk operations use it
// for summary records, in addition to per-item entries.
func (l *Ledger) LogBatch(ctx context.Context, entries []Entry) {
	if l == nil || l.store == nil {
		return
	}
	if err := l.store.LogBatch(ctx, entries); err != nil {
		log.Printf("audit: batch write failed (%d entries): %v", len(entries), err)
	}
}

func (l *Ledger) write(ctx context.Context, entry Entry) {
	if l == nil || l.store == nil {
		return
	}
	if err := l.store.Log(ctx, entry); err != nil {
		log.Printf("audit: write failed for %s/%s: %v", entry.Action, entry.Outcome, err)
	}
}

// Run executes fn and records exactly one audit entry for the attempt: a
// SUCCESS entry when fn returns nil error, a FAILURE entry (with a derived
// error code and the error message in metadata) otherwise. The result and
// error of fn are returned unchanged; Run never swallows a failure.
func Run[T any](ctx context.Context, l *Ledger, action Action, entityType EntityType, actor auth.Actor, entityID int64, note string, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err != nil {
		l.LogFailure(ctx, action, entityType, actor, entityID, err, nil)
		return result, err
	}
	l.LogSuccess(ctx, action, entityType, actor, entityID, note, nil)
	return result, nil
}
