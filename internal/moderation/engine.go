package moderation

import (
	"context"
	"fmt"
	"log"

	"github.com/AleeDevp/italihub-moderation/internal/audit"
	"github.com/AleeDevp/italihub-moderation/internal/auth"
	"github.com/AleeDevp/italihub-moderation/internal/notifications"
)

// Notifier delivers a notification after a moderation decision has been
// committed. Delivery failures never roll back the decision.
type Notifier interface {
	Dispatch(ctx context.Context, in notifications.Input) (*notifications.Notification, error)
}

// Engine performs moderation decisions: validate, transition inside one
// transaction, write the audit trail, then notify the affected user.
type Engine struct {
	store    *Store
	ledger   *audit.Ledger
	notifier Notifier
}

// NewEngine creates an Engine. notifier may be nil, which disables
// notifications (useful for the expiry sweep's dry runs).
func NewEngine(store *Store, ledger *audit.Ledger, notifier Notifier) *Engine {
	return &Engine{store: store, ledger: ledger, notifier: notifier}
}

// Store exposes the engine's read side for route handlers.
func (e *Engine) Store() *Store { return e.store }

// ApproveAd publishes a pending ad.
func (e *Engine) ApproveAd(ctx context.Context, actor auth.Actor, adID int64) (*Ad, error) {
	tr, err := audit.Run(ctx, e.ledger, audit.ActionAdApprove, audit.EntityAd, actor, adID, "",
		func(ctx context.Context) (*AdTransition, error) {
			return e.store.TransitionAd(ctx, adID, AdOnline, actor.ID, "", "",
				func(prev AdStatus) (ActionKind, error) {
					if prev != AdPending {
						return "", &InvalidTransitionError{
							Target: TargetAd, ID: adID,
							From: string(prev), To: string(AdOnline),
						}
					}
					return KindApprove, nil
				})
		})
	if err != nil {
		return nil, err
	}
	e.notifyAdChange(ctx, tr)
	return &tr.Ad, nil
}

// RejectAd rejects a pending ad with a reason from the closed code set.
func (e *Engine) RejectAd(ctx context.Context, actor auth.Actor, adID int64, reasonCode, reasonText string) (*Ad, error) {
	if !validAdReason(reasonCode) {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown ad rejection reason %q", reasonCode)}
	}
	tr, err := audit.Run(ctx, e.ledger, audit.ActionAdReject, audit.EntityAd, actor, adID, reasonCode,
		func(ctx context.Context) (*AdTransition, error) {
			return e.store.TransitionAd(ctx, adID, AdRejected, actor.ID, reasonCode, reasonText,
				func(prev AdStatus) (ActionKind, error) {
					if prev != AdPending {
						return "", &InvalidTransitionError{
							Target: TargetAd, ID: adID,
							From: string(prev), To: string(AdRejected),
						}
					}
					return KindReject, nil
				})
		})
	if err != nil {
		return nil, err
	}
	e.notifyAdChange(ctx, tr)
	return &tr.Ad, nil
}

// ChangeAdStatus moves an ad to any valid status regardless of the normal
// review flow. Admin-only at the route layer; the only constraint kept here
// is that the new status must differ from the current one.
func (e *Engine) ChangeAdStatus(ctx context.Context, actor auth.Actor, adID int64, next AdStatus, reasonCode, reasonText string) (*Ad, error) {
	if !validAdStatuses[next] {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown ad status %q", next)}
	}
	if reasonCode != "" && !validAdReason(reasonCode) {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown ad rejection reason %q", reasonCode)}
	}
	tr, err := audit.Run(ctx, e.ledger, audit.ActionAdChangeStatus, audit.EntityAd, actor, adID, string(next),
		func(ctx context.Context) (*AdTransition, error) {
			return e.store.TransitionAd(ctx, adID, next, actor.ID, reasonCode, reasonText,
				func(prev AdStatus) (ActionKind, error) {
					if prev == next {
						return "", &InvalidTransitionError{
							Target: TargetAd, ID: adID,
							From: string(prev), To: string(next),
						}
					}
					return actionKindFor(prev, next), nil
				})
		})
	if err != nil {
		return nil, err
	}
	e.notifyAdChange(ctx, tr)
	return &tr.Ad, nil
}

// ApproveVerification approves a pending request and marks the user verified.
func (e *Engine) ApproveVerification(ctx context.Context, actor auth.Actor, reqID int64) (*VerificationRequest, error) {
	dec, err := audit.Run(ctx, e.ledger, audit.ActionVerificationApprove, audit.EntityVerification, actor, reqID, "",
		func(ctx context.Context) (*VerificationDecision, error) {
			return e.store.DecideVerification(ctx, reqID, VerificationApproved, actor.ID, "", "")
		})
	if err != nil {
		return nil, err
	}
	e.notifyVerification(ctx, dec)
	return &dec.Request, nil
}

// RejectVerification rejects a pending request. The rejection code is
// optional; when present it must come from the closed code set.
func (e *Engine) RejectVerification(ctx context.Context, actor auth.Actor, reqID int64, rejectionCode, rejectionNote string) (*VerificationRequest, error) {
	if !validVerificationReason(rejectionCode) {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown verification rejection code %q", rejectionCode)}
	}
	dec, err := audit.Run(ctx, e.ledger, audit.ActionVerificationReject, audit.EntityVerification, actor, reqID, rejectionCode,
		func(ctx context.Context) (*VerificationDecision, error) {
			return e.store.DecideVerification(ctx, reqID, VerificationRejected, actor.ID, rejectionCode, rejectionNote)
		})
	if err != nil {
		return nil, err
	}
	e.notifyVerification(ctx, dec)
	return &dec.Request, nil
}

func (e *Engine) notifyAdChange(ctx context.Context, tr *AdTransition) {
	if e.notifier == nil {
		return
	}
	in := notifications.Input{
		UserID:   tr.Ad.OwnerID,
		Severity: notifications.Severity(severityFor(tr.Ad.Status)),
		DeepLink: fmt.Sprintf("/ads/%d", tr.Ad.ID),
		Data: notifications.AdEventData{
			AdID:       tr.Ad.ID,
			PrevStatus: tr.Action.PrevStatus,
			NextStatus: tr.Action.NextStatus,
			ReasonCode: tr.Action.ReasonCode,
		},
	}
	switch tr.Ad.Status {
	case AdOnline:
		in.Type = notifications.TypeAdApproved
		in.Title = "Your ad is online"
		in.Body = fmt.Sprintf("%q has been approved and is now visible.", tr.Ad.Title)
	case AdRejected:
		in.Type = notifications.TypeAdRejected
		in.Title = "Your ad was rejected"
		in.Body = fmt.Sprintf("%q was rejected: %s.", tr.Ad.Title, HumanizeAdReason(tr.Action.ReasonCode))
	default:
		in.Type = notifications.TypeAdStatusChanged
		in.Title = "Your ad status changed"
		in.Body = fmt.Sprintf("%q is now %s.", tr.Ad.Title, tr.Ad.Status)
	}
	if _, err := e.notifier.Dispatch(ctx, in); err != nil {
		log.Printf("moderation: notifying owner %d about ad %d: %v", tr.Ad.OwnerID, tr.Ad.ID, err)
	}
}

func (e *Engine) notifyVerification(ctx context.Context, dec *VerificationDecision) {
	if e.notifier == nil {
		return
	}
	in := notifications.Input{
		UserID:   dec.Request.UserID,
		DeepLink: "/account/verification",
		Data: notifications.VerificationEventData{
			RequestID:     dec.Request.ID,
			RejectionCode: dec.Request.RejectionCode,
		},
	}
	if dec.Request.Status == VerificationApproved {
		in.Type = notifications.TypeVerificationApproved
		in.Severity = notifications.SeveritySuccess
		in.Title = "Identity verified"
		in.Body = "Your verification request has been approved."
	} else {
		in.Type = notifications.TypeVerificationRejected
		in.Severity = notifications.SeverityError
		in.Title = "Verification rejected"
		in.Body = fmt.Sprintf("Your verification request was rejected: %s.",
			HumanizeVerificationReason(dec.Request.RejectionCode))
	}
	if _, err := e.notifier.Dispatch(ctx, in); err != nil {
		log.Printf("moderation: notifying user %d about verification %d: %v", dec.Request.UserID, dec.Request.ID, err)
	}
}
