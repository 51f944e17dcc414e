package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleeDevp/italihub-moderation/internal/audit"
	"github.com/AleeDevp/italihub-moderation/internal/auth"
)

// MaxBulkSize caps how many ids one bulk request may carry.
const MaxBulkSize = 50

// BulkFailure records one item that could not be processed.
type BulkFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BulkResult summarises a bulk operation. Failures are isolated per item:
// one bad id never blocks the rest of the batch.
type BulkResult struct {
	Successful []int64       `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
}

// BulkApproveAds approves each pending ad in ids, in order.
func (e *Engine) BulkApproveAds(ctx context.Context, actor auth.Actor, ids []int64) BulkResult {
	res, errs := e.runBulk(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := e.ApproveAd(ctx, actor, id)
		return err
	})
	e.logBulkSummary(ctx, audit.ActionAdBulkApprove, audit.EntityAd, actor, res, errs)
	return res
}

// BulkRejectAds rejects each pending ad in ids with one shared reason.
func (e *Engine) BulkRejectAds(ctx context.Context, actor auth.Actor, ids []int64, reasonCode, reasonText string) (BulkResult, error) {
	if !validAdReason(reasonCode) {
		return BulkResult{}, &ValidationError{Msg: fmt.Sprintf("unknown ad rejection reason %q", reasonCode)}
	}
	res, errs := e.runBulk(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := e.RejectAd(ctx, actor, id, reasonCode, reasonText)
		return err
	})
	e.logBulkSummary(ctx, audit.ActionAdBulkReject, audit.EntityAd, actor, res, errs)
	return res, nil
}

// BulkApproveVerifications approves each pending request in ids, in order.
func (e *Engine) BulkApproveVerifications(ctx context.Context, actor auth.Actor, ids []int64) BulkResult {
	res, errs := e.runBulk(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := e.ApproveVerification(ctx, actor, id)
		return err
	})
	e.logBulkSummary(ctx, audit.ActionVerificationBulkApprove, audit.EntityVerification, actor, res, errs)
	return res
}

// BulkRejectVerifications rejects each pending request in ids with one
// shared rejection code.
func (e *Engine) BulkRejectVerifications(ctx context.Context, actor auth.Actor, ids []int64, rejectionCode, rejectionNote string) (BulkResult, error) {
	if !validVerificationReason(rejectionCode) {
		return BulkResult{}, &ValidationError{Msg: fmt.Sprintf("unknown verification rejection code %q", rejectionCode)}
	}
	res, errs := e.runBulk(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := e.RejectVerification(ctx, actor, id, rejectionCode, rejectionNote)
		return err
	})
	e.logBulkSummary(ctx, audit.ActionVerificationBulkReject, audit.EntityVerification, actor, res, errs)
	return res, nil
}

func (e *Engine) runBulk(ctx context.Context, ids []int64, op func(context.Context, int64) error) (BulkResult, []error) {
	res := BulkResult{Successful: []int64{}, Failed: []BulkFailure{}}
	var errs []error
	for _, id := range ids {
		if err := op(ctx, id); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Error: err.Error()})
			errs = append(errs, err)
			continue
		}
		res.Successful = append(res.Successful, id)
	}
	return res, errs
}

// logBulkSummary writes the batch-level trail on top of the per-item
// entries the individual operations already produced. Both summary rows
// land in one batch write.
func (e *Engine) logBulkSummary(ctx context.Context, action audit.Action, entity audit.EntityType, actor auth.Actor, res BulkResult, errs []error) {
	entries := []audit.Entry{{
		Action:     action,
		EntityType: entity,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Outcome:    audit.OutcomeSuccess,
		Metadata: map[string]any{
			"successful": res.Successful,
			"failed":     len(res.Failed),
		},
		Note: fmt.Sprintf("%d succeeded, %d failed", len(res.Successful), len(res.Failed)),
	}}

	if len(errs) > 0 {
		failedIDs := make([]int64, 0, len(res.Failed))
		for _, f := range res.Failed {
			failedIDs = append(failedIDs, f.ID)
		}
		cause := errors.Join(errs...)
		entries = append(entries, audit.Entry{
			Action:     action,
			EntityType: entity,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Outcome:    audit.OutcomeFailure,
			ErrorCode:  audit.ErrorCode(cause),
			Metadata: map[string]any{
				"error":      cause.Error(),
				"failed_ids": failedIDs,
			},
		})
	}
	e.ledger.LogBatch(ctx, entries)
}
