package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/AleeDevp/italihub-moderation/internal/audit"
	"github.com/AleeDevp/italihub-moderation/internal/auth"
	"github.com/AleeDevp/italihub-moderation/internal/db"
	"github.com/AleeDevp/italihub-moderation/internal/notifications"
)

type fakeNotifier struct {
	inputs []notifications.Input
	fail   bool
}

func (f *fakeNotifier) Dispatch(_ context.Context, in notifications.Input) (*notifications.Notification, error) {
	if f.fail {
		return nil, errors.New("notifier down")
	}
	f.inputs = append(f.inputs, in)
	return &notifications.Notification{ID: int64(len(f.inputs))}, nil
}

type fixture struct {
	engine   *Engine
	store    *Store
	audits   *audit.Store
	notifier *fakeNotifier
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := NewStore(database)
	audits := audit.NewStore(database)
	notifier := &fakeNotifier{}
	return &fixture{
		engine:   NewEngine(store, audit.NewLedger(audits), notifier),
		store:    store,
		audits:   audits,
		notifier: notifier,
	}
}

func (f *fixture) seedAd(t *testing.T, title string) (ownerID, adID int64) {
	t.Helper()
	ctx := context.Background()
	ownerID, err := f.store.CreateUser(ctx, "owner-"+title, auth.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	adID, err = f.store.CreateAd(ctx, ownerID, title)
	if err != nil {
		t.Fatalf("CreateAd: %v", err)
	}
	return ownerID, adID
}

var moderator = auth.Actor{ID: 99, Role: auth.RoleModerator}

func TestApproveAd(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	ownerID, adID := f.seedAd(t, "vespa px 125")

	ad, err := f.engine.ApproveAd(ctx, moderator, adID)
	if err != nil {
		t.Fatalf("ApproveAd: %v", err)
	}
	if ad.Status != AdOnline {
		t.Errorf("status = %q, want %q", ad.Status, AdOnline)
	}
	if ad.ReviewedAt == nil {
		t.Error("ReviewedAt not set")
	}

	actions, err := f.store.ListActions(ctx, TargetAd, adID)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if actions[0].Kind != KindApprove || actions[0].PrevStatus != "pending" || actions[0].NextStatus != "online" {
		t.Errorf("unexpected action: %+v", actions[0])
	}

	if len(f.notifier.inputs) != 1 {
		t.Fatalf("got %d notifications, want 1", len(f.notifier.inputs))
	}
	in := f.notifier.inputs[0]
	if in.UserID != ownerID || in.Type != notifications.TypeAdApproved || in.Severity != notifications.SeveritySuccess {
		t.Errorf("unexpected notification: %+v", in)
	}

	entries, err := f.audits.Query(ctx, audit.QueryFilter{Action: audit.ActionAdApprove, EntityID: adID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeSuccess {
		t.Errorf("expected one success audit entry, got %+v", entries)
	}
}

func TestApproveAdNotPending(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	_, adID := f.seedAd(t, "old sofa")

	if _, err := f.engine.ApproveAd(ctx, moderator, adID); err != nil {
		t.Fatalf("first ApproveAd: %v", err)
	}
	f.notifier.inputs = nil

	_, err := f.engine.ApproveAd(ctx, moderator, adID)
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}

	// Failed attempt leaves no partial writes.
	ad, err := f.store.GetAd(ctx, adID)
	if err != nil {
		t.Fatalf("GetAd: %v", err)
	}
	if ad.Status != AdOnline {
		t.Errorf("status = %q, want %q", ad.Status, AdOnline)
	}
	actions, _ := f.store.ListActions(ctx, TargetAd, adID)
	if len(actions) != 1 {
		t.Errorf("got %d actions, want 1", len(actions))
	}
	if len(f.notifier.inputs) != 0 {
		t.Errorf("got %d notifications, want 0", len(f.notifier.inputs))
	}

	entries, err := f.audits.Query(ctx, audit.QueryFilter{Action: audit.ActionAdApprove, Outcome: audit.OutcomeFailure})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].ErrorCode != "invalid_transition" {
		t.Errorf("expected one invalid_transition failure entry, got %+v", entries)
	}
}

func TestApproveAdNotFound(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.ApproveAd(context.Background(), moderator, 4242)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestRejectAd(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	ownerID, adID := f.seedAd(t, "miracle diet pills")

	ad, err := f.engine.RejectAd(ctx, moderator, adID, ReasonProhibited, "not allowed")
	if err != nil {
		t.Fatalf("RejectAd: %v", err)
	}
	if ad.Status != AdRejected {
		t.Errorf("status = %q, want %q", ad.Status, AdRejected)
	}

	if len(f.notifier.inputs) != 1 {
		t.Fatalf("got %d notifications, want 1", len(f.notifier.inputs))
	}
	in := f.notifier.inputs[0]
	if in.UserID != ownerID || in.Type != notifications.TypeAdRejected || in.Severity != notifications.SeverityError {
		t.Errorf("unexpected notification: %+v", in)
	}
	data, ok := in.Data.(notifications.AdEventData)
	if !ok {
		t.Fatalf("data type = %T", in.Data)
	}
	if data.ReasonCode != ReasonProhibited {
		t.Errorf("reason code = %q, want %q", data.ReasonCode, ReasonProhibited)
	}
}

func TestRejectAdUnknownReason(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	_, adID := f.seedAd(t, "bike")

	_, err := f.engine.RejectAd(ctx, moderator, adID, "BECAUSE", "")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	ad, _ := f.store.GetAd(ctx, adID)
	if ad.Status != AdPending {
		t.Errorf("status = %q, want %q", ad.Status, AdPending)
	}
	actions, _ := f.store.ListActions(ctx, TargetAd, adID)
	if len(actions) != 0 {
		t.Errorf("got %d actions, want 0", len(actions))
	}
}

func TestChangeAdStatus(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	_, adID := f.seedAd(t, "garden table")
	admin := auth.Actor{ID: 1, Role: auth.RoleAdmin}

	// pending -> expired skips the review flow entirely.
	ad, err := f.engine.ChangeAdStatus(ctx, admin, adID, AdExpired, "", "cleanup")
	if err != nil {
		t.Fatalf("ChangeAdStatus: %v", err)
	}
	if ad.Status != AdExpired {
		t.Fatalf("status = %q, want %q", ad.Status, AdExpired)
	}

	// expired -> online is recorded as a restore.
	if _, err := f.engine.ChangeAdStatus(ctx, admin, adID, AdOnline, "", ""); err != nil {
		t.Fatalf("ChangeAdStatus restore: %v", err)
	}
	actions, err := f.store.ListActions(ctx, TargetAd, adID)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Kind != KindExpire {
		t.Errorf("first action kind = %q, want %q", actions[0].Kind, KindExpire)
	}
	if actions[1].Kind != KindRestore {
		t.Errorf("second action kind = %q, want %q", actions[1].Kind, KindRestore)
	}

	// Same status is the one transition always refused.
	_, err = f.engine.ChangeAdStatus(ctx, admin, adID, AdOnline, "", "")
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}

	_, err = f.engine.ChangeAdStatus(ctx, admin, adID, AdStatus("archived"), "", "")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestNotifierFailureDoesNotUndoDecision(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	_, adID := f.seedAd(t, "lamp")
	f.notifier.fail = true

	ad, err := f.engine.ApproveAd(ctx, moderator, adID)
	if err != nil {
		t.Fatalf("ApproveAd: %v", err)
	}
	if ad.Status != AdOnline {
		t.Errorf("status = %q, want %q", ad.Status, AdOnline)
	}
}

func TestApproveVerification(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	userID, err := f.store.CreateUser(ctx, "applicant", auth.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	reqID, err := f.store.CreateVerification(ctx, userID, "id_card")
	if err != nil {
		t.Fatalf("CreateVerification: %v", err)
	}

	req, err := f.engine.ApproveVerification(ctx, moderator, reqID)
	if err != nil {
		t.Fatalf("ApproveVerification: %v", err)
	}
	if req.Status != VerificationApproved {
		t.Errorf("status = %q, want %q", req.Status, VerificationApproved)
	}
	if req.ReviewedBy != moderator.ID {
		t.Errorf("ReviewedBy = %d, want %d", req.ReviewedBy, moderator.ID)
	}

	verified, err := f.store.UserVerified(ctx, userID)
	if err != nil {
		t.Fatalf("UserVerified: %v", err)
	}
	if !verified {
		t.Error("user not marked verified")
	}

	if len(f.notifier.inputs) != 1 || f.notifier.inputs[0].Type != notifications.TypeVerificationApproved {
		t.Errorf("unexpected notifications: %+v", f.notifier.inputs)
	}

	// A settled request is terminal.
	_, err = f.engine.RejectVerification(ctx, moderator, reqID, VerifyReasonMismatch, "")
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestRejectVerification(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	userID, err := f.store.CreateUser(ctx, "applicant", auth.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	reqID, err := f.store.CreateVerification(ctx, userID, "passport")
	if err != nil {
		t.Fatalf("CreateVerification: %v", err)
	}

	req, err := f.engine.RejectVerification(ctx, moderator, reqID, VerifyReasonUnreadable, "blurry scan")
	if err != nil {
		t.Fatalf("RejectVerification: %v", err)
	}
	if req.Status != VerificationRejected || req.RejectionCode != VerifyReasonUnreadable {
		t.Errorf("unexpected request: %+v", req)
	}

	verified, err := f.store.UserVerified(ctx, userID)
	if err != nil {
		t.Fatalf("UserVerified: %v", err)
	}
	if verified {
		t.Error("rejected request must not verify the user")
	}

	if len(f.notifier.inputs) != 1 || f.notifier.inputs[0].Severity != notifications.SeverityError {
		t.Errorf("unexpected notifications: %+v", f.notifier.inputs)
	}
}

func TestBulkApproveAdsMixed(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	_, pendingID := f.seedAd(t, "first")
	_, decidedID := f.seedAd(t, "second")
	if _, err := f.engine.ApproveAd(ctx, moderator, decidedID); err != nil {
		t.Fatalf("ApproveAd: %v", err)
	}
	f.notifier.inputs = nil
	const missingID = int64(9000)

	res := f.engine.BulkApproveAds(ctx, moderator, []int64{pendingID, decidedID, missingID})

	if len(res.Successful) != 1 || res.Successful[0] != pendingID {
		t.Errorf("successful = %v, want [%d]", res.Successful, pendingID)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("got %d failures, want 2", len(res.Failed))
	}
	if res.Failed[0].ID != decidedID || res.Failed[1].ID != missingID {
		t.Errorf("failed = %+v", res.Failed)
	}

	// One notification for the single successful approval.
	if len(f.notifier.inputs) != 1 {
		t.Errorf("got %d notifications, want 1", len(f.notifier.inputs))
	}

	// Batch summary: one success entry always, one failure entry because
	// the batch had failures.
	entries, err := f.audits.Query(ctx, audit.QueryFilter{Action: audit.ActionAdBulkApprove})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d summary entries, want 2", len(entries))
	}
	outcomes := map[audit.Outcome]bool{}
	for _, e := range entries {
		outcomes[e.Outcome] = true
	}
	if !outcomes[audit.OutcomeSuccess] || !outcomes[audit.OutcomeFailure] {
		t.Errorf("summary outcomes = %+v", entries)
	}
}

func TestBulkRejectAdsAllValid(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	_, a := f.seedAd(t, "one")
	_, b := f.seedAd(t, "two")

	res, err := f.engine.BulkRejectAds(ctx, moderator, []int64{a, b}, ReasonSpam, "")
	if err != nil {
		t.Fatalf("BulkRejectAds: %v", err)
	}
	if len(res.Successful) != 2 || len(res.Failed) != 0 {
		t.Errorf("result = %+v", res)
	}

	// No failure summary when every item succeeded.
	entries, err := f.audits.Query(ctx, audit.QueryFilter{Action: audit.ActionAdBulkReject, Outcome: audit.OutcomeFailure})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d failure summaries, want 0", len(entries))
	}
}

func TestBulkRejectAdsUnknownReason(t *testing.T) {
	f := setupEngine(t)
	_, adID := f.seedAd(t, "chair")

	_, err := f.engine.BulkRejectAds(context.Background(), moderator, []int64{adID}, "NOPE", "")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestBulkApproveVerifications(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	userID, err := f.store.CreateUser(ctx, "applicant", auth.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	reqID, err := f.store.CreateVerification(ctx, userID, "id_card")
	if err != nil {
		t.Fatalf("CreateVerification: %v", err)
	}

	res := f.engine.BulkApproveVerifications(ctx, moderator, []int64{reqID, 777})
	if len(res.Successful) != 1 || res.Successful[0] != reqID {
		t.Errorf("successful = %v, want [%d]", res.Successful, reqID)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != 777 {
		t.Errorf("failed = %+v", res.Failed)
	}
}
