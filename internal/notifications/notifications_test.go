package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/AleeDevp/italihub-moderation/internal/auth"
	"github.com/AleeDevp/italihub-moderation/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func mustCreate(t *testing.T, store *Store, in Input) *Notification {
	t.Helper()
	n, err := store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n
}

func infoInput(userID int64, title string) Input {
	return Input{
		UserID:   userID,
		Type:     TypeAnnouncement,
		Severity: SeverityInfo,
		Title:    title,
	}
}

func TestCreateValidatesInput(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
	}{
		{"unknown type", Input{UserID: 1, Type: "mystery", Severity: SeverityInfo, Title: "x"}},
		{"unknown severity", Input{UserID: 1, Type: TypeAnnouncement, Severity: "loud", Title: "x"}},
		{"missing title", Input{UserID: 1, Type: TypeAnnouncement, Severity: SeverityInfo}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Create(ctx, tc.in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestListPageCursor(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustCreate(t, store, infoInput(1, "n"))
	}
	mustCreate(t, store, infoInput(2, "other user"))
	broadcast := mustCreate(t, store, infoInput(0, "for everyone"))

	// User 1 sees their 5 rows plus the broadcast, newest first.
	page, err := store.ListPage(ctx, 1, 4, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page.Items) != 4 {
		t.Fatalf("got %d items, want 4", len(page.Items))
	}
	if page.Items[0].ID != broadcast.ID {
		t.Errorf("first item = %d, want broadcast %d", page.Items[0].ID, broadcast.ID)
	}
	if page.NextCursor == nil {
		t.Fatal("expected a next cursor")
	}

	seen := map[int64]bool{}
	for _, n := range page.Items {
		seen[n.ID] = true
	}

	// Second page continues below the cursor with no repeats.
	page2, err := store.ListPage(ctx, 1, 4, page.NextCursor.CursorID)
	if err != nil {
		t.Fatalf("ListPage page 2: %v", err)
	}
	if len(page2.Items) != 2 {
		t.Fatalf("got %d items on page 2, want 2", len(page2.Items))
	}
	for _, n := range page2.Items {
		if seen[n.ID] {
			t.Errorf("notification %d repeated across pages", n.ID)
		}
		if n.UserID == 2 {
			t.Errorf("user 2's notification %d leaked into user 1's feed", n.ID)
		}
	}
	if page2.NextCursor != nil {
		t.Errorf("unexpected cursor on final page: %+v", page2.NextCursor)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a := mustCreate(t, store, infoInput(1, "a"))
	b := mustCreate(t, store, infoInput(1, "b"))
	other := mustCreate(t, store, infoInput(2, "not yours"))

	marked, err := store.MarkRead(ctx, 1, []int64{a.ID, b.ID, other.ID})
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if marked != 2 {
		t.Errorf("marked = %d, want 2 (other user's row must not match)", marked)
	}

	got, err := store.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ReadAt == nil {
		t.Fatal("ReadAt not set")
	}
	first := *got.ReadAt

	// Second call is a no-op and keeps the original timestamp.
	marked, err = store.MarkRead(ctx, 1, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if marked != 0 {
		t.Errorf("second call marked = %d, want 0", marked)
	}
	got, _ = store.GetByID(ctx, a.ID)
	if got.ReadAt == nil || !got.ReadAt.Equal(first) {
		t.Errorf("ReadAt changed: %v -> %v", first, got.ReadAt)
	}

	// Other user's row untouched.
	got, _ = store.GetByID(ctx, other.ID)
	if got.ReadAt != nil {
		t.Error("other user's notification was marked read")
	}
}

func TestMarkReadBroadcastPerUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	broadcast := mustCreate(t, store, infoInput(0, "maintenance tonight"))

	marked, err := store.MarkRead(ctx, 1, []int64{broadcast.ID})
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}

	// Reader sees it read; every other user still sees it unread.
	page, err := store.ListPage(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ReadAt == nil {
		t.Errorf("reader's view = %+v, want read broadcast", page.Items)
	}
	page, err = store.ListPage(ctx, 2, 10, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ReadAt != nil {
		t.Errorf("other user's view = %+v, want unread broadcast", page.Items)
	}

	if count, _ := store.UnreadCount(ctx, 1); count != 0 {
		t.Errorf("reader unread = %d, want 0", count)
	}
	if count, _ := store.UnreadCount(ctx, 2); count != 1 {
		t.Errorf("other user unread = %d, want 1", count)
	}

	// Re-marking is a no-op, same as owned rows.
	marked, err = store.MarkRead(ctx, 1, []int64{broadcast.ID})
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if marked != 0 {
		t.Errorf("second call marked = %d, want 0", marked)
	}
}

func TestUnreadCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	a := mustCreate(t, store, infoInput(1, "a"))
	mustCreate(t, store, infoInput(1, "b"))

	count, err := store.UnreadCount(ctx, 1)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if _, err := store.MarkRead(ctx, 1, []int64{a.ID}); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	count, _ = store.UnreadCount(ctx, 1)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestDispatcherPersistsAndFansOut(t *testing.T) {
	store := setupStore(t)
	hub := NewHub(0)
	d := NewDispatcher(store, hub, nil)
	ctx := context.Background()

	sub := hub.Subscribe(7)
	defer hub.Unsubscribe(sub)

	n, err := d.Dispatch(ctx, Input{
		UserID:   7,
		Type:     TypeAdApproved,
		Severity: SeveritySuccess,
		Title:    "Your ad is online",
		Data:     AdEventData{AdID: 3, PrevStatus: "pending", NextStatus: "online"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n.ID == 0 {
		t.Error("dispatched notification has no id")
	}

	select {
	case got := <-sub.C:
		if got.ID != n.ID {
			t.Errorf("subscriber got %d, want %d", got.ID, n.ID)
		}
		var data AdEventData
		if err := json.Unmarshal(got.Data, &data); err != nil {
			t.Fatalf("decoding data: %v", err)
		}
		if data.AdID != 3 || data.NextStatus != "online" {
			t.Errorf("data = %+v", data)
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}

	// Persisted regardless of live delivery.
	stored, err := store.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Title != "Your ad is online" {
		t.Errorf("stored title = %q", stored.Title)
	}
}

func TestDispatcherRejectsInvalidInput(t *testing.T) {
	store := setupStore(t)
	d := NewDispatcher(store, nil, nil)

	if _, err := d.Dispatch(context.Background(), Input{UserID: 1, Type: "nope", Severity: SeverityInfo, Title: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDispatcherWebhookDelivery(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding webhook body: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
	}))
	defer srv.Close()

	err := store.SetPreference(ctx, Preference{
		UserID:         5,
		TypeFilter:     "moderation.ad.*",
		SeverityFilter: SeverityWarning,
		WebhookURL:     srv.URL,
	})
	if err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	d := NewDispatcher(store, nil, nil)

	// error >= warning and type matches: delivered.
	if _, err := d.Dispatch(ctx, Input{
		UserID: 5, Type: TypeAdRejected, Severity: SeverityError,
		Title: "Your ad was rejected", Body: "it was **spam**",
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// info < warning: filtered out.
	if _, err := d.Dispatch(ctx, Input{
		UserID: 5, Type: TypeAdStatusChanged, Severity: SeverityInfo, Title: "changed",
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// type does not match the glob: filtered out.
	if _, err := d.Dispatch(ctx, Input{
		UserID: 5, Type: TypeAnnouncement, Severity: SeverityError, Title: "maintenance",
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("got %d webhook calls, want 1", len(bodies))
	}
	html, _ := bodies[0]["body_html"].(string)
	if !strings.Contains(html, "<strong>spam</strong>") {
		t.Errorf("body_html = %q, want rendered markdown", html)
	}
}

func newAuthedRouter(store *Store, hub *Hub, actor auth.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
		})
	})
	RegisterRoutes(r, store, hub)
	return r
}

func TestListRoute(t *testing.T) {
	store := setupStore(t)
	h := newAuthedRouter(store, NewHub(0), auth.Actor{ID: 1, Role: auth.RoleUser})

	mustCreate(t, store, infoInput(1, "hello"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications?take=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var page Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "hello" {
		t.Errorf("page = %+v", page)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications?take=banana", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid take status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications?cursorId=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid cursorId status = %d, want 400", rec.Code)
	}
}

func TestMarkReadRoute(t *testing.T) {
	store := setupStore(t)
	h := newAuthedRouter(store, NewHub(0), auth.Actor{ID: 1, Role: auth.RoleUser})

	n := mustCreate(t, store, infoInput(1, "hello"))

	body := strings.NewReader(fmt.Sprintf(`{"ids":[%d]}`, n.ID))
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/mark-read", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := store.GetByID(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ReadAt == nil {
		t.Error("notification not marked read")
	}
}

func TestPreferenceRoutes(t *testing.T) {
	store := setupStore(t)
	h := newAuthedRouter(store, NewHub(0), auth.Actor{ID: 1, Role: auth.RoleUser})

	body := strings.NewReader(`{"channel":"webhook","type_filter":"moderation.**","severity_filter":"warning","webhook_url":"https://example.test/hook"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/notifications/preferences", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/preferences", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var prefs []Preference
	if err := json.Unmarshal(rec.Body.Bytes(), &prefs); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(prefs) != 1 || prefs[0].TypeFilter != "moderation.**" {
		t.Errorf("prefs = %+v", prefs)
	}
}
