package notifications

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// HistoryAPI is the server surface the state store loads from. The HTTP
// client implements it; tests substitute a fake.
type HistoryAPI interface {
	ListPage(ctx context.Context, take int, cursorID int64) (*Page, error)
	MarkRead(ctx context.Context, ids []int64) error
}

// StoreState is a snapshot of the client-side notification state.
type StoreState struct {
	Items        []Notification
	UnreadCount  int
	NextCursorID int64
	HasMore      bool
	Loading      bool
	Connected    bool
}

// StateStore holds the in-memory notification list, unread counter and
// history cursor for one session. All mutation goes through its action
// methods; UnreadCount always equals the number of loaded items with no
// read timestamp.
type StateStore struct {
	api      HistoryAPI
	pageSize int

	mu    sync.Mutex
	state StoreState
	seen  map[int64]bool
}

// NewStateStore creates an empty store over the given API.
func NewStateStore(api HistoryAPI, pageSize int) *StateStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &StateStore{
		api:      api,
		pageSize: pageSize,
		seen:     make(map[int64]bool),
	}
}

// State returns a copy of the current state.
func (s *StateStore) State() StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Items = append([]Notification(nil), s.state.Items...)
	return st
}

// LoadInitial fetches the most recent page, replacing whatever is loaded.
func (s *StateStore) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	s.state.Loading = true
	s.mu.Unlock()

	page, err := s.api.ListPage(ctx, s.pageSize, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = false
	if err != nil {
		return fmt.Errorf("loading notifications: %w", err)
	}

	s.state.Items = append([]Notification(nil), page.Items...)
	s.seen = make(map[int64]bool, len(page.Items))
	for i := range s.state.Items {
		attachPayload(&s.state.Items[i])
		s.seen[s.state.Items[i].ID] = true
	}
	s.applyCursor(page)
	s.recountUnread()
	return nil
}

// LoadMore fetches the next older page and merges it, de-duplicating by id.
func (s *StateStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.HasMore {
		s.mu.Unlock()
		return nil
	}
	cursor := s.state.NextCursorID
	s.state.Loading = true
	s.mu.Unlock()

	page, err := s.api.ListPage(ctx, s.pageSize, cursor)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = false
	if err != nil {
		return fmt.Errorf("loading more notifications: %w", err)
	}

	for _, n := range page.Items {
		if s.seen[n.ID] {
			continue
		}
		attachPayload(&n)
		s.seen[n.ID] = true
		s.state.Items = append(s.state.Items, n)
	}
	s.applyCursor(page)
	s.recountUnread()
	return nil
}

// Add ingests a live event. Idempotent by id: a redelivered notification
// (e.g. after a reconnect) changes nothing.
func (s *StateStore) Add(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[n.ID] {
		return
	}
	attachPayload(&n)
	s.seen[n.ID] = true
	s.state.Items = append([]Notification{n}, s.state.Items...)
	s.recountUnread()
}

// MarkAsRead applies the read state optimistically, then confirms with the
// server. On server failure the optimistic items are not individually
// rolled back; a full reload reconciles against authoritative state.
func (s *StateStore) MarkAsRead(ctx context.Context, ids []int64) error {
	now := time.Now().UTC()

	s.mu.Lock()
	for i := range s.state.Items {
		for _, id := range ids {
			if s.state.Items[i].ID == id && s.state.Items[i].ReadAt == nil {
				t := now
				s.state.Items[i].ReadAt = &t
			}
		}
	}
	s.recountUnread()
	s.mu.Unlock()

	if err := s.api.MarkRead(ctx, ids); err != nil {
		if reloadErr := s.LoadInitial(ctx); reloadErr != nil {
			return fmt.Errorf("marking read: %w (reload also failed: %v)", err, reloadErr)
		}
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// SetConnected records the live-channel state for the UI's indicator.
func (s *StateStore) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Connected = connected
}

// applyCursor must be called with the lock held.
func (s *StateStore) applyCursor(page *Page) {
	if page.NextCursor != nil {
		s.state.NextCursorID = page.NextCursor.CursorID
		s.state.HasMore = true
	} else {
		s.state.NextCursorID = 0
		s.state.HasMore = false
	}
}

// attachPayload decodes the data blob into its typed shape as the item
// enters the store. A failed decode is logged and leaves Payload nil; the
// item is kept so its read state stays visible.
func attachPayload(n *Notification) {
	if n.Payload != nil {
		return
	}
	p, err := DecodePayload(*n)
	if err != nil {
		log.Printf("notifications: decoding payload for %d: %v", n.ID, err)
		return
	}
	n.Payload = p
}

// recountUnread must be called with the lock held.
func (s *StateStore) recountUnread() {
	count := 0
	for _, n := range s.state.Items {
		if n.ReadAt == nil {
			count++
		}
	}
	s.state.UnreadCount = count
}
