package notifications

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscriberBuffer is the per-connection event queue. A subscriber that
// falls this far behind loses events: delivery over an open connection is
// at-most-once, and the initial history load is the catch-up path.
const subscriberBuffer = 16

// Hub fans notifications out to live subscribers. One subscription per open
// connection; no cross-tab dedup.
type Hub struct {
	mu           sync.RWMutex
	subs         map[int64]map[*Subscription]struct{}
	pingInterval time.Duration
}

// NewHub creates a Hub with the given keep-alive interval.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	return &Hub{
		subs:         make(map[int64]map[*Subscription]struct{}),
		pingInterval: pingInterval,
	}
}

// Subscription is one live connection's event queue.
type Subscription struct {
	C      <-chan Notification
	ch     chan Notification
	userID int64
}

// Subscribe registers a connection for the given user.
func (h *Hub) Subscribe(userID int64) *Subscription {
	ch := make(chan Notification, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, userID: userID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the connection. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.userID)
		}
	}
}

// Publish delivers the notification to the target user's open connections,
// or to every connection when the notification is a broadcast (user 0).
// Sends never block: a full subscriber queue drops the event.
func (h *Hub) Publish(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(set map[*Subscription]struct{}) {
		for sub := range set {
			select {
			case sub.ch <- n:
			default:
				log.Printf("notifications: dropping event %d for slow subscriber (user %d)", n.ID, sub.userID)
			}
		}
	}

	if n.UserID != 0 {
		deliver(h.subs[n.UserID])
		return
	}
	for _, set := range h.subs {
		deliver(set)
	}
}

// SubscriberCount reports open connections for a user. Used by tests and
// the health surface.
func (h *Hub) SubscriberCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ServeSSE streams `notification` and `ping` events to one connection
// until the client goes away.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, userID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sub := h.Subscribe(userID)
	defer h.Unsubscribe(sub)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sub.C:
			payload, err := json.Marshal(n)
			if err != nil {
				log.Printf("notifications: marshalling sse event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the JSON frame sent over the WebSocket transport. It mirrors
// the SSE named events.
type wsFrame struct {
	Event string        `json:"event"`
	Data  *Notification `json:"data,omitempty"`
}

// ServeWS streams the same events over a WebSocket, for dashboard clients
// that already hold a socket open.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notifications: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := h.Subscribe(userID)
	defer h.Unsubscribe(sub)

	// Drain client frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case n := <-sub.C:
			if err := conn.WriteJSON(wsFrame{Event: "notification", Data: &n}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(wsFrame{Event: "ping"}); err != nil {
				return
			}
		}
	}
}
