package notifications

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 5 * time.Second},
		{4, 10 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second}, // capped at the last entry
		{12, 30 * time.Second},
		{0, 1 * time.Second}, // defensive clamp
	}
	for _, tc := range cases {
		if got := BackoffDelay(tc.failures); got != tc.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		"event: notification",
		`data: {"id":1}`,
		"",
		": keep-alive comment",
		"event: ping",
		"data: {}",
		"",
		"event: notification",
		"data: line one",
		"data: line two",
		"",
	}, "\n")

	var events []streamEvent
	err := readEvents(strings.NewReader(stream), func(ev streamEvent) {
		events = append(events, ev)
	})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].name != "notification" || string(events[0].data) != `{"id":1}` {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].name != "ping" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if string(events[2].data) != "line one\nline two" {
		t.Errorf("multi-line data = %q", events[2].data)
	}
}

// scriptedDial returns one canned outcome per connection attempt, then
// blocks until teardown.
type scriptedDial struct {
	mu       sync.Mutex
	outcomes []string // "fail" or an SSE stream body
	calls    int
}

func (s *scriptedDial) dial(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i >= len(s.outcomes) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.outcomes[i] == "fail" {
		return nil, errors.New("connection refused")
	}
	return io.NopCloser(strings.NewReader(s.outcomes[i])), nil
}

func (s *scriptedDial) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestStreamClientBackoffResetsOnSuccess(t *testing.T) {
	dial := &scriptedDial{outcomes: []string{
		"fail",
		"fail",
		"event: notification\ndata: {\"id\":5,\"type\":\"system.announcement\",\"title\":\"hi\"}\n\n", // then EOF
	}}

	received := make(chan Notification, 4)
	c := newStreamClient(dial.dial, func(n Notification) { received <- n })

	delays := make(chan time.Duration, 8)
	c.after = func(d time.Duration) <-chan time.Time {
		delays <- d
		fired := make(chan time.Time, 1)
		fired <- time.Time{}
		return fired
	}

	c.Enable()

	want := []time.Duration{
		1 * time.Second, // first failure
		2 * time.Second, // second consecutive failure
		1 * time.Second, // stream opened then ended: counter reset
	}
	for i, w := range want {
		select {
		case d := <-delays:
			if d != w {
				t.Errorf("delay %d = %v, want %v", i, d, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delay %d", i)
		}
	}

	select {
	case n := <-received:
		if n.ID != 5 {
			t.Errorf("received id %d, want 5", n.ID)
		}
		if _, ok := n.Payload.(AnnouncementData); !ok {
			t.Errorf("payload = %#v, want AnnouncementData", n.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}

	c.Disable()
}

func TestStreamClientDropsUndecodableEvents(t *testing.T) {
	// One connection carrying an unknown-type event, then a well-formed one.
	dial := &scriptedDial{outcomes: []string{
		"event: notification\ndata: {\"id\":1,\"type\":\"billing.invoice\"}\n\n" +
			"event: notification\ndata: {\"id\":2,\"type\":\"moderation.ad.approved\",\"data\":{\"ad_id\":9}}\n\n",
	}}

	received := make(chan Notification, 4)
	c := newStreamClient(dial.dial, func(n Notification) { received <- n })
	c.after = func(time.Duration) <-chan time.Time {
		return make(chan time.Time) // park after the scripted connection ends
	}

	c.Enable()
	defer c.Disable()

	select {
	case n := <-received:
		if n.ID != 2 {
			t.Fatalf("received id %d, want only the decodable event (2)", n.ID)
		}
		got, ok := n.Payload.(AdEventData)
		if !ok || got.AdID != 9 {
			t.Errorf("payload = %#v, want AdEventData{AdID: 9}", n.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the decodable event")
	}
	if len(received) != 0 {
		t.Errorf("%d extra events delivered", len(received))
	}
}

func TestStreamClientDisableStopsReconnects(t *testing.T) {
	dial := &scriptedDial{} // every attempt blocks until cancelled
	c := newStreamClient(dial.dial, nil)

	var (
		mu     sync.Mutex
		states []StreamState
	)
	c.OnStateChange(func(s StreamState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	c.Enable()
	c.Enable() // idempotent

	deadline := time.Now().Add(2 * time.Second)
	for dial.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dial never attempted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Disable returns only after the run goroutine has exited, so no timer
	// or dial can fire afterwards.
	c.Disable()
	c.Disable() // idempotent

	calls := dial.count()
	time.Sleep(50 * time.Millisecond)
	if dial.count() != calls {
		t.Errorf("dial attempted after Disable: %d -> %d", calls, dial.count())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != StreamClosed {
		t.Errorf("states = %v, want trailing %q", states, StreamClosed)
	}
}

func TestStreamClientStateSequence(t *testing.T) {
	dial := &scriptedDial{outcomes: []string{"fail"}}
	c := newStreamClient(dial.dial, nil)

	var (
		mu     sync.Mutex
		states []StreamState
	)
	c.OnStateChange(func(s StreamState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	c.after = func(d time.Duration) <-chan time.Time {
		return make(chan time.Time) // park in backoff
	}

	c.Enable()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for state transitions")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Disable()

	mu.Lock()
	defer mu.Unlock()
	if states[0] != StreamConnecting || states[1] != StreamBackoff {
		t.Errorf("states = %v, want [connecting backoff ...]", states)
	}
	if states[len(states)-1] != StreamClosed {
		t.Errorf("final state = %v, want %q", states[len(states)-1], StreamClosed)
	}
}
