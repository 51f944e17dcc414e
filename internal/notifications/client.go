package notifications

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StreamState is the connection state of the client.
type StreamState string

const (
	StreamClosed     StreamState = "closed"
	StreamConnecting StreamState = "connecting"
	StreamOpen       StreamState = "open"
	StreamBackoff    StreamState = "backoff"
)

// backoffSchedule is indexed by consecutive failures; failures beyond the
// table reuse the last delay.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// BackoffDelay returns the reconnect delay after the given number of
// consecutive failures (1-based).
func BackoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(backoffSchedule) {
		failures = len(backoffSchedule)
	}
	return backoffSchedule[failures-1]
}

// DialFunc opens one streaming connection and returns its body.
type DialFunc func(ctx context.Context) (io.ReadCloser, error)

// StreamClient consumes the server's event stream and reconnects with
// bounded backoff. All connection state is owned by a single goroutine;
// Enable and Disable pass control in via the context, so a reconnect timer
// that fires after teardown is a guaranteed no-op.
type StreamClient struct {
	dial    DialFunc
	handler func(Notification)
	onState func(StreamState)

	// after is stubbed in tests to observe scheduled delays.
	after func(d time.Duration) <-chan time.Time

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStreamClient creates a client for the given SSE endpoint. The session
// token is passed as a query parameter because EventSource-style consumers
// cannot set headers.
func NewStreamClient(baseURL, token string, handler func(Notification)) *StreamClient {
	httpClient := &http.Client{} // no timeout: the stream is long-lived
	url := strings.TrimRight(baseURL, "/") + "/api/notifications/sse?token=" + token

	dial := func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}

	return newStreamClient(dial, handler)
}

func newStreamClient(dial DialFunc, handler func(Notification)) *StreamClient {
	return &StreamClient{
		dial:    dial,
		handler: handler,
		after:   time.After,
	}
}

// OnStateChange registers an observer for connection-state transitions.
// Must be called before Enable.
func (c *StreamClient) OnStateChange(fn func(StreamState)) {
	c.onState = fn
}

// Enable starts the stream. Driven by session state: call when a session
// appears. A second Enable while running is a no-op.
func (c *StreamClient) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	c.enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Disable tears the stream down: the open connection is closed and any
// pending reconnect timer is cancelled before Disable returns control of
// the state to the caller.
func (c *StreamClient) Disable() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *StreamClient) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StreamClosed)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StreamConnecting)
		body, err := c.dial(ctx)
		if err == nil {
			c.setState(StreamOpen)
			failures = 0
			err = c.consume(ctx, body)
			body.Close()
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("notifications: stream error: %v", err)
		}

		failures++
		c.setState(StreamBackoff)
		select {
		case <-ctx.Done():
			return
		case <-c.after(BackoffDelay(failures)):
		}
	}
}

// consume reads one connection until it fails or the context is cancelled.
func (c *StreamClient) consume(ctx context.Context, body io.Reader) error {
	events := make(chan streamEvent)
	errc := make(chan error, 1)

	go func() {
		errc <- readEvents(body, func(ev streamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case ev := <-events:
			if ev.name != "notification" {
				continue // ping keep-alives carry no payload semantics
			}
			var n Notification
			if err := json.Unmarshal(ev.data, &n); err != nil {
				log.Printf("notifications: decoding stream event: %v", err)
				continue
			}
			// The data blob is decoded here, at the ingestion boundary;
			// nothing downstream handles it raw.
			payload, err := DecodePayload(n)
			if err != nil {
				log.Printf("notifications: rejecting stream event %d: %v", n.ID, err)
				continue
			}
			n.Payload = payload
			if c.handler != nil {
				c.handler(n)
			}
		}
	}
}

func (c *StreamClient) setState(s StreamState) {
	if c.onState != nil {
		c.onState(s)
	}
}

// streamEvent is one parsed server-sent event.
type streamEvent struct {
	name string
	data []byte
}

// readEvents parses an SSE byte stream, emitting each complete event. It
// returns when the stream ends, which for a healthy connection means the
// server went away.
func readEvents(r io.Reader, emit func(streamEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var ev streamEvent
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if ev.name != "" || len(ev.data) > 0 {
				emit(ev)
			}
			ev = streamEvent{}
		case bytes.HasPrefix(line, []byte("event:")):
			ev.name = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			chunk := bytes.TrimSpace(line[len("data:"):])
			if len(ev.data) > 0 {
				ev.data = append(ev.data, '\n')
			}
			ev.data = append(ev.data, chunk...)
		case bytes.HasPrefix(line, []byte(":")):
			// comment line, ignore
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return io.EOF
}
