package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuin/goldmark"
)

// EventPublisher pushes notification events to an external bus. The Kafka
// writer implements it; a nil publisher skips the step.
type EventPublisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Dispatcher is the single write path for notifications: it persists the
// row, then fans it out best-effort. Fan-out failures are logged and never
// reported to the triggering caller.
type Dispatcher struct {
	store  *Store
	hub    *Hub
	events EventPublisher
	client *http.Client
}

// NewDispatcher creates a Dispatcher. hub and events may be nil.
func NewDispatcher(store *Store, hub *Hub, events EventPublisher) *Dispatcher {
	return &Dispatcher{
		store:  store,
		hub:    hub,
		events: events,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Dispatch validates and persists the notification, then delivers it to
// live subscribers, the event bus, and webhook subscribers. Only the
// persist step can fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (*Notification, error) {
	n, err := d.store.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}

	if d.hub != nil {
		d.hub.Publish(*n)
	}

	if d.events != nil {
		if err := d.events.Publish(ctx, *n); err != nil {
			log.Printf("notifications: event publish for %d: %v", n.ID, err)
		}
	}

	d.deliverWebhooks(ctx, *n)

	return n, nil
}

// deliverWebhooks POSTs the notification to every matching preference of
// the target user. Broadcasts skip webhooks.
func (d *Dispatcher) deliverWebhooks(ctx context.Context, n Notification) {
	if n.UserID == 0 {
		return
	}

	prefs, err := d.store.GetPreferences(ctx, n.UserID)
	if err != nil {
		log.Printf("notifications: loading preferences for user %d: %v", n.UserID, err)
		return
	}

	var payload []byte
	for _, pref := range prefs {
		if pref.WebhookURL == "" {
			continue
		}
		if !severityMatches(n.Severity, pref.SeverityFilter) {
			continue
		}
		if matched, err := doublestar.Match(pref.TypeFilter, string(n.Type)); err != nil || !matched {
			continue
		}
		if payload == nil {
			payload, err = webhookPayload(n)
			if err != nil {
				log.Printf("notifications: building webhook payload for %d: %v", n.ID, err)
				return
			}
		}
		if err := d.sendWebhook(ctx, pref.WebhookURL, payload); err != nil {
			log.Printf("notifications: webhook %s for %d: %v", pref.WebhookURL, n.ID, err)
		}
	}
}

// webhookPayload serializes the notification with its body rendered from
// markdown to HTML, so webhook consumers can embed it directly.
func webhookPayload(n Notification) ([]byte, error) {
	var html bytes.Buffer
	if err := goldmark.Convert([]byte(n.Body), &html); err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}

	return json.Marshal(struct {
		Notification
		BodyHTML string `json:"body_html"`
	}{Notification: n, BodyHTML: html.String()})
}

func (d *Dispatcher) sendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// severityMatches returns true if the notification severity meets or
// exceeds the preference threshold.
func severityMatches(actual, filter Severity) bool {
	levels := map[Severity]int{
		SeverityInfo:    0,
		SeveritySuccess: 1,
		SeverityWarning: 2,
		SeverityError:   3,
	}
	return levels[actual] >= levels[filter]
}
