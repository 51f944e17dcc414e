package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIClient talks to the notification read surface over HTTP. It
// implements HistoryAPI for the state store.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a client for the given base URL and session token.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ListPage fetches one history page.
func (c *APIClient) ListPage(ctx context.Context, take int, cursorID int64) (*Page, error) {
	url := c.baseURL + "/api/notifications?take=" + strconv.Itoa(take)
	if cursorID > 0 {
		url += "&cursorId=" + strconv.FormatInt(cursorID, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notifications list returned status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding notifications page: %w", err)
	}
	return &page, nil
}

// MarkRead confirms read state with the server.
func (c *APIClient) MarkRead(ctx context.Context, ids []int64) error {
	payload, err := json.Marshal(map[string][]int64{"ids": ids})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/notifications/mark-read", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark-read returned status %d", resp.StatusCode)
	}
	return nil
}
