// Package delivery is the HTTP client for the external digest delivery
// collaborator.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

var _ ports.DeliveryClient = (*Client)(nil)

// Client posts rendered digests to the delivery endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient constructs a delivery client for the given endpoint.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type sendRequest struct {
	Recipient        string `json:"recipient"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	UnsubscribeToken string `json:"unsubscribe_token"`
}

// Send delivers one digest message. Any non-2xx response is an error; the
// caller decides whether the batch is retried.
func (c *Client) Send(ctx context.Context, msg domain.DigestMessage) error {
	payload, err := json.Marshal(sendRequest{
		Recipient:        msg.Recipient,
		Subject:          msg.Subject,
		Body:             msg.Body,
		UnsubscribeToken: msg.UnsubscribeToken,
	})
	if err != nil {
		return fmt.Errorf("marshal digest message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery endpoint returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
