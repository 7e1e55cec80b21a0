package notifications

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const userAgent = "cellflow/0.1.0"

// Webhook POSTs each event as a JSON Envelope.
type Webhook struct {
	endpoint string
	client   *http.Client
}

// NewWebhook returns a webhook notifier. A nil client uses http.DefaultClient.
func NewWebhook(endpoint string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (w *Webhook) Emit(ctx context.Context, room string, event Event, data any) error {
	if w == nil || w.endpoint == "" {
		return nil
	}
	body, err := newEnvelope(room, event, data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cellflow-Event", string(event))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
