package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts the notice as JSON to a Slack-compatible incoming webhook.
// Recipients are ignored: the webhook URL already addresses a channel.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook returns nil when no URL is configured, which Multi skips.
func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

func (w *Webhook) Send(ctx context.Context, recipients []string, subject, body, artifactRef string) error {
	if w == nil || w.URL == "" {
		return errors.New("webhook disabled")
	}
	text := "*" + subject + "*\n" + body
	if artifactRef != "" {
		text += "\nevidence: " + artifactRef
	}
	payload, _ := json.Marshal(webhookPayload{Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
