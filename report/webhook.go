package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookConfig configures webhook delivery of the final retry report.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WebhookSink posts the session's retry report as JSON. NewWebhookSink
// returns nil when no URL is configured.
type WebhookSink struct {
	WebhookConfig
	client *http.Client
}

func NewWebhookSink(c *WebhookConfig) *WebhookSink {
	if c == nil || c.URL == "" {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSink{
		WebhookConfig: *c,
		client:        &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Session string `json:"session"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// Deliver posts the retry narrative. An empty narrative is not delivered.
func (w *WebhookSink) Deliver(sessionName, contents string) error {
	if contents == "" {
		return nil
	}

	payload, err := json.Marshal(webhookPayload{
		Session: sessionName,
		Title:   "the following tests were retried",
		Body:    contents,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post retry report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post retry report: unexpected status %s", resp.Status)
	}
	return nil
}
