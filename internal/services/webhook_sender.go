package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

// WebhookPoster forwards a JSON payload through the relay's webhook endpoint.
type WebhookPoster interface {
	PostWebhook(ctx context.Context, webhookURL string, payload any, timeout time.Duration) (int, error)
}

// WebhookSender delivers played-back entries to the configured outgoing webhook.
type WebhookSender struct {
	poster  WebhookPoster
	url     string
	timeout time.Duration
}

// WebhookEntry is the JSON body posted for each entry.
type WebhookEntry struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Name    *string `json:"name"`
	Content string  `json:"content"`
}

// NewWebhookSender returns nil when settings carry no webhook URL.
func NewWebhookSender(poster WebhookPoster, s entry.Settings) *WebhookSender {
	if s.WebhookURL == "" {
		return nil
	}
	s = s.WithDefaults()
	return &WebhookSender{
		poster:  poster,
		url:     s.WebhookURL,
		timeout: time.Duration(s.WebhookTimeoutSec) * time.Second,
	}
}

// Send posts e and treats any non-2xx upstream status as a failure.
func (w *WebhookSender) Send(ctx context.Context, e entry.Entry) error {
	payload := WebhookEntry{
		ID:      e.ID,
		Type:    string(e.Type),
		Name:    e.Name,
		Content: e.Content,
	}
	status, err := w.poster.PostWebhook(ctx, w.url, payload, w.timeout)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}
