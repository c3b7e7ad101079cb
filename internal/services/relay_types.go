package services

import (
	"encoding/json"
	"time"

	"github.com/jwebster45206/storyloom/internal/generation"
)

// ErrorResponse is the JSON error body returned by every relay endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FileRequest is the body of /api/files/read, /api/files/write and /api/files/delete.
type FileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// FileResponse is returned by the file endpoints. Content is null when a read
// finds no file.
type FileResponse struct {
	Success bool    `json:"success"`
	Path    string  `json:"path"`
	Content *string `json:"content"`
	Length  int     `json:"contentLength,omitempty"`
}

// CompletionRequest is the body of /api/ai/chat/completions and its /last variant.
// Payload is forwarded upstream untouched.
type CompletionRequest struct {
	BaseURL string          `json:"baseUrl"`
	APIKey  string          `json:"apiKey"`
	Payload json.RawMessage `json:"payload"`
}

// NewCompletionRequest encodes a generation payload for the relay.
func NewCompletionRequest(p generation.Payload) (CompletionRequest, error) {
	raw, err := json.Marshal(p.Request)
	if err != nil {
		return CompletionRequest{}, err
	}
	return CompletionRequest{BaseURL: p.BaseURL, APIKey: p.APIKey, Payload: raw}, nil
}

// WebhookPostRequest is the body of /api/webhook/post.
type WebhookPostRequest struct {
	URL        string            `json:"url"`
	Payload    any               `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	TimeoutSec float64           `json:"timeoutSec,omitempty"`
}

// IncomingRecord is one webhook received on /webhook.
type IncomingRecord struct {
	ID         int64           `json:"id"`
	ReceivedAt string          `json:"receivedAt"`
	Data       json.RawMessage `json:"data"`
}

// IncomingAck is returned to the sender of an accepted incoming webhook.
type IncomingAck struct {
	Success    bool   `json:"success"`
	ID         int64  `json:"id"`
	ReceivedAt string `json:"receivedAt"`
	Size       int    `json:"size"`
}

// IncomingList is returned by GET /api/webhook/incoming.
type IncomingList struct {
	Enabled        bool             `json:"enabled"`
	Size           int              `json:"size"`
	MaxSize        int              `json:"maxSize"`
	LastID         *int64           `json:"lastId"`
	LastReceivedAt *string          `json:"lastReceivedAt"`
	Records        []IncomingRecord `json:"records"`
}

// ActiveSession describes which client session currently owns the story.
type ActiveSession struct {
	Active    bool    `json:"active"`
	SessionID *string `json:"sessionId"`
	UpdatedAt *string `json:"updatedAt"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// SetActiveSessionRequest is the body of POST /api/browser/active.
type SetActiveSessionRequest struct {
	SessionID string `json:"sessionId"`
}
