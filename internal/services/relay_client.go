package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/storyloom/internal/generation"
)

// RelayClient talks to the relay server on behalf of the console.
// It implements generation.CompletionClient.
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ generation.CompletionClient = (*RelayClient)(nil)

// NewRelayClient creates a client for the relay at baseURL.
func NewRelayClient(baseURL string, logger *slog.Logger) *RelayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Per-call deadlines come from the context.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// do sends a request and returns the status and body. Transport failures are
// returned as *generation.NetworkError.
func (c *RelayClient) do(ctx context.Context, method, path string, body any, timeout time.Duration) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &generation.NetworkError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &generation.NetworkError{Op: "read " + path, Err: err}
	}
	return resp.StatusCode, respBody, nil
}

func statusError(status int, body []byte) error {
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error != "" {
		return &generation.HTTPStatusError{Status: status, Body: errorResp.Error}
	}
	return &generation.HTTPStatusError{Status: status, Body: string(body)}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// ChatCompletions relays a completion request to the upstream model API.
func (c *RelayClient) ChatCompletions(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
	req, err := NewCompletionRequest(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/api/ai/chat/completions", req, timeout)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, statusError(status, body)
	}
	return decodeCompletion(body)
}

// ChatCompletionsLast fetches the relay's stored result for an identical request.
// A 204 means the relay holds nothing for it.
func (c *RelayClient) ChatCompletionsLast(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
	req, err := NewCompletionRequest(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/api/ai/chat/completions/last", req, timeout)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, generation.ErrNothingToRecover
	}
	if !isSuccess(status) {
		return nil, statusError(status, body)
	}
	return decodeCompletion(body)
}

func decodeCompletion(body []byte) (*openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse completion response: %w", err)
	}
	return &resp, nil
}

// ReadFile returns the content of a data file. found is false when the file does not exist.
func (c *RelayClient) ReadFile(ctx context.Context, path string) (content string, found bool, err error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/files/read", FileRequest{Path: path}, 0)
	if err != nil {
		return "", false, err
	}
	if !isSuccess(status) {
		return "", false, statusError(status, body)
	}

	var resp FileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("failed to parse file response: %w", err)
	}
	if resp.Content == nil {
		return "", false, nil
	}
	return *resp.Content, true, nil
}

// WriteFile replaces a data file.
func (c *RelayClient) WriteFile(ctx context.Context, path, content string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/files/write", FileRequest{Path: path, Content: content}, 0)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return statusError(status, body)
	}
	return nil
}

// DeleteFile removes a data file. Deleting a missing file succeeds.
func (c *RelayClient) DeleteFile(ctx context.Context, path string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/files/delete", FileRequest{Path: path}, 0)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return statusError(status, body)
	}
	return nil
}

// PostWebhook asks the relay to POST payload to webhookURL and returns the upstream status code.
func (c *RelayClient) PostWebhook(ctx context.Context, webhookURL string, payload any, timeout time.Duration) (int, error) {
	req := WebhookPostRequest{URL: webhookURL, Payload: payload, TimeoutSec: timeout.Seconds()}
	// Give the relay a little longer than the upstream call it makes.
	status, body, err := c.do(ctx, http.MethodPost, "/api/webhook/post", req, timeout+5*time.Second)
	if err != nil {
		return 0, err
	}
	if status == http.StatusForbidden || status == http.StatusBadRequest || status == http.StatusBadGateway {
		return status, statusError(status, body)
	}
	return status, nil
}

// ActiveSession returns the session that currently owns the story.
func (c *RelayClient) ActiveSession(ctx context.Context) (*ActiveSession, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/browser/active", nil, 0)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, statusError(status, body)
	}
	var resp ActiveSession
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse active session: %w", err)
	}
	return &resp, nil
}

// SetActiveSession claims the story for sessionID.
func (c *RelayClient) SetActiveSession(ctx context.Context, sessionID string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/browser/active", SetActiveSessionRequest{SessionID: sessionID}, 0)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return statusError(status, body)
	}
	return nil
}

// IsActive reports whether sessionID owns the story. An unclaimed story is owned by everyone.
func (c *RelayClient) IsActive(ctx context.Context, sessionID string) (bool, error) {
	s, err := c.ActiveSession(ctx)
	if err != nil {
		return false, err
	}
	if !s.Active || s.SessionID == nil {
		return true, nil
	}
	return *s.SessionID == sessionID, nil
}

// IncomingWebhooks polls webhooks received by the relay with id greater than sinceID.
func (c *RelayClient) IncomingWebhooks(ctx context.Context, sinceID int64, limit int) (*IncomingList, error) {
	q := url.Values{}
	if sinceID > 0 {
		q.Set("sinceId", strconv.FormatInt(sinceID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/webhook/incoming"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	status, body, err := c.do(ctx, http.MethodGet, path, nil, 0)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, statusError(status, body)
	}
	var resp IncomingList
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse incoming webhooks: %w", err)
	}
	return &resp, nil
}

// Health reports whether the relay is reachable and healthy.
func (c *RelayClient) Health(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/api/health", nil, 5*time.Second)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	return nil
}
