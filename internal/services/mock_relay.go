package services

import (
	"context"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/storyloom/internal/generation"
)

// MockRelayClient is an in-memory stand-in for RelayClient used in tests.
// Files live in a map; every other call is answered by its Func field when set.
type MockRelayClient struct {
	ChatCompletionsFunc     func(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error)
	ChatCompletionsLastFunc func(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error)
	PostWebhookFunc         func(ctx context.Context, webhookURL string, payload any, timeout time.Duration) (int, error)
	WriteFileFunc           func(ctx context.Context, path, content string) error

	Files         map[string]string
	ActiveSession string

	// Track calls for testing
	ChatCompletionsCalls     []generation.Payload
	ChatCompletionsLastCalls []generation.Payload
	PostWebhookCalls         []PostWebhookCall
	WriteFileCalls           []string

	mu sync.Mutex // protects all fields above
}

type PostWebhookCall struct {
	URL     string
	Payload any
}

var _ generation.CompletionClient = (*MockRelayClient)(nil)

// NewMockRelayClient creates a mock with no files and no active session.
func NewMockRelayClient() *MockRelayClient {
	return &MockRelayClient{
		Files: make(map[string]string),
	}
}

// ChatCompletions mocks the completion relay. The default reply is a single narration tag.
func (m *MockRelayClient) ChatCompletions(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.ChatCompletionsCalls = append(m.ChatCompletionsCalls, p)
	fn := m.ChatCompletionsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, p, timeout)
	}
	return CompletionResponse("<narration>Mock response</narration>"), nil
}

// ChatCompletionsLast mocks last-result recovery. By default nothing is stored.
func (m *MockRelayClient) ChatCompletionsLast(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.ChatCompletionsLastCalls = append(m.ChatCompletionsLastCalls, p)
	fn := m.ChatCompletionsLastFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, p, timeout)
	}
	return nil, generation.ErrNothingToRecover
}

func (m *MockRelayClient) ReadFile(ctx context.Context, path string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.Files[path]
	return content, ok, nil
}

func (m *MockRelayClient) WriteFile(ctx context.Context, path, content string) error {
	m.mu.Lock()
	m.WriteFileCalls = append(m.WriteFileCalls, path)
	fn := m.WriteFileFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, path, content); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[path] = content
	return nil
}

func (m *MockRelayClient) DeleteFile(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Files, path)
	return nil
}

// PostWebhook mocks the webhook relay. The default reply is 200.
func (m *MockRelayClient) PostWebhook(ctx context.Context, webhookURL string, payload any, timeout time.Duration) (int, error) {
	m.mu.Lock()
	m.PostWebhookCalls = append(m.PostWebhookCalls, PostWebhookCall{URL: webhookURL, Payload: payload})
	fn := m.PostWebhookFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, webhookURL, payload, timeout)
	}
	return 200, nil
}

// IsActive reports whether sessionID owns the story. An unclaimed story is owned by everyone.
func (m *MockRelayClient) IsActive(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ActiveSession == "" || m.ActiveSession == sessionID, nil
}

// SetFile seeds a file in a thread-safe way.
func (m *MockRelayClient) SetFile(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[path] = content
}

// File returns a stored file in a thread-safe way.
func (m *MockRelayClient) File(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.Files[path]
	return content, ok
}

// SetActive changes which session owns the story.
func (m *MockRelayClient) SetActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveSession = id
}

// GetCalls returns copies of the completion call tracking data.
func (m *MockRelayClient) GetCalls() (completions, last []generation.Payload, webhooks []PostWebhookCall) {
	m.mu.Lock()
	defer m.mu.Unlock()

	completions = make([]generation.Payload, len(m.ChatCompletionsCalls))
	copy(completions, m.ChatCompletionsCalls)

	last = make([]generation.Payload, len(m.ChatCompletionsLastCalls))
	copy(last, m.ChatCompletionsLastCalls)

	webhooks = make([]PostWebhookCall, len(m.PostWebhookCalls))
	copy(webhooks, m.PostWebhookCalls)

	return completions, last, webhooks
}

// Reset clears all call tracking
func (m *MockRelayClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatCompletionsCalls = nil
	m.ChatCompletionsLastCalls = nil
	m.PostWebhookCalls = nil
	m.WriteFileCalls = nil
}

// CompletionResponse builds a one-choice completion response with the given message.
func CompletionResponse(content string) *openai.ChatCompletionResponse {
	return &openai.ChatCompletionResponse{
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}
