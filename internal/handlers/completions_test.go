package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/internal/services"
)

func completionReq(payload string) services.CompletionRequest {
	return services.CompletionRequest{
		BaseURL: "https://llm.example.com/v1",
		APIKey:  "sk-test",
		Payload: json.RawMessage(payload),
	}
}

func TestCompletionsHandler_Forward(t *testing.T) {
	f := newRelayFixture(t)
	var gotBase, gotKey string
	f.upstream.ChatCompletionsFunc = func(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error) {
		gotBase, gotKey = baseURL, apiKey
		return http.StatusOK, []byte(`{"id":"c1"}`), nil
	}
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, f.events, f.logger)

	rr := postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m","messages":[]}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"c1"}`, rr.Body.String())
	assert.Equal(t, "https://llm.example.com/v1", gotBase)
	assert.Equal(t, "sk-test", gotKey)

	stored, err := f.cache.LastCompletion(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, stored.Key, "sk-test", "api key is not stored in clear")
}

func TestCompletionsHandler_UpstreamStatusPassesThrough(t *testing.T) {
	f := newRelayFixture(t)
	f.upstream.ChatCompletionsFunc = func(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error) {
		return http.StatusTooManyRequests, []byte(`{"error":{"message":"slow down"}}`), nil
	}
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, nil, f.logger)

	rr := postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m"}`))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "slow down")

	stored, err := f.cache.LastCompletion(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored, "errors are not stored")
}

func TestCompletionsHandler_TransportError(t *testing.T) {
	f := newRelayFixture(t)
	f.upstream.ChatCompletionsFunc = func(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error) {
		return 0, nil, errors.New("connection refused")
	}
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, nil, f.logger)

	rr := postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m"}`))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

func TestCompletionsHandler_BaseURLCheck(t *testing.T) {
	f := newRelayFixture(t)
	f.settings(t, map[string]any{"baseUrl": "HTTPS://LLM.example.com/v1/"})
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, nil, f.logger)

	rr := postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m"}`))
	assert.Equal(t, http.StatusOK, rr.Code, "scheme, host case and trailing slash are normalized")

	req := completionReq(`{"model":"m"}`)
	req.BaseURL = "https://evil.example.com/v1"
	rr = postJSON(t, h, "/api/ai/chat/completions", req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	n, _ := f.upstream.calls()
	assert.Equal(t, 1, n)
}

func TestCompletionsHandler_BadRequests(t *testing.T) {
	f := newRelayFixture(t)
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, nil, f.logger)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, h, "/api/ai/chat/completions", "nope").Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, h, "/api/ai/chat/completions", completionReq(`[1,2]`)).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, h, "/api/ai/chat/completions", services.CompletionRequest{Payload: json.RawMessage(`{}`)}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, get(h, "/api/ai/chat/completions").Code)
}

func TestCompletionsHandler_Last(t *testing.T) {
	f := newRelayFixture(t)
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, nil, f.logger)

	rr := postJSON(t, h, "/api/ai/chat/completions/last", completionReq(`{"model":"m","temperature":0.5}`))
	assert.Equal(t, http.StatusNoContent, rr.Code, "nothing stored")

	rr = postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m","temperature":0.5}`))
	require.Equal(t, http.StatusOK, rr.Code)
	want := rr.Body.String()

	// Same payload with keys in a different order.
	rr = postJSON(t, h, "/api/ai/chat/completions/last", completionReq(`{"temperature":0.5,"model":"m"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, want, rr.Body.String())

	rr = postJSON(t, h, "/api/ai/chat/completions/last", completionReq(`{"model":"other"}`))
	assert.Equal(t, http.StatusNoContent, rr.Code, "different payload")

	other := completionReq(`{"model":"m","temperature":0.5}`)
	other.APIKey = "sk-other"
	rr = postJSON(t, h, "/api/ai/chat/completions/last", other)
	assert.Equal(t, http.StatusNoContent, rr.Code, "different key")

	n, _ := f.upstream.calls()
	assert.Equal(t, 1, n, "/last never calls upstream")
}

func TestCompletionsHandler_SharesIdenticalInflight(t *testing.T) {
	f := newRelayFixture(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.upstream.ChatCompletionsFunc = func(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error) {
		started <- struct{}{}
		<-release
		return http.StatusOK, []byte(`{"id":"shared"}`), nil
	}
	h := NewCompletionsHandler(f.upstream, f.cache, f.files, nil, f.logger)

	codes := make([]int, 3)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		codes[0] = postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m"}`)).Code
	}()
	<-started

	wg.Add(2)
	go func() {
		defer wg.Done()
		codes[1] = postJSON(t, h, "/api/ai/chat/completions", completionReq(`{"model":"m"}`)).Code
	}()
	var lastBody string
	go func() {
		defer wg.Done()
		rr := postJSON(t, h, "/api/ai/chat/completions/last", completionReq(`{"model":"m"}`))
		codes[2] = rr.Code
		lastBody = rr.Body.String()
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []int{200, 200, 200}, codes)
	assert.JSONEq(t, `{"id":"shared"}`, lastBody, "/last waits for the in-flight request")
	n, _ := f.upstream.calls()
	assert.Equal(t, 1, n, "identical requests share one upstream call")
}

func TestCompletionKey(t *testing.T) {
	a, err := completionKey(completionReq(`{"b":1,"a":{"y":2,"x":1}}`))
	require.NoError(t, err)
	b, err := completionKey(completionReq(`{"a":{"x":1,"y":2},"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	padded := completionReq(`{"b":1,"a":{"y":2,"x":1}}`)
	padded.BaseURL = "  " + padded.BaseURL + " "
	c, err := completionKey(padded)
	require.NoError(t, err)
	assert.Equal(t, a, c, "surrounding whitespace is ignored")

	d, err := completionKey(completionReq(`{"b":1.0,"a":{"y":2,"x":1}}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "numbers are compared by literal")
}
