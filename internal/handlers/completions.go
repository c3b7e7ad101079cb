package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jwebster45206/storyloom/internal/services"
)

const defaultLastWait = 65 * time.Second

type upstreamResult struct {
	status      int
	contentType string
	body        []byte
}

// CompletionsHandler relays chat completion requests to the provider named in
// the request. Identical concurrent requests share one upstream call, and the
// latest successful result is kept so a client that lost the connection can
// recover it.
// Routes:
// POST /api/ai/chat/completions      - forward
// POST /api/ai/chat/completions/last - stored result for an identical request, or 204
type CompletionsHandler struct {
	upstream services.Upstream
	cache    services.Cache
	files    FileStore
	events   EventPublisher
	logger   *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]chan struct{}

	// lastWait bounds how long /last waits for an identical in-flight request.
	lastWait time.Duration
}

func NewCompletionsHandler(upstream services.Upstream, cache services.Cache, files FileStore, events EventPublisher, logger *slog.Logger) *CompletionsHandler {
	return &CompletionsHandler{
		upstream: upstream,
		cache:    cache,
		files:    files,
		events:   events,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
		lastWait: defaultLastWait,
	}
}

func (h *CompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, h.logger, http.MethodPost)
		return
	}

	var req services.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid completion request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'baseUrl', 'apiKey' and 'payload'.")
		return
	}
	if strings.TrimSpace(req.BaseURL) == "" || len(req.Payload) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "baseUrl and payload are required")
		return
	}

	key, err := completionKey(req)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	if strings.HasSuffix(r.URL.Path, "/last") {
		h.last(w, r, key)
		return
	}
	h.forward(w, r, req, key)
}

func (h *CompletionsHandler) forward(w http.ResponseWriter, r *http.Request, req services.CompletionRequest, key string) {
	settings := loadSettings(r.Context(), h.files, h.logger)
	if settings.BaseURL != "" && !sameURL(req.BaseURL, settings.BaseURL) {
		h.logger.Error("Security error: baseUrl mismatch", "provided", req.BaseURL)
		writeError(w, h.logger, http.StatusForbidden, "Security error: Base URL mismatch")
		return
	}

	// The shared call must outlive any single caller disconnecting.
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := h.group.Do(key, func() (any, error) {
		done := h.begin(key)
		defer h.end(key, done)
		return h.call(ctx, req, key)
	})
	if err != nil {
		h.logger.Error("Upstream completion failed", "error", err, "shared", shared)
		writeError(w, h.logger, http.StatusBadGateway, "Upstream request failed: "+err.Error())
		return
	}

	res := v.(*upstreamResult)
	h.logger.Info("Completion relayed", "status", res.status, "bytes", len(res.body), "shared", shared)
	writeRaw(w, res)
}

// call makes the upstream request and stores a successful result.
func (h *CompletionsHandler) call(ctx context.Context, req services.CompletionRequest, key string) (*upstreamResult, error) {
	status, body, err := h.upstream.ChatCompletions(ctx, req.BaseURL, req.APIKey, req.Payload)
	if err != nil {
		return nil, err
	}

	res := &upstreamResult{status: status, contentType: "application/json", body: body}
	if !json.Valid(body) {
		res.contentType = "text/plain; charset=utf-8"
	}
	if status >= 400 {
		return res, nil
	}

	stored := services.StoredCompletion{Key: key, Status: status, ContentType: res.contentType, Body: body}
	if err := h.cache.SaveLastCompletion(ctx, stored); err != nil {
		h.logger.Warn("Failed to store last completion", "error", err)
	} else if h.events != nil {
		if err := h.events.PublishCompletionStored(ctx, status); err != nil {
			h.logger.Warn("Failed to publish completion event", "error", err)
		}
	}
	return res, nil
}

func (h *CompletionsHandler) last(w http.ResponseWriter, r *http.Request, key string) {
	if res := h.stored(r.Context(), key); res != nil {
		writeRaw(w, res)
		return
	}

	// Not stored yet: wait for an identical request that is still running.
	h.mu.Lock()
	done, ok := h.inflight[key]
	h.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	select {
	case <-done:
	case <-time.After(h.lastWait):
		w.WriteHeader(http.StatusNoContent)
		return
	case <-r.Context().Done():
		return
	}

	if res := h.stored(r.Context(), key); res != nil {
		writeRaw(w, res)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CompletionsHandler) stored(ctx context.Context, key string) *upstreamResult {
	c, err := h.cache.LastCompletion(ctx)
	if err != nil {
		h.logger.Error("Failed to read last completion", "error", err)
		return nil
	}
	if c == nil || c.Key != key {
		return nil
	}
	return &upstreamResult{status: c.Status, contentType: c.ContentType, body: c.Body}
}

func (h *CompletionsHandler) begin(key string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	done := make(chan struct{})
	h.inflight[key] = done
	return done
}

func (h *CompletionsHandler) end(key string, done chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight[key] == done {
		delete(h.inflight, key)
	}
	close(done)
}

func writeRaw(w http.ResponseWriter, res *upstreamResult) {
	ct := res.contentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(res.status)
	_, _ = w.Write(res.body)
}

// completionKey identifies a request by base URL, key and canonical payload.
// Map keys are sorted by encoding/json, so key order in the payload does not matter.
// The key is hashed because it embeds the API key and is stored in Redis.
func completionKey(req services.CompletionRequest) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(req.Payload))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	raw := strings.TrimSpace(req.BaseURL) + "|" + strings.TrimSpace(req.APIKey) + "|" + string(canonical)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}
