package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/services/queue"
)

const (
	defaultWebhookTimeout = 30 * time.Second

	// maxIncomingBody caps a POSTed incoming webhook.
	maxIncomingBody = 1 << 20
)

// WebhookPoster delivers outgoing webhooks.
type WebhookPoster interface {
	PostJSON(ctx context.Context, url string, payload any, headers map[string]string, timeout time.Duration) (int, error)
}

// IncomingStore records webhooks received by the relay.
type IncomingStore interface {
	Push(ctx context.Context, data json.RawMessage) (services.IncomingRecord, int, error)
	List(ctx context.Context, sinceID int64, limit int) (services.IncomingList, error)
}

// WebhookPostHandler relays an outgoing webhook and answers with the upstream
// status code only.
// POST /api/webhook/post
type WebhookPostHandler struct {
	poster WebhookPoster
	files  FileStore
	logger *slog.Logger
}

func NewWebhookPostHandler(poster WebhookPoster, files FileStore, logger *slog.Logger) *WebhookPostHandler {
	return &WebhookPostHandler{
		poster: poster,
		files:  files,
		logger: logger,
	}
}

func (h *WebhookPostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, h.logger, http.MethodPost)
		return
	}

	var req services.WebhookPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid webhook request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'url' and 'payload'.")
		return
	}

	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, h.logger, http.StatusBadRequest, "URL scheme must be http or https")
		return
	}

	settings := loadSettings(r.Context(), h.files, h.logger)
	if settings.WebhookURL != "" && !sameURL(req.URL, settings.WebhookURL) {
		h.logger.Error("Security error: webhookUrl mismatch", "provided", req.URL)
		writeError(w, h.logger, http.StatusForbidden, "Security error: Webhook URL mismatch")
		return
	}

	timeout := defaultWebhookTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec * float64(time.Second))
	}

	status, err := h.poster.PostJSON(r.Context(), u.String(), req.Payload, req.Headers, timeout)
	if err != nil {
		h.logger.Error("Webhook post failed", "error", err)
		writeError(w, h.logger, http.StatusBadGateway, "Upstream request failed: "+err.Error())
		return
	}

	h.logger.Info("Webhook relayed", "status", status)
	w.WriteHeader(status)
}

// IncomingWebhookHandler accepts webhooks from outside and lets the client poll them.
// Routes:
// GET|POST /webhook              - receive (403 unless enableIncomingWebhook is true)
// GET      /api/webhook/incoming - poll {limit, sinceId}
type IncomingWebhookHandler struct {
	store  IncomingStore
	files  FileStore
	events EventPublisher
	logger *slog.Logger
}

func NewIncomingWebhookHandler(store IncomingStore, files FileStore, events EventPublisher, logger *slog.Logger) *IncomingWebhookHandler {
	return &IncomingWebhookHandler{
		store:  store,
		files:  files,
		events: events,
		logger: logger,
	}
}

func (h *IncomingWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/webhook/incoming" {
		h.list(w, r)
		return
	}
	h.receive(w, r)
}

func (h *IncomingWebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPost)
		return
	}

	if !loadSettings(r.Context(), h.files, h.logger).EnableIncomingWebhook {
		writeError(w, h.logger, http.StatusForbidden, "Incoming Webhook is disabled by settings")
		return
	}

	var data json.RawMessage
	if r.Method == http.MethodGet {
		raw, err := json.Marshal(queryToJSON(r.URL.Query()))
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid query parameters")
			return
		}
		data = raw
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIncomingBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, h.logger, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			writeError(w, h.logger, http.StatusBadRequest, "Failed to read body")
			return
		}
		if !json.Valid(body) {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		data = body
	}

	rec, size, err := h.store.Push(r.Context(), data)
	if err != nil {
		h.logger.Error("Failed to record incoming webhook", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to record webhook")
		return
	}

	if h.events != nil {
		if err := h.events.PublishWebhookReceived(r.Context(), rec.ID, rec.ReceivedAt); err != nil {
			h.logger.Warn("Failed to publish webhook event", "error", err)
		}
	}

	h.logger.Info("Incoming webhook accepted", "id", rec.ID, "size", size)
	writeJSON(w, h.logger, http.StatusOK, services.IncomingAck{
		Success:    true,
		ID:         rec.ID,
		ReceivedAt: rec.ReceivedAt,
		Size:       size,
	})
}

func (h *IncomingWebhookHandler) list(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, h.logger, http.MethodGet)
		return
	}

	q := r.URL.Query()
	limit := queue.MaxIncoming
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil {
		limit = queue.ClampLimit(n)
	}
	var sinceID int64
	if n, err := strconv.ParseInt(strings.TrimSpace(q.Get("sinceId")), 10, 64); err == nil {
		sinceID = n
	}

	list, err := h.store.List(r.Context(), sinceID, limit)
	if err != nil {
		h.logger.Error("Failed to list incoming webhooks", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list webhooks")
		return
	}

	// Metadata is reported even when disabled; records are withheld.
	list.Enabled = loadSettings(r.Context(), h.files, h.logger).EnableIncomingWebhook
	if !list.Enabled {
		list.Records = []services.IncomingRecord{}
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

// queryToJSON maps query parameters to a JSON object; repeated keys become arrays.
func queryToJSON(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	return out
}
