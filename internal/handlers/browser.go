package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/storyloom/internal/services"
)

// BrowserHandler arbitrates which client session owns the story.
// Routes:
// GET  /api/browser/active - {active, sessionId, updatedAt}
// POST /api/browser/active - {sessionId}
type BrowserHandler struct {
	cache  services.Cache
	events EventPublisher
	logger *slog.Logger
}

func NewBrowserHandler(cache services.Cache, events EventPublisher, logger *slog.Logger) *BrowserHandler {
	return &BrowserHandler{
		cache:  cache,
		events: events,
		logger: logger,
	}
}

func (h *BrowserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		active, err := h.cache.ActiveSession(r.Context())
		if err != nil {
			h.logger.Error("Failed to get active session", "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to get active session")
			return
		}
		writeJSON(w, h.logger, http.StatusOK, active)

	case http.MethodPost:
		var req services.SetActiveSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'sessionId'.")
			return
		}
		id := strings.TrimSpace(req.SessionID)
		if id == "" {
			writeError(w, h.logger, http.StatusBadRequest, "sessionId must be a non-empty string")
			return
		}

		active, err := h.cache.SetActiveSession(r.Context(), id)
		if err != nil {
			h.logger.Error("Failed to set active session", "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to set active session")
			return
		}
		if h.events != nil {
			if err := h.events.PublishSessionChanged(r.Context(), id); err != nil {
				h.logger.Warn("Failed to publish session event", "error", err)
			}
		}
		writeJSON(w, h.logger, http.StatusOK, active)

	default:
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPost)
	}
}
