package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/pkg/entry"
)

// ErrorResponse is the JSON error body of every relay endpoint.
type ErrorResponse = services.ErrorResponse

// FileStore is the data directory the relay serves.
type FileStore interface {
	Read(ctx context.Context, path string) (string, bool, error)
	Write(ctx context.Context, path, content string) error
	Delete(ctx context.Context, path string) error
}

// EventPublisher announces relay state changes to SSE subscribers.
type EventPublisher interface {
	PublishFileWritten(ctx context.Context, path string, length int) error
	PublishFileDeleted(ctx context.Context, path string) error
	PublishWebhookReceived(ctx context.Context, id int64, receivedAt string) error
	PublishCompletionStored(ctx context.Context, status int) error
	PublishSessionChanged(ctx context.Context, sessionID string) error
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response", "error", err, "status", status)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, logger *slog.Logger, allowed ...string) {
	logger.Warn("Method not allowed",
		"method", r.Method,
		"path", r.URL.Path)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, logger, http.StatusMethodNotAllowed, "Method not allowed. Supported: "+strings.Join(allowed, ", "))
}

// settingsView is the subset of settings.json the relay enforces.
// Each value is only honored when it has the expected JSON type.
type settingsView struct {
	BaseURL               string
	WebhookURL            string
	EnableIncomingWebhook bool
}

// loadSettings reads settings.json. A missing or unreadable file yields the zero
// view, which skips URL checks and disables incoming webhooks.
func loadSettings(ctx context.Context, files FileStore, logger *slog.Logger) settingsView {
	var view settingsView

	content, found, err := files.Read(ctx, entry.SettingsPath)
	if err != nil {
		logger.Error("Failed to read settings for relay checks", "error", err)
		return view
	}
	if !found {
		logger.Debug("settings.json not found; relay checks skipped")
		return view
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		logger.Error("Failed to parse settings for relay checks", "error", err)
		return view
	}

	if s, ok := raw["baseUrl"].(string); ok {
		view.BaseURL = strings.TrimSpace(s)
	}
	if s, ok := raw["webhookUrl"].(string); ok {
		view.WebhookURL = strings.TrimSpace(s)
	}
	if b, ok := raw["enableIncomingWebhook"].(bool); ok {
		view.EnableIncomingWebhook = b
	}
	return view
}

// normalizeURL lowercases scheme and host and drops a trailing slash, query and fragment.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

func sameURL(a, b string) bool {
	return normalizeURL(a) == normalizeURL(b)
}
