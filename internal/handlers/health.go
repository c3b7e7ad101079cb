package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/storyloom/internal/services"
)

const serviceName = "storyloom-relay"

type HealthHandler struct {
	cache   services.Cache
	version string
	logger  *slog.Logger
}

func NewHealthHandler(cache services.Cache, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cache:   cache,
		version: version,
		logger:  logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string)
	overallStatus := "healthy"

	if err := h.cache.Ping(ctx); err != nil {
		h.logger.Warn("Cache health check failed", "error", err)
		components["cache"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		components["cache"] = "healthy"
	}

	response := services.HealthResponse{
		Status:     overallStatus,
		Service:    serviceName,
		Version:    h.version,
		Timestamp:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, statusCode, response)
}
