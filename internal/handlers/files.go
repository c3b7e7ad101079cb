package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/storage"
)

// FilesHandler serves plain text files from the data directory.
// Routes:
// POST /api/files/read   - {path} -> {content} (null when missing)
// POST /api/files/write  - {path, content}
// POST /api/files/delete - {path}
type FilesHandler struct {
	files  FileStore
	events EventPublisher
	logger *slog.Logger
}

func NewFilesHandler(files FileStore, events EventPublisher, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		files:  files,
		events: events,
		logger: logger,
	}
}

func (h *FilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, h.logger, http.MethodPost)
		return
	}

	var req services.FileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid file request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body. Expected JSON with 'path' field.")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "path is required")
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/files/") {
	case "read":
		h.read(w, r, req)
	case "write":
		h.write(w, r, req)
	case "delete":
		h.delete(w, r, req)
	default:
		writeError(w, h.logger, http.StatusNotFound, "Unknown file operation")
	}
}

func (h *FilesHandler) read(w http.ResponseWriter, r *http.Request, req services.FileRequest) {
	content, found, err := h.files.Read(r.Context(), req.Path)
	if err != nil {
		h.fail(w, req.Path, "read", err)
		return
	}

	resp := services.FileResponse{Success: true, Path: req.Path}
	if found {
		resp.Content = &content
		resp.Length = len(content)
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *FilesHandler) write(w http.ResponseWriter, r *http.Request, req services.FileRequest) {
	if err := h.files.Write(r.Context(), req.Path, req.Content); err != nil {
		h.fail(w, req.Path, "write", err)
		return
	}

	if h.events != nil {
		if err := h.events.PublishFileWritten(r.Context(), req.Path, len(req.Content)); err != nil {
			h.logger.Warn("Failed to publish file event", "error", err, "path", req.Path)
		}
	}
	writeJSON(w, h.logger, http.StatusOK, services.FileResponse{Success: true, Path: req.Path, Length: len(req.Content)})
}

func (h *FilesHandler) delete(w http.ResponseWriter, r *http.Request, req services.FileRequest) {
	if err := h.files.Delete(r.Context(), req.Path); err != nil {
		h.fail(w, req.Path, "delete", err)
		return
	}

	if h.events != nil {
		if err := h.events.PublishFileDeleted(r.Context(), req.Path); err != nil {
			h.logger.Warn("Failed to publish file event", "error", err, "path", req.Path)
		}
	}
	writeJSON(w, h.logger, http.StatusOK, services.FileResponse{Success: true, Path: req.Path})
}

func (h *FilesHandler) fail(w http.ResponseWriter, path, op string, err error) {
	if errors.Is(err, storage.ErrInvalidPath) {
		h.logger.Warn("Rejected file path", "path", path, "op", op, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("File operation failed", "path", path, "op", op, "error", err)
	writeError(w, h.logger, http.StatusInternalServerError, "Failed to "+op+" file")
}
