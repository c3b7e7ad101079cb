package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/services/events"
)

func TestFilesHandler_ReadWriteDelete(t *testing.T) {
	f := newRelayFixture(t)
	h := NewFilesHandler(f.files, f.events, f.logger)

	rr := postJSON(t, h, "/api/files/read", services.FileRequest{Path: "story.jsonl"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"path":"story.jsonl","content":null}`, rr.Body.String())

	rr = postJSON(t, h, "/api/files/write", services.FileRequest{Path: "story.jsonl", Content: "{\"id\":\"1\"}\n"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(t, h, "/api/files/read", services.FileRequest{Path: "story.jsonl"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp services.FileResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Content)
	assert.Equal(t, "{\"id\":\"1\"}\n", *resp.Content)

	rr = postJSON(t, h, "/api/files/delete", services.FileRequest{Path: "story.jsonl"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = postJSON(t, h, "/api/files/delete", services.FileRequest{Path: "story.jsonl"})
	assert.Equal(t, http.StatusOK, rr.Code, "deleting twice succeeds")
}

func TestFilesHandler_EmptyContentWrite(t *testing.T) {
	f := newRelayFixture(t)
	h := NewFilesHandler(f.files, nil, f.logger)

	rr := postJSON(t, h, "/api/files/write", services.FileRequest{Path: "world.txt"})
	require.Equal(t, http.StatusOK, rr.Code)

	content, found, err := f.files.Read(context.Background(), "world.txt")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, content)
}

func TestFilesHandler_Errors(t *testing.T) {
	f := newRelayFixture(t)
	h := NewFilesHandler(f.files, nil, f.logger)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"traversal", "/api/files/read", services.FileRequest{Path: "../secret.txt"}, http.StatusBadRequest},
		{"extension", "/api/files/write", services.FileRequest{Path: "run.sh", Content: "x"}, http.StatusBadRequest},
		{"missing path", "/api/files/read", services.FileRequest{}, http.StatusBadRequest},
		{"bad json", "/api/files/read", "{not json", http.StatusBadRequest},
		{"unknown op", "/api/files/rename", services.FileRequest{Path: "a.txt"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, h, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	rr := get(h, "/api/files/read")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestFilesHandler_PublishesWrite(t *testing.T) {
	f := newRelayFixture(t)
	h := NewFilesHandler(f.files, f.events, f.logger)
	ctx := context.Background()

	sub := f.events.Subscribe(ctx)
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	rr := postJSON(t, h, "/api/files/write", services.FileRequest{Path: "world.txt", Content: "fog"})
	require.Equal(t, http.StatusOK, rr.Code)

	select {
	case msg := <-sub.Channel():
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, events.EventTypeFileWritten, ev.Type)
		assert.Equal(t, "world.txt", ev.Data["path"])
	case <-time.After(2 * time.Second):
		t.Fatal("file.written not published")
	}
}
