package services

import (
	"context"
)

// Cache defines the relay's Redis-backed state
type Cache interface {
	// Ping tests the cache connection
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error

	// WaitForConnection waits for cache to be available with retries
	WaitForConnection(ctx context.Context) error

	// SaveLastCompletion replaces the stored last completion result
	SaveLastCompletion(ctx context.Context, c StoredCompletion) error

	// LastCompletion returns the stored result, or nil when none is stored
	LastCompletion(ctx context.Context) (*StoredCompletion, error)

	// SetActiveSession claims the story for sessionID; an empty id releases it
	SetActiveSession(ctx context.Context, sessionID string) (ActiveSession, error)

	// ActiveSession returns the current owner of the story
	ActiveSession(ctx context.Context) (ActiveSession, error)
}

// StoredCompletion is the last successful upstream completion and the key of
// the request that produced it. Body is kept verbatim, JSON or not.
type StoredCompletion struct {
	Key         string `json:"key"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
	StoredAt    string `json:"storedAt"`
}
