package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis Pub/Sub channel every relay event is published on.
const Channel = "relay-events"

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeFileWritten      EventType = "file.written"
	EventTypeFileDeleted      EventType = "file.deleted"
	EventTypeWebhookReceived  EventType = "webhook.received"
	EventTypeCompletionStored EventType = "completion.stored"
	EventTypeSessionChanged   EventType = "session.changed"
)

// Event represents a generic event structure
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishFileWritten publishes a file.written event
func (b *Broadcaster) PublishFileWritten(ctx context.Context, path string, length int) error {
	return b.publish(ctx, Event{
		Type: EventTypeFileWritten,
		Data: map[string]any{"path": path, "contentLength": length},
	})
}

// PublishFileDeleted publishes a file.deleted event
func (b *Broadcaster) PublishFileDeleted(ctx context.Context, path string) error {
	return b.publish(ctx, Event{
		Type: EventTypeFileDeleted,
		Data: map[string]any{"path": path},
	})
}

// PublishWebhookReceived publishes a webhook.received event
func (b *Broadcaster) PublishWebhookReceived(ctx context.Context, id int64, receivedAt string) error {
	return b.publish(ctx, Event{
		Type: EventTypeWebhookReceived,
		Data: map[string]any{"id": id, "receivedAt": receivedAt},
	})
}

// PublishCompletionStored publishes a completion.stored event
func (b *Broadcaster) PublishCompletionStored(ctx context.Context, status int) error {
	return b.publish(ctx, Event{
		Type: EventTypeCompletionStored,
		Data: map[string]any{"status": status},
	})
}

// PublishSessionChanged publishes a session.changed event
func (b *Broadcaster) PublishSessionChanged(ctx context.Context, sessionID string) error {
	return b.publish(ctx, Event{
		Type: EventTypeSessionChanged,
		Data: map[string]any{"sessionId": sessionID},
	})
}

// Subscribe opens a subscription to the relay channel. Callers must Close it.
func (b *Broadcaster) Subscribe(ctx context.Context) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel)
}

func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, Channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", Channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", Channel,
		"event_type", event.Type,
	)

	return nil
}
