package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/storyloom/internal/services"
)

const (
	incomingListKey = "webhook:incoming"
	incomingSeqKey  = "webhook:incoming:seq"

	// MaxIncoming is how many received webhooks are retained.
	MaxIncoming = 30
)

// IncomingBuffer is a bounded, ordered record of webhooks received by the relay.
// Ids increase monotonically and survive trimming.
type IncomingBuffer struct {
	client *Client
}

func NewIncomingBuffer(client *Client) *IncomingBuffer {
	return &IncomingBuffer{client: client}
}

// Push records data and returns the stored record and the buffer size after trimming.
func (b *IncomingBuffer) Push(ctx context.Context, data json.RawMessage) (services.IncomingRecord, int, error) {
	id, err := b.client.rdb.Incr(ctx, incomingSeqKey).Result()
	if err != nil {
		return services.IncomingRecord{}, 0, fmt.Errorf("failed to allocate webhook id: %w", err)
	}

	rec := services.IncomingRecord{
		ID:         id,
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Data:       data,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return services.IncomingRecord{}, 0, fmt.Errorf("failed to marshal webhook record: %w", err)
	}

	var size *redis.IntCmd
	_, err = b.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, incomingListKey, raw)
		pipe.LTrim(ctx, incomingListKey, -MaxIncoming, -1)
		size = pipe.LLen(ctx, incomingListKey)
		return nil
	})
	if err != nil {
		b.client.logger.Error("Failed to store incoming webhook", "error", err, "id", id)
		return services.IncomingRecord{}, 0, fmt.Errorf("failed to store incoming webhook: %w", err)
	}

	b.client.logger.Debug("Incoming webhook stored", "id", id, "size", size.Val())
	return rec, int(size.Val()), nil
}

// All returns every retained record, oldest first.
func (b *IncomingBuffer) All(ctx context.Context) ([]services.IncomingRecord, error) {
	raw, err := b.client.rdb.LRange(ctx, incomingListKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read incoming webhooks: %w", err)
	}

	records := make([]services.IncomingRecord, 0, len(raw))
	for _, r := range raw {
		var rec services.IncomingRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			b.client.logger.Warn("Skipping unreadable webhook record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// List builds the polling view: records newer than sinceID (0 for all),
// at most limit of the newest, plus metadata about the whole buffer.
func (b *IncomingBuffer) List(ctx context.Context, sinceID int64, limit int) (services.IncomingList, error) {
	limit = ClampLimit(limit)

	all, err := b.All(ctx)
	if err != nil {
		return services.IncomingList{}, err
	}

	out := services.IncomingList{
		Size:    len(all),
		MaxSize: MaxIncoming,
		Records: []services.IncomingRecord{},
	}
	if len(all) > 0 {
		last := all[len(all)-1]
		out.LastID = &last.ID
		out.LastReceivedAt = &last.ReceivedAt
	}

	var filtered []services.IncomingRecord
	for _, rec := range all {
		if rec.ID > sinceID {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	if filtered != nil {
		out.Records = filtered
	}
	return out, nil
}

// Clear drops all records. The id sequence keeps counting.
func (b *IncomingBuffer) Clear(ctx context.Context) error {
	if err := b.client.rdb.Del(ctx, incomingListKey).Err(); err != nil {
		return fmt.Errorf("failed to clear incoming webhooks: %w", err)
	}
	return nil
}

// ClampLimit bounds a requested page size to 1..MaxIncoming.
func ClampLimit(limit int) int {
	return max(1, min(MaxIncoming, limit))
}
