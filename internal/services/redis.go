package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

const (
	lastCompletionKey = "completion:last"
	activeSessionKey  = "browser:active"

	// LastCompletionTTL bounds how long a result stays recoverable.
	LastCompletionTTL = time.Hour
)

// RedisService implements the Cache interface using Redis
type RedisService struct {
	client *redis.Client
	logger *slog.Logger

	retryDelay time.Duration
	maxRetries int
}

// Ensure RedisService implements Cache interface
var _ Cache = (*RedisService)(nil)

// NewRedisService creates a Redis service from a redis:// URL or a bare host:port.
func NewRedisService(redisURL string, logger *slog.Logger) *RedisService {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	return NewRedisServiceWithClient(redis.NewClient(opt), logger)
}

// NewRedisServiceWithClient wraps an existing client.
func NewRedisServiceWithClient(client *redis.Client, logger *slog.Logger) *RedisService {
	return &RedisService{
		client:     client,
		logger:     logger,
		retryDelay: 2 * time.Second,
		maxRetries: 30,
	}
}

func (r *RedisService) Ping(ctx context.Context) error {
	cmd := r.client.Ping(ctx)
	if err := cmd.Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	r.logger.Debug("Redis ping successful", "result", cmd.Val())
	return nil
}

func (r *RedisService) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}

	r.logger.Info("Redis connection closed")
	return nil
}

func (r *RedisService) GetClient() *redis.Client {
	return r.client
}

func (r *RedisService) WaitForConnection(ctx context.Context) error {
	for i := 0; i < r.maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(r.retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", r.maxRetries)
}

func (r *RedisService) SaveLastCompletion(ctx context.Context, c StoredCompletion) error {
	if c.StoredAt == "" {
		c.StoredAt = entry.Now()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal completion: %w", err)
	}
	if err := r.client.Set(ctx, lastCompletionKey, data, LastCompletionTTL).Err(); err != nil {
		r.logger.Error("Redis SET failed", "key", lastCompletionKey, "error", err)
		return fmt.Errorf("redis set failed: %w", err)
	}
	r.logger.Debug("Stored last completion", "status", c.Status, "bytes", len(c.Body))
	return nil
}

func (r *RedisService) LastCompletion(ctx context.Context) (*StoredCompletion, error) {
	data, err := r.client.Get(ctx, lastCompletionKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.logger.Error("Redis GET failed", "key", lastCompletionKey, "error", err)
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c StoredCompletion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse stored completion: %w", err)
	}
	return &c, nil
}

type activeRecord struct {
	SessionID string `json:"sessionId"`
	UpdatedAt string `json:"updatedAt"`
}

func (r *RedisService) SetActiveSession(ctx context.Context, sessionID string) (ActiveSession, error) {
	if sessionID == "" {
		if err := r.client.Del(ctx, activeSessionKey).Err(); err != nil {
			return ActiveSession{}, fmt.Errorf("redis del failed: %w", err)
		}
		r.logger.Info("Active session released")
		return ActiveSession{}, nil
	}

	rec := activeRecord{SessionID: sessionID, UpdatedAt: entry.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return ActiveSession{}, fmt.Errorf("failed to marshal active session: %w", err)
	}
	if err := r.client.Set(ctx, activeSessionKey, data, 0).Err(); err != nil {
		return ActiveSession{}, fmt.Errorf("redis set failed: %w", err)
	}

	r.logger.Info("Active session changed", "session_id", sessionID)
	return rec.toActive(), nil
}

func (r *RedisService) ActiveSession(ctx context.Context) (ActiveSession, error) {
	data, err := r.client.Get(ctx, activeSessionKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ActiveSession{}, nil
		}
		return ActiveSession{}, fmt.Errorf("redis get failed: %w", err)
	}

	var rec activeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ActiveSession{}, fmt.Errorf("failed to parse active session: %w", err)
	}
	return rec.toActive(), nil
}

func (a activeRecord) toActive() ActiveSession {
	return ActiveSession{
		Active:    true,
		SessionID: &a.SessionID,
		UpdatedAt: &a.UpdatedAt,
	}
}
