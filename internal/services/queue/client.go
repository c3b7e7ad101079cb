package queue

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Client holds the Redis connection queue buffers run on.
// The connection is shared with the relay cache, which owns and closes it.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClientFromRedis shares an existing connection
func NewClientFromRedis(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{
		rdb:    rdb,
		logger: logger,
	}
}
