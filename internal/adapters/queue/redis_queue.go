package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"gavel-auction-service/internal/ports/outbound"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const notificationsKey = "notifications:pending"

// RedisQueue implements the notification queue on a Redis list. Workers pop
// with BLPOP; delivery is at-least-once, so consumers must tolerate
// duplicates.
type RedisQueue struct {
	client *redis.Client
	logger zerolog.Logger
}

type RedisQueueParams struct {
	RedisClient *redis.Client
	Logger      zerolog.Logger
}

// NewRedisQueue creates a new Redis-backed notification queue
func NewRedisQueue(params RedisQueueParams) *RedisQueue {
	return &RedisQueue{
		client: params.RedisClient,
		logger: params.Logger.With().Str("component", "redis_queue").Logger(),
	}
}

// Enqueue pushes one notification onto the pending list
func (q *RedisQueue) Enqueue(ctx context.Context, n outbound.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := q.client.RPush(ctx, notificationsKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	q.logger.Debug().
		Str("kind", string(n.Kind)).
		Str("recipient", n.Recipient.String()).
		Msg("Notification enqueued")
	return nil
}
