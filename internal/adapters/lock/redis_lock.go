package lock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gavel-auction-service/internal/config"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only when it still holds our token, so a
// lease that expired and was re-acquired by another caller is never stolen
// back.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements the Locker port with a Redis lease per key. The
// lease self-expires, so a crashed holder cannot wedge an auction.
type RedisLocker struct {
	client      *redis.Client
	lease       time.Duration
	maxAttempts int
	retryDelay  time.Duration
	retryJitter time.Duration
	logger      zerolog.Logger
}

type RedisLockerParams struct {
	RedisClient *redis.Client
	Config      config.LockConfig
	Logger      zerolog.Logger
}

// NewRedisLocker creates a new Redis-backed locker
func NewRedisLocker(params RedisLockerParams) *RedisLocker {
	return &RedisLocker{
		client:      params.RedisClient,
		lease:       params.Config.Lease,
		maxAttempts: params.Config.MaxAttempts,
		retryDelay:  params.Config.RetryDelay,
		retryJitter: params.Config.RetryJitter,
		logger:      params.Logger.With().Str("component", "redis_locker").Logger(),
	}
}

// Acquire takes the lease for key, retrying with jittered delay up to the
// configured attempt budget. Exhaustion surfaces shared.ErrLockTimeout.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (outbound.Lease, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("lock service: %w", err)
		}
		if ok {
			l.logger.Debug().Str("key", key).Int("attempt", attempt+1).Msg("Lock acquired")
			return &redisLease{client: l.client, key: key, token: token, logger: l.logger}, nil
		}

		delay := l.retryDelay
		if l.retryJitter > 0 {
			delay += time.Duration(rand.Int63n(int64(l.retryJitter)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("lock service: %w", ctx.Err())
		}
	}

	l.logger.Warn().Str("key", key).Int("attempts", l.maxAttempts).Msg("Lock acquisition exhausted")
	return nil, shared.ErrLockTimeout
}

type redisLease struct {
	client   *redis.Client
	key      string
	token    string
	released sync.Once
	logger   zerolog.Logger
}

// Release frees the lease via compare-and-delete. Releasing twice, or
// releasing a lease that already expired, is a no-op.
func (le *redisLease) Release(ctx context.Context) error {
	var err error
	le.released.Do(func() {
		var deleted interface{}
		deleted, err = releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Result()
		if err != nil {
			err = fmt.Errorf("lock service: %w", err)
			return
		}
		if n, ok := deleted.(int64); ok && n == 0 {
			le.logger.Warn().Str("key", le.key).Msg("Lease already expired or taken over at release")
		}
	})
	return err
}
