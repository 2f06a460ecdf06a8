package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	// Prefix namespaces lock keys.
	Prefix string
	// TTL bounds how long a crashed holder keeps the lock.
	TTL time.Duration
	// Wait bounds how long Lock retries before ErrTimeout.
	Wait time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

// DefaultRedisConfig returns defaults for entitlement locks.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:        "agora:lock:",
		TTL:           10 * time.Second,
		Wait:          5 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// RedisLocker provides cross-process locks with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	config RedisConfig
	logger *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, config RedisConfig, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultRedisConfig()
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	return &RedisLocker{client: client, config: config, logger: logger}
}

// Lock acquires key or fails with ErrTimeout, ErrUnavailable or ctx.Err().
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.config.Prefix + key
	token := uuid.NewString()

	var deadline time.Time
	if l.config.Wait > 0 {
		deadline = time.Now().Add(l.config.Wait)
	}

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		timer := time.NewTimer(l.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) unlocker(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// Release even if the caller's context is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release lock", "key", redisKey, "error", err)
		}
	}
}

var _ Locker = (*RedisLocker)(nil)
