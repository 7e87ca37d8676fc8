package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis tier-2 dedup store.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL bounds how long a request id stays known; 0 keeps it forever.
	TTL time.Duration
}

// RedisIdempotencyChecker records applied request ids as Redis keys. Unlike
// the Postgres checker it is not fed by the persistence worker, so the
// engine reports applied requests through MarkProcessed.
type RedisIdempotencyChecker struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisIdempotencyChecker(cfg RedisConfig) (*RedisIdempotencyChecker, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisIdempotencyCheckerWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisIdempotencyCheckerWithClient wraps an existing client.
func NewRedisIdempotencyCheckerWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyChecker {
	if prefix == "" {
		prefix = "clawboard:req:"
	}
	return &RedisIdempotencyChecker{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
	}
}

func (r *RedisIdempotencyChecker) key(id uuid.UUID) string {
	return r.prefix + id.String()
}

// IsDuplicate reports whether the request id was recorded.
func (r *RedisIdempotencyChecker) IsDuplicate(ctx context.Context, requestID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.Exists(ctx, r.key(requestID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the request id.
func (r *RedisIdempotencyChecker) MarkProcessed(ctx context.Context, requestID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(requestID), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping is a readiness probe.
func (r *RedisIdempotencyChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisIdempotencyChecker) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
