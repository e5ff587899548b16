package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations for replay protection. The client is
// shared with the rate limiter and the change feed.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client returns the underlying client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// nonceKey returns the key for nonce tracking.
func nonceKey(userID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", userID, nonce)
}

// ClaimNonce records a nonce for ttl. It returns false when the nonce was
// already claimed.
func (s *RedisStore) ClaimNonce(ctx context.Context, userID, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, nonceKey(userID, nonce), "1", ttl).Result()
}
