package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/mintledger/internal/apperror"
)

const (
	defaultPrefix  = "challenge:v1:"
	defaultTimeout = 2 * time.Second
)

// RedisStore keeps challenges in Redis. Expiry is enforced by the key TTL and
// consumption uses GETDEL, so a code can be read at most once.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	timeout time.Duration
}

// NewRedisStore builds a Redis-backed store. Zero values fall back to defaults.
func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string, timeout time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) key(generationID string) string {
	return s.prefix + generationID
}

func (s *RedisStore) Issue(ctx context.Context, generationID string, digits int) (string, error) {
	code, err := NewCode(digits)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(generationID), code, s.ttl).Err(); err != nil {
		return "", apperror.Unavailable("issue challenge", err)
	}
	return code, nil
}

func (s *RedisStore) Consume(ctx context.Context, generationID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	code, err := s.client.GetDel(ctx, s.key(generationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", apperror.Unavailable("consume challenge", err)
	}
	return code, nil
}

func (s *RedisStore) Discard(ctx context.Context, generationID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(generationID)).Err(); err != nil {
		return apperror.Unavailable("discard challenge", err)
	}
	return nil
}
