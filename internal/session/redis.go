// ABOUTME: Redis session store using go-redis
// ABOUTME: Stores the bare thread id with a native key expiry (SET EX / EXPIRE)

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Values are plain thread ids and
// expiry is delegated to Redis, so no purge loop is needed.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects using a redis:// or rediss:// URL and verifies the connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the client from then on.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	logger := slog.Default().With("component", "session", "backend", "redis")
	logger.Info("Redis session store initialized", "addr", client.Options().Addr)
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (string, error) {
	threadID, err := s.client.Get(ctx, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", unavailable("reading session", err)
	}
	return threadID, nil
}

func (s *RedisStore) Lookup(ctx context.Context, userID string) (*Session, error) {
	var (
		get *redis.StringCmd
		ttl *redis.DurationCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, userID)
		ttl = pipe.PTTL(ctx, userID)
		return nil
	})
	if errors.Is(err, redis.Nil) || errors.Is(get.Err(), redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("reading session", err)
	}

	sess := &Session{UserID: userID, ThreadID: get.Val()}
	if remaining := ttl.Val(); remaining > 0 {
		sess.ExpiresAt = time.Now().Add(remaining).UTC()
	}
	return sess, nil
}

func (s *RedisStore) Put(ctx context.Context, userID, threadID string, ttl time.Duration) error {
	if err := validatePut(userID, threadID, ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, userID, threadID, ttl).Err(); err != nil {
		return unavailable("writing session", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, userID, ttl).Result()
	if err != nil {
		return unavailable("touching session", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
