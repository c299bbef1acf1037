package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces checkpoint keys.
const DefaultKeyPrefix = "inboxpilot:checkpoint"

// RedisConfig configures OpenRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix defaults to DefaultKeyPrefix.
	Prefix string
}

// RedisStore keeps checkpoints in Redis under prefix:threadID:toolCallID.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	addr := config.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStore(client, config.Prefix)
	s.owned = true
	return s, nil
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close closes the client if the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(threadID, toolCallID string) string {
	return s.prefix + ":" + threadID + ":" + toolCallID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, threadID, toolCallID string, data []byte, ttl time.Duration) error {
	if err := validateKey(threadID, toolCallID); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := s.client.Set(ctx, s.key(threadID, toolCallID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID, toolCallID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(threadID, toolCallID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// Take implements Store with GETDEL.
func (s *RedisStore) Take(ctx context.Context, threadID, toolCallID string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, s.key(threadID, toolCallID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take checkpoint: %w", err)
	}
	return data, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID, toolCallID string) error {
	if err := s.client.Del(ctx, s.key(threadID, toolCallID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
