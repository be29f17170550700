package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "shule:credential"

// RedisStore keeps the credential in a single redis key. It exists for
// deployments where the portal runtime is re-scheduled across hosts and
// a local file would not survive.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Get(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("redis get credential: %w", err)
	}
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("redis set credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del credential: %w", err)
	}
	return nil
}
