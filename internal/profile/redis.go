package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vita/internal/domain"
)

const redisKeyPrefix = "vita:profile:"

// RedisStore keeps each profile as a JSON string under vita:profile:<session>.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, session string) (domain.UserProfile, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+SessionKey(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserProfile{}, nil
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("redis get profile: %w", err)
	}
	var p domain.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *RedisStore) Put(ctx context.Context, session string, p domain.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+SessionKey(session), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set profile: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, session string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+SessionKey(session)).Err(); err != nil {
		return fmt.Errorf("redis del profile: %w", err)
	}
	return nil
}
