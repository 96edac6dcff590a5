package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

const tokenKeyPrefix = "presence:token:"

// RedisKeyStore keeps emitted rotation tokens in Redis so every API replica can resolve
// a presented token, whichever replica runs the rotation.
type RedisKeyStore struct {
	client redis.Cmdable
}

// NewRedisKeyStore constructs a Redis backed key store.
func NewRedisKeyStore(client redis.Cmdable) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

// Put stores token under its secure value for ttl.
func (s *RedisKeyStore) Put(ctx context.Context, token models.RotatedToken, ttl time.Duration) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal rotated token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKeyPrefix+token.SecureValue, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

// Get resolves a secure value. Unknown or evicted values return nil, nil.
func (s *RedisKeyStore) Get(ctx context.Context, secureValue string) (*models.RotatedToken, error) {
	raw, err := s.client.Get(ctx, tokenKeyPrefix+secureValue).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var token models.RotatedToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("unmarshal rotated token: %w", err)
	}
	return &token, nil
}
