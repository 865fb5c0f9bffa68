package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "osess:"
	// Expired sessions stay readable briefly so the caller can observe and delete them.
	expiredRetention = time.Minute
)

// RedisRepository stores one encoded session per entity under "<prefix><entityID>",
// with a Redis TTL slightly past the session's own expiry.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRepository builds a repository. An empty prefix selects "osess:".
func NewRedisRepository(client redis.UniversalClient, prefix string, now func() time.Time) *RedisRepository {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisRepository{redis: client, prefix: prefix, now: now}
}

func (r *RedisRepository) key(entityID string) string {
	return r.prefix + entityID
}

// Load implements Repository.
func (r *RedisRepository) Load(ctx context.Context, entityID string) (*State, error) {
	data, err := r.redis.Get(ctx, r.key(entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

// Save implements Repository.
func (r *RedisRepository) Save(ctx context.Context, s *State) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}

	ttl := s.ExpiresAt.Add(expiredRetention).Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, s.EntityID)
	}
	if err := r.redis.Set(ctx, r.key(s.EntityID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete implements Repository.
func (r *RedisRepository) Delete(ctx context.Context, entityID string) error {
	if err := r.redis.Del(ctx, r.key(entityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
