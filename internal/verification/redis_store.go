package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ovr:"

// RedisStore persists records as compact binary values under "<prefix><key>".
// Update uses WATCH/MULTI so concurrent verifications of one record never lose an
// attempt increment.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

// Save replaces the record under key.
func (s *RedisStore) Save(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.prefix+key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Update applies fn inside a WATCH transaction, retrying on conflicts.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	full := s.prefix + key

	for i := 0; i < maxUpdateRetries; i++ {
		var fnErr error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var (
				rec   Record
				found bool
			)
			data, err := tx.Get(ctx, full).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				rec, err = decodeRecord(data)
				if err != nil {
					// Unreadable records are treated as absent and overwritten on issue.
					rec = Record{}
				} else {
					found = true
				}
			}

			write, err := fn(&rec, found)
			if err != nil {
				fnErr = err
				return nil
			}
			if !write {
				return nil
			}

			ttl := retentionTTL(rec, s.now())
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, full)
					return nil
				})
				return err
			}

			updated, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, full, updated, ttl)
				return nil
			})
			return err
		}, full)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return fnErr
	}

	return ErrStoreContention
}
