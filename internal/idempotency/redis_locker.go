package idempotency

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goOnboard/internal"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix     = "olk:"
	defaultLease        = 30 * time.Second
	defaultPollInterval = 10 * time.Millisecond
	releaseTimeout      = time.Second
	lockTokenBytes      = 16
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// RedisLockerConfig tunes a RedisLocker.
type RedisLockerConfig struct {
	Prefix       string
	Lease        time.Duration
	PollInterval time.Duration
}

// RedisLocker is a lease lock shared by every process using the same Redis. The
// lease must exceed the longest expected critical section: it is not renewed, and
// an expired lease lets another holder in.
type RedisLocker struct {
	redis redis.UniversalClient
	cfg   RedisLockerConfig
}

// NewRedisLocker builds a RedisLocker, filling zero config fields with defaults.
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = redisLockPrefix
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &RedisLocker{redis: client, cfg: cfg}
}

// Acquire implements Locker by polling SET NX PX until it wins or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	raw, err := internal.NewSecret(lockTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	token := hex.EncodeToString(raw)
	full := l.cfg.Prefix + key

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, full, token, l.cfg.Lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
		if ok {
			return l.releaser(full, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(full, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release on a fresh one.
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseLua.Run(ctx, l.redis, []string{full}, token).Err()
		})
	}
}
