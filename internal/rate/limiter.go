package rate

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var checkScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local lockUntil = tonumber(redis.call("GET", KEYS[2]) or "0")
if lockUntil > now then
  return {1, lockUntil - now, 0}
end
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - tonumber(ARGV[2]))
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  local lockout = tonumber(ARGV[4])
  if lockout <= 0 then
    return {1, 0, count}
  end
  redis.call("SET", KEYS[2], now + lockout, "PX", lockout)
  redis.call("DEL", KEYS[1])
  return {1, lockout, count}
end
return {0, 0, count}
`)

var recordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local lockUntil = tonumber(redis.call("GET", KEYS[2]) or "0")
if lockUntil > now then
  return {1, lockUntil - now, 0}
end
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - tonumber(ARGV[2]))
redis.call("ZADD", KEYS[1], now, ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  local lockout = tonumber(ARGV[4])
  if lockout <= 0 then
    return {1, 0, count}
  end
  redis.call("SET", KEYS[2], now + lockout, "PX", lockout)
  redis.call("DEL", KEYS[1])
  return {1, lockout, count}
end
return {0, 0, count}
`)

// Redis is a Limiter backed by a sorted set of attempt timestamps and a lockout key
// per identifier. Every operation is one Lua script, so check and record are atomic
// relative to each other across processes.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
	seq    atomic.Uint64
}

// NewRedis creates a Redis-backed limiter. Keys are "<prefix>w:<id>" and "<prefix>l:<id>".
func NewRedis(client redis.UniversalClient, prefix string, now func() time.Time) *Redis {
	if prefix == "" {
		prefix = "orl:"
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{redis: client, prefix: prefix, now: now}
}

// IsLimited prunes the window for id and reports whether it is limited.
func (l *Redis) IsLimited(ctx context.Context, id string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	res, err := checkScript.Run(ctx, l.redis, l.keys(id),
		l.now().UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxAttempts,
		p.Lockout.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decisionFrom(res), nil
}

// RecordAttempt appends an attempt for id unless it is locked out.
func (l *Redis) RecordAttempt(ctx context.Context, id string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(l.seq.Add(1), 36)
	res, err := recordScript.Run(ctx, l.redis, l.keys(id),
		now.UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxAttempts,
		p.Lockout.Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decisionFrom(res), nil
}

// ResetAttempts clears attempts and lockout for id.
func (l *Redis) ResetAttempts(ctx context.Context, id string) error {
	if err := l.redis.Del(ctx, l.keys(id)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Redis) keys(id string) []string {
	return []string{l.prefix + "w:" + id, l.prefix + "l:" + id}
}

func decisionFrom(res []int64) Decision {
	if len(res) < 3 {
		return Decision{}
	}
	return Decision{
		Limited:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Attempts:   int(res[2]),
	}
}
