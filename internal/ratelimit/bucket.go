// Package ratelimit implements the per-(provider, model) token bucket
// called for in §9 Design Notes, shared across worker processes via Redis
// when configured, falling back to an in-process bucket otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Bucket is the interface extractor/embedder call sites depend on.
type Bucket interface {
	// Allow blocks until a token is available or ctx is cancelled.
	Allow(ctx context.Context, key string) error
}

// Config mirrors config.RateLimitConfig without importing the config
// package, to avoid a dependency cycle.
type Config struct {
	RefillPerS float64
	BucketSize float64
}

// Memory is an in-process token bucket per key, for single-process
// deployments and tests.
type Memory struct {
	cfg Config
	mu  sync.Mutex
	st  map[string]*state
}

type state struct {
	tokens   float64
	lastFill time.Time
}

func NewMemory(cfg Config) *Memory {
	return &Memory{cfg: cfg, st: make(map[string]*state)}
}

func (m *Memory) Allow(ctx context.Context, key string) error {
	for {
		wait, ok := m.tryTake(key)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Memory) tryTake(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.st[key]
	now := time.Now()
	if !ok {
		s = &state{tokens: m.cfg.BucketSize, lastFill: now}
		m.st[key] = s
	}
	elapsed := now.Sub(s.lastFill).Seconds()
	s.tokens += elapsed * m.cfg.RefillPerS
	if s.tokens > m.cfg.BucketSize {
		s.tokens = m.cfg.BucketSize
	}
	s.lastFill = now

	if s.tokens >= 1 {
		s.tokens--
		return 0, true
	}
	deficit := 1 - s.tokens
	return time.Duration(deficit/m.cfg.RefillPerS*float64(time.Second)) + time.Millisecond, false
}

// Redis is a cross-process token bucket backed by a Redis hash/TTL
// scheme, grounded on the teacher's RedisDedupeStore construction pattern
// (ping-on-construct, simple GET/SET-style primitives).
type Redis struct {
	client *redis.Client
	cfg    Config
}

func NewRedis(addr string, cfg Config) (*Redis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis ping failed: %w", err)
	}
	return &Redis{client: c, cfg: cfg}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

// luaTokenBucket performs a refill-then-take as a single atomic script so
// concurrent callers across processes never observe a torn bucket update.
const luaTokenBucket = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_s = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
	tokens = capacity
	ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * refill_per_s)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, 3600)
return allowed
`

func (r *Redis) Allow(ctx context.Context, key string) error {
	for {
		now := float64(time.Now().UnixNano()) / 1e9
		res, err := r.client.Eval(ctx, luaTokenBucket, []string{"ratelimit:" + key},
			r.cfg.BucketSize, r.cfg.RefillPerS, now).Result()
		if err != nil {
			return fmt.Errorf("ratelimit: redis eval: %w", err)
		}
		allowed, _ := res.(int64)
		if allowed == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1/r.cfg.RefillPerS*float64(time.Second)) + time.Millisecond):
		}
	}
}
