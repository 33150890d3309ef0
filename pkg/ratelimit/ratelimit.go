// Package ratelimit admits or rejects derive requests per tenant.
//
// Two implementations share the Limiter interface: Local keeps one
// golang.org/x/time/rate bucket per tenant in memory, Redis keeps the bucket
// in a Redis hash updated by a Lua script so several coordinators or a
// restarted one observe the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether a tenant may start another derivation now
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, error)
}

// Policy is a token bucket: RPM tokens per minute, at most Burst banked
type Policy struct {
	RPM   int
	Burst int
}

func (p Policy) perSecond() float64 {
	if p.RPM <= 0 {
		return 1.0
	}
	return float64(p.RPM) / 60.0
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// Local is an in-process per-tenant limiter
type Local struct {
	policy Policy

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocal creates an in-process limiter
func NewLocal(policy Policy) *Local {
	return &Local{policy: policy, limiters: make(map[string]*rate.Limiter)}
}

func (l *Local) Allow(ctx context.Context, tenant string) (bool, error) {
	l.mu.Lock()
	limiter, exists := l.limiters[tenant]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(l.policy.perSecond()), l.policy.burst())
		l.limiters[tenant] = limiter
		log.Debug(fmt.Sprintf("Created derive limiter for %s: %.2f req/s, burst %d",
			tenant, l.policy.perSecond(), l.policy.burst()))
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}

// tokenBucketScript runs the bucket update atomically.
// KEYS[1] bucket key, ARGV: rate per second, capacity, cost, now in seconds.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_refill", tostring(last_refill))
redis.call("EXPIRE", key, 120)

return {allowed, math.floor(tokens)}
`)

// Redis is a limiter whose buckets live in Redis
type Redis struct {
	client *redis.Client
	policy Policy
	now    func() time.Time
}

// NewRedis creates a limiter backed by the given Redis server
func NewRedis(cfg config.RedisConfig, policy Policy) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, policy: policy, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, tenant string) (bool, error) {
	key := "burrow:derive:" + tenant
	now := float64(r.now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, r.client, []string{key},
		r.policy.perSecond(), r.policy.burst(), 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from limiter script")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Ping checks the Redis server answers
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}

// FromConfig picks the Redis limiter when configured, the local one otherwise
func FromConfig(cfg config.RateLimitConfig) Limiter {
	policy := Policy{RPM: cfg.RPM, Burst: cfg.Burst}
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		return NewRedis(*cfg.Redis, policy)
	}
	return NewLocal(policy)
}
