package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting keys:
// - ratelimit:{user_id}:create - estados posted per window
// - ratelimit:{user_id}:reaction - reactions set per window

type RateLimitAction string

const (
	ActionCreate   RateLimitAction = "create"
	ActionReaction RateLimitAction = "reaction"
)

type RateLimitConfig struct {
	CreateLimit    int
	CreateWindow   time.Duration
	ReactionLimit  int
	ReactionWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		CreateLimit:    30,
		CreateWindow:   time.Hour,
		ReactionLimit:  120,
		ReactionWindow: time.Minute,
	}
}

type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
	script *goredis.Script
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

// limitScript increments the window counter unless it reached the limit and
// returns {allowed, remaining, ttl}.
const limitScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
local ttl = redis.call('TTL', key)
if ttl < 0 then
	ttl = window
end

if current < limit then
	redis.call('INCR', key)
	if ttl == window then
		redis.call('EXPIRE', key, window)
	end
	return {1, limit - current - 1, ttl}
end
return {0, 0, ttl}
`

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
		script: goredis.NewScript(limitScript),
	}
}

// Allow checks and consumes one unit of the subject's quota for action.
func (r *RateLimiter) Allow(ctx context.Context, action RateLimitAction, subject string) (*RateLimitResult, error) {
	limit, window := r.limitFor(action)
	if limit <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	return r.checkLimit(ctx, Key(action, subject), limit, window)
}

// Key is the Redis key holding a subject's counter for action.
func Key(action RateLimitAction, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", subject, action)
}

func (r *RateLimiter) limitFor(action RateLimitAction) (int, time.Duration) {
	switch action {
	case ActionCreate:
		return r.config.CreateLimit, r.config.CreateWindow
	case ActionReaction:
		return r.config.ReactionLimit, r.config.ReactionWindow
	}
	return 0, 0
}

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := r.script.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	return &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetIn:   time.Duration(result[2]) * time.Second,
		Limit:     limit,
	}, nil
}

// Reset clears a subject's counter for action.
func (r *RateLimiter) Reset(ctx context.Context, action RateLimitAction, subject string) error {
	return r.client.Del(ctx, Key(action, subject)).Err()
}
