package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// slidingWindowScript trims entries older than the window, then admits the
// request only if fewer than limit remain. Denied requests are not recorded.
// Returns {1, 0} when allowed and {0, oldestScoreMillis} when denied.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2])}
`)

type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckLimit records one request under key and reports whether it fits in
// the sliding window. Redis errors deny the request.
func (l *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	now := time.Now()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{"ratelimit:" + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 2 {
		log.Error().Err(err).Str("key", key).Msg("rate limiter: redis check failed, denying request")
		return false, now.Add(window)
	}

	if res[0] == 1 {
		return true, now.Add(window)
	}
	resetAt := time.UnixMilli(res[1]).Add(window)
	if !resetAt.After(now) {
		resetAt = now.Add(time.Second)
	}
	return false, resetAt
}
