package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window request limiter backed by Redis. It guards the
// webhook ingestion endpoint against a misbehaving producer.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// New constructs a limiter allowing limit requests per window per key.
func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: limit, window: window}
}

// Allow consumes one request slot for key in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := windowScript.Run(ctx, l.client, []string{l.windowKey(key)}, l.limit, l.window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected type from rate limit script: %T", res)
	}
	return allowed == 1, nil
}

func (l *Limiter) windowKey(key string) string {
	bucket := time.Now().UnixMilli() / l.window.Milliseconds()
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  return 0
end
return 1
`)
