package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/repository"
)

// incrementScript bumps the counter and starts the window on its first hit,
// so the count and its expiry are set in one round trip.
var incrementScript = redislib.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type counterStore struct {
	client *redislib.Client
	prefix string
}

// NewCounterStore creates a Redis-backed fixed-window counter shared by all
// server instances.
func NewCounterStore(client *redislib.Client, prefix string) repository.CounterStore {
	return &counterStore{
		client: client,
		prefix: prefix,
	}
}

func (s *counterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}

	result, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, windowMillis).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, 0, err
		}
		return 0, 0, domain.ServiceFailure("redis", "EVALSHA", "counter.increment", err)
	}
	return parseReply(result, time.Duration(windowMillis)*time.Millisecond)
}

// parseReply reads the {count, pttl} pair returned by incrementScript. A
// missing ttl falls back to the full window.
func parseReply(result any, window time.Duration) (int64, time.Duration, error) {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return 0, 0, fmt.Errorf("unexpected counter response %T", result)
	}
	current, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("invalid counter value %T", values[0])
	}
	resetIn := window
	if ttlMillis, _ := values[1].(int64); ttlMillis > 0 {
		resetIn = time.Duration(ttlMillis) * time.Millisecond
	}
	return current, resetIn, nil
}

func (s *counterStore) key(key string) string {
	return fmt.Sprintf("%s%s", s.prefix, key)
}
