package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/domain"
)

func TestParseReply(t *testing.T) {
	count, resetIn, err := parseReply([]any{int64(3), int64(1500)}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	require.Equal(t, 1500*time.Millisecond, resetIn)

	_, resetIn, err = parseReply([]any{int64(1), int64(-1)}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, time.Minute, resetIn)

	_, _, err = parseReply("OK", time.Minute)
	require.Error(t, err)
	_, _, err = parseReply([]any{"1", int64(10)}, time.Minute)
	require.Error(t, err)
}

func TestIncrementUnreachableIsRetryable(t *testing.T) {
	client := redislib.NewClient(&redislib.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	_, _, err := NewCounterStore(client, "rl:").Increment(context.Background(), "auth:10.0.0.1", time.Minute)
	require.Error(t, err)
	require.Equal(t, domain.ErrCodeUnavailable, domain.CodeOf(err))
}

// Runs against a live server when TEST_REDIS_ADDR is set.
func TestIncrementFixedWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redislib.NewClient(&redislib.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewCounterStore(client, "tenantauth-test:"+uuid.NewString()+":")
	for want := int64(1); want <= 3; want++ {
		count, resetIn, err := store.Increment(ctx, "auth:10.0.0.1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, count)
		require.Greater(t, resetIn, time.Duration(0))
		require.LessOrEqual(t, resetIn, time.Minute)
	}

	count, _, err := store.Increment(ctx, "auth:10.0.0.2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	count, _, err = store.Increment(ctx, "short", 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	time.Sleep(120 * time.Millisecond)
	count, _, err = store.Increment(ctx, "short", 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
