package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/repository/memory"
	"github.com/fastygo/tenantauth/usecase/ratelimit"
)

type brokenCounters struct{}

func (brokenCounters) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestAuthPolicyRejectsEleventhAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := ratelimit.New(memory.NewCounterStore(memory.CounterStoreConfig{Now: clock}), ratelimit.Config{Now: clock}, nil)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		decision, err := limiter.Allow(ctx, ratelimit.PolicyAuth, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "attempt %d", i)
		require.Equal(t, 10-i, decision.Remaining)
	}
	decision, err := limiter.Allow(ctx, ratelimit.PolicyAuth, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 0, decision.Remaining)
	require.Equal(t, 15*time.Minute, decision.RetryAfter(now))

	api, err := limiter.Allow(ctx, ratelimit.PolicyAPI, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, api.Allowed)
	require.Equal(t, 300, api.Limit)

	other, err := limiter.Allow(ctx, ratelimit.PolicyAuth, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, other.Allowed)

	now = now.Add(15 * time.Minute)
	decision, err = limiter.Allow(ctx, ratelimit.PolicyAuth, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestCustomPolicyOverridesDefault(t *testing.T) {
	limiter := ratelimit.New(memory.NewCounterStore(memory.CounterStoreConfig{}), ratelimit.Config{
		Policies: map[string]ratelimit.Policy{ratelimit.PolicyAuth: {Limit: 1, Window: time.Minute}},
	}, nil)

	first, err := limiter.Allow(context.Background(), ratelimit.PolicyAuth, "ip")
	require.NoError(t, err)
	require.True(t, first.Allowed)
	second, err := limiter.Allow(context.Background(), ratelimit.PolicyAuth, "ip")
	require.NoError(t, err)
	require.False(t, second.Allowed)

	unknown, err := limiter.Allow(context.Background(), "uploads", "ip")
	require.NoError(t, err)
	require.True(t, unknown.Allowed)
}

func TestStoreFailureIsReported(t *testing.T) {
	limiter := ratelimit.New(brokenCounters{}, ratelimit.Config{}, nil)
	_, err := limiter.Allow(context.Background(), ratelimit.PolicyAPI, "ip")
	require.Error(t, err)
	require.Equal(t, "rl:api:ip", ratelimit.Key(ratelimit.PolicyAPI, "ip"))
}
