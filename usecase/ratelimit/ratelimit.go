// Package ratelimit applies fixed-window request limits per caller address
// over a shared counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/usecase"
)

const (
	PolicyAuth = "auth"
	PolicyAPI  = "api"

	serviceCounters = "counter-store"
)

type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// DefaultPolicies are the stricter authentication limit and the general API
// limit.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyAuth: {Name: PolicyAuth, Limit: 10, Window: 15 * time.Minute},
		PolicyAPI:  {Name: PolicyAPI, Limit: 300, Window: time.Minute},
	}
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait before the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

type Config struct {
	Policies     map[string]Policy
	StoreTimeout time.Duration
	Now          func() time.Time
}

type Limiter struct {
	counters repository.CounterStore
	policies map[string]Policy
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func New(counters repository.CounterStore, cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	policies := DefaultPolicies()
	for name, policy := range cfg.Policies {
		policy.Name = name
		policies[name] = policy
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		counters: counters,
		policies: policies,
		timeout:  cfg.StoreTimeout,
		now:      cfg.Now,
		logger:   logger,
	}
}

// Key is the counter key for caller under policy.
func Key(policy, caller string) string {
	return fmt.Sprintf("rl:%s:%s", policy, caller)
}

// Allow counts one request from caller against the named policy. Unknown
// policies and disabled limits always allow. Store failures are returned to
// the caller, which decides whether to fail open.
func (l *Limiter) Allow(ctx context.Context, policyName, caller string) (Decision, error) {
	policy, ok := l.policies[policyName]
	if !ok || policy.Limit <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	var (
		count   int64
		resetIn time.Duration
	)
	err := usecase.Call(ctx, serviceCounters, l.timeout, func(ctx context.Context) error {
		var incErr error
		count, resetIn, incErr = l.counters.Increment(ctx, Key(policy.Name, caller), policy.Window)
		return incErr
	})
	if err != nil {
		l.logger.Warn("rate limit counter unavailable", zap.String("policy", policy.Name), zap.Error(err))
		return Decision{}, err
	}

	remaining := policy.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(policy.Limit),
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(resetIn),
	}, nil
}
