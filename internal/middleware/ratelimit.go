package middleware

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/usecase/ratelimit"
)

// Limiter counts requests per caller under a named policy.
type Limiter interface {
	Allow(ctx context.Context, policy, caller string) (ratelimit.Decision, error)
}

type RateLimitOptions struct {
	// FailClosed rejects requests when the counter store is unreachable.
	FailClosed bool
	// TrustProxy takes the caller address from X-Forwarded-For.
	TrustProxy bool
	Timeout    time.Duration
	Now        func() time.Time
}

// RateLimit enforces policy per caller address.
func RateLimit(limiter Limiter, policy string, opts RateLimitOptions, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			stdCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
			decision, err := limiter.Allow(stdCtx, policy, callerAddress(ctx, opts.TrustProxy))
			cancel()

			if err != nil {
				if opts.FailClosed {
					logger.Error("rate limiter unavailable, rejecting", zap.String("policy", policy), zap.Error(err))
					reject(ctx, fasthttp.StatusServiceUnavailable,
						domain.NewError(domain.ErrCodeUnavailable, "service temporarily unavailable"))
					return
				}
				logger.Warn("rate limiter unavailable, allowing", zap.String("policy", policy), zap.Error(err))
				next(ctx)
				return
			}

			if decision.Limit > 0 {
				now := opts.Now()
				ctx.Response.Header.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
				ctx.Response.Header.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				ctx.Response.Header.Set("RateLimit-Reset", strconv.Itoa(seconds(decision.RetryAfter(now))))
				if !decision.Allowed {
					ctx.Response.Header.Set("Retry-After", strconv.Itoa(seconds(decision.RetryAfter(now))))
					reject(ctx, fasthttp.StatusTooManyRequests, domain.ErrRateLimited)
					return
				}
			}
			next(ctx)
		}
	}
}

func callerAddress(ctx *fasthttp.RequestCtx, trustProxy bool) string {
	if trustProxy {
		if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	return ctx.RemoteIP().String()
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
