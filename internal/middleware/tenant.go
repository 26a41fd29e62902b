package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/pkg/httpcontext"
)

const (
	// TenantHeader is the request header naming the tenant of an anonymous call.
	TenantHeader = "X-Tenant-ID"
	// TenantSlugHeader names the tenant by slug. X-Tenant-ID wins when both are sent.
	TenantSlugHeader = "X-Tenant-Slug"
)

// TenantDirectory resolves tenant slugs.
type TenantDirectory interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
}

// Tenant records the tenant named by the X-Tenant-ID header, or looks up the
// X-Tenant-Slug header in dir. For an authenticated caller the token's tenant
// still wins and a different header value is rejected by the tenant guard.
// A nil dir ignores slugs.
func Tenant(dir TenantDirectory, timeout time.Duration, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if tenantID := strings.TrimSpace(string(ctx.Request.Header.Peek(TenantHeader))); tenantID != "" {
				httpcontext.SetTenant(ctx, tenantID)
				next(ctx)
				return
			}

			slug := strings.TrimSpace(string(ctx.Request.Header.Peek(TenantSlugHeader)))
			if slug == "" || dir == nil {
				next(ctx)
				return
			}

			stdCtx, cancel := context.WithTimeout(context.Background(), timeout)
			tenant, err := dir.GetBySlug(stdCtx, slug)
			cancel()
			switch {
			case errors.Is(err, domain.ErrTenantNotFound):
				reject(ctx, fasthttp.StatusNotFound, domain.ErrTenantNotFound)
				return
			case err != nil:
				logger.Warn("tenant slug lookup failed", zap.String("slug", slug), zap.Error(err))
				reject(ctx, fasthttp.StatusServiceUnavailable,
					domain.NewError(domain.ErrCodeUnavailable, "service temporarily unavailable"))
				return
			}
			httpcontext.SetTenant(ctx, tenant.ID)
			next(ctx)
		}
	}
}
