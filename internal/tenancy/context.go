package tenancy

import (
	"context"
	"strings"

	"github.com/fastygo/tenantauth/domain"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	resolvedTenantKey
)

// WithIdentity attaches the authenticated principal to ctx. The value lives
// only as long as the request context it is derived from.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	ctx = appLogger.ContextWithIdentity(ctx, identity.TenantID, identity.UserID)
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the authenticated principal, if any.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	if ctx == nil {
		return domain.Identity{}, false
	}
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	if !ok || identity.IsZero() {
		return domain.Identity{}, false
	}
	return identity, true
}

// WithTenant attaches a tenant resolved for an anonymous request (tenant
// header, registration payload).
func WithTenant(ctx context.Context, tenantID string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	ctx = appLogger.ContextWithIdentity(ctx, tenantID, "")
	return context.WithValue(ctx, resolvedTenantKey, tenantID)
}

func resolvedTenant(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tenantID, _ := ctx.Value(resolvedTenantKey).(string)
	return tenantID
}
