// Package tenancy enforces tenant isolation. Tenant identity is read from the
// request context on every call and handed to storage as a Scope value;
// repositories accept nothing else as a tenant predicate.
package tenancy

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
)

// Scope is the tenant predicate for a single request. It can only be
// obtained from a Guard.
type Scope struct {
	tenantID string
}

func (s Scope) TenantID() string {
	return s.tenantID
}

// Err returns TENANT_REQUIRED for the zero Scope.
func (s Scope) Err() error {
	if s.tenantID == "" {
		return domain.ErrTenantRequired
	}
	return nil
}

// Owns reports whether an entity stamped with tenantID belongs to s.
func (s Scope) Owns(tenantID string) bool {
	return s.tenantID != "" && s.tenantID == tenantID
}

// SystemScope marks a storage call that deliberately runs without a tenant
// filter. It can only be obtained from Guard.Bypass, which logs the call.
type SystemScope struct {
	operation string
}

func (s SystemScope) Operation() string {
	return s.operation
}

// Err returns TENANT_REQUIRED for the zero SystemScope.
func (s SystemScope) Err() error {
	if s.operation == "" {
		return domain.ErrTenantRequired
	}
	return nil
}

// Scoped pairs a query filter with the tenant it is restricted to. Filter
// types never carry a tenant field of their own.
type Scoped[F any] struct {
	Scope  Scope
	Filter F
}

// Guard resolves and checks tenant scope for tenant-scoped operations.
type Guard struct {
	logger *zap.Logger
}

func NewGuard(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{logger: logger}
}

// RequireTenant returns the tenant carried on ctx. The authenticated identity
// wins over a tenant resolved from request input; if both are present and
// differ the request is rejected.
func (g *Guard) RequireTenant(ctx context.Context) (string, error) {
	resolved := resolvedTenant(ctx)
	if identity, ok := IdentityFrom(ctx); ok && identity.TenantID != "" {
		if resolved != "" && resolved != identity.TenantID {
			g.logger.Warn("cross-tenant request rejected",
				zap.String("tenant_id", identity.TenantID),
				zap.String("user_id", identity.UserID),
				zap.String("requested_tenant_id", resolved))
			return "", domain.ErrTenantMismatch
		}
		return identity.TenantID, nil
	}
	if resolved != "" {
		return resolved, nil
	}
	return "", domain.ErrTenantRequired
}

// Resolve attaches a caller-supplied tenant to an anonymous request. A
// context that already carries a different tenant is rejected.
func (g *Guard) Resolve(ctx context.Context, tenantID string) (context.Context, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		if _, err := g.RequireTenant(ctx); err != nil {
			return ctx, err
		}
		return ctx, nil
	}
	current, err := g.RequireTenant(ctx)
	switch {
	case err == nil && current != tenantID:
		g.logger.Warn("tenant override rejected",
			zap.String("tenant_id", current),
			zap.String("requested_tenant_id", tenantID))
		return ctx, domain.ErrTenantMismatch
	case err == nil:
		return ctx, nil
	case domain.IsDomainError(err, domain.ErrCodeTenantRequired):
		return WithTenant(ctx, tenantID), nil
	default:
		return ctx, err
	}
}

// Scope returns the tenant predicate for ctx.
func (g *Guard) Scope(ctx context.Context) (Scope, error) {
	tenantID, err := g.RequireTenant(ctx)
	if err != nil {
		return Scope{}, err
	}
	return Scope{tenantID: tenantID}, nil
}

// ScopeQuery restricts filter to the tenant on ctx. It is the only way a
// tenant predicate is attached to a query.
func ScopeQuery[F any](ctx context.Context, g *Guard, filter F) (Scoped[F], error) {
	scope, err := g.Scope(ctx)
	if err != nil {
		return Scoped[F]{}, err
	}
	return Scoped[F]{Scope: scope, Filter: filter}, nil
}

// Bypass disables tenant filtering for one system-operator operation. Every
// call is logged with the operation name and, when present, the caller.
func (g *Guard) Bypass(ctx context.Context, operation string) SystemScope {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unnamed"
	}
	fields := []zap.Field{zap.String("operation", operation)}
	if identity, ok := IdentityFrom(ctx); ok {
		fields = append(fields, zap.String("tenant_id", identity.TenantID), zap.String("user_id", identity.UserID))
	}
	g.logger.Warn("tenant isolation bypassed", fields...)
	return SystemScope{operation: operation}
}
