package repository

import (
	"context"

	"github.com/fastygo/tenantauth/domain"
)

// TenantRepository is the tenant directory.
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
}
