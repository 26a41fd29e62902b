package memory

import (
	"context"

	"github.com/fastygo/tenantauth/domain"
)

type tenantRepository struct {
	store *Store
}

func (r *tenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	tenant, ok := r.store.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return &tenant, nil
}

func (r *tenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	for _, tenant := range r.store.tenants {
		if tenant.Slug == slug {
			t := tenant
			return &t, nil
		}
	}
	return nil, domain.ErrTenantNotFound
}
