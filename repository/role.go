package repository

import (
	"context"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
)

// RoleRepository stores tenant custom roles. Update and Delete refresh or
// drop the snapshot held by every user assigned the role in the same write.
type RoleRepository interface {
	Create(ctx context.Context, scope tenancy.Scope, role *domain.Role) error
	Get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Role, error)
	List(ctx context.Context, scope tenancy.Scope) ([]domain.Role, error)
	Update(ctx context.Context, scope tenancy.Scope, role *domain.Role) error
	Delete(ctx context.Context, scope tenancy.Scope, id string) error

	Assign(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error)
	Unassign(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error)
}
