package role

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/usecase"
)

const serviceCredentials = "credential-store"

// Input describes a custom role to create or replace.
type Input struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=256"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
}

type UseCase struct {
	roles   repository.RoleRepository
	users   repository.UserRepository
	guard   *tenancy.Guard
	timeout time.Duration
	logger  *zap.Logger
}

func New(roles repository.RoleRepository, users repository.UserRepository, guard *tenancy.Guard, timeout time.Duration, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = tenancy.NewGuard(logger)
	}
	return &UseCase{
		roles:   roles,
		users:   users,
		guard:   guard,
		timeout: timeout,
		logger:  logger,
	}
}

// HasPermission reports whether user holds permission through its built-in
// role or one of its custom roles. The wildcard grants everything.
func HasPermission(user *domain.User, permission string) bool {
	set := user.PermissionSet()
	if _, ok := set[domain.PermissionWildcard]; ok {
		return true
	}
	_, ok := set[permission]
	return ok
}

func (uc *UseCase) HasPermission(user *domain.User, permission string) bool {
	return HasPermission(user, permission)
}

// CheckRole fails with FORBIDDEN unless the authenticated role is one of allowed.
func (uc *UseCase) CheckRole(ctx context.Context, allowed ...string) error {
	identity, ok := tenancy.IdentityFrom(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	for _, role := range allowed {
		if identity.Role == role {
			return nil
		}
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("role check denied",
		zap.String("role", identity.Role), zap.Strings("allowed", allowed))
	return domain.ErrForbidden
}

// RequirePermission loads the caller and fails with FORBIDDEN unless it
// holds permission.
func (uc *UseCase) RequirePermission(ctx context.Context, permission string) error {
	identity, ok := tenancy.IdentityFrom(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return err
	}
	var user *domain.User
	if err := usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		var getErr error
		user, getErr = uc.users.GetByID(ctx, scope, identity.UserID)
		return getErr
	}); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrUnauthenticated
		}
		return err
	}
	if !HasPermission(user, permission) {
		appLogger.WithIdentity(ctx, uc.logger).Info("permission denied", zap.String("permission", permission))
		return domain.ErrForbidden
	}
	return nil
}

// ListRoles returns the built-in roles followed by the tenant's custom roles.
func (uc *UseCase) ListRoles(ctx context.Context) ([]domain.Role, error) {
	if err := uc.RequirePermission(ctx, domain.PermRolesRead); err != nil {
		return nil, err
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var custom []domain.Role
	if err := usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		var listErr error
		custom, listErr = uc.roles.List(ctx, scope)
		return listErr
	}); err != nil {
		return nil, err
	}
	return append(domain.BuiltInRoleList(), custom...), nil
}

func (uc *UseCase) CreateRole(ctx context.Context, input Input) (*domain.Role, error) {
	if err := uc.RequirePermission(ctx, domain.PermRolesWrite); err != nil {
		return nil, err
	}
	role, err := buildRole(input)
	if err != nil {
		return nil, err
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		return uc.roles.Create(ctx, scope, role)
	}); err != nil {
		return nil, err
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("custom role created", zap.String("role_id", role.ID), zap.String("name", role.Name))
	return role, nil
}

// UpdateRole replaces a custom role. Users holding it see the new name and
// permissions immediately.
func (uc *UseCase) UpdateRole(ctx context.Context, id string, input Input) (*domain.Role, error) {
	if err := uc.RequirePermission(ctx, domain.PermRolesWrite); err != nil {
		return nil, err
	}
	if domain.IsBuiltInRole(id) {
		return nil, domain.ErrBuiltInRoleReadOnly
	}
	role, err := buildRole(input)
	if err != nil {
		return nil, err
	}
	role.ID = id
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		return uc.roles.Update(ctx, scope, role)
	}); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a custom role and unassigns it from every holder.
func (uc *UseCase) DeleteRole(ctx context.Context, id string) error {
	if err := uc.RequirePermission(ctx, domain.PermRolesWrite); err != nil {
		return err
	}
	if domain.IsBuiltInRole(id) {
		return domain.ErrBuiltInRoleReadOnly
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return err
	}
	return usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		return uc.roles.Delete(ctx, scope, id)
	})
}

func (uc *UseCase) AssignRole(ctx context.Context, userID, roleID string) (*domain.User, error) {
	return uc.changeAssignment(ctx, userID, roleID, uc.roles.Assign)
}

func (uc *UseCase) UnassignRole(ctx context.Context, userID, roleID string) (*domain.User, error) {
	return uc.changeAssignment(ctx, userID, roleID, uc.roles.Unassign)
}

type assignFunc func(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error)

func (uc *UseCase) changeAssignment(ctx context.Context, userID, roleID string, fn assignFunc) (*domain.User, error) {
	if err := uc.RequirePermission(ctx, domain.PermRolesWrite); err != nil {
		return nil, err
	}
	if domain.IsBuiltInRole(roleID) {
		return nil, domain.InvalidInput("built-in roles are set through the user role", map[string]string{"roleId": "must be a custom role"})
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}
	var user *domain.User
	err = usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		var callErr error
		user, callErr = fn(ctx, scope, userID, roleID)
		return callErr
	})
	return user, err
}

func buildRole(input Input) (*domain.Role, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := usecase.Validate(input); err != nil {
		return nil, err
	}
	if domain.IsBuiltInRole(strings.ToLower(input.Name)) {
		return nil, domain.ErrRoleNameTaken
	}

	seen := make(map[string]struct{}, len(input.Permissions))
	perms := make([]string, 0, len(input.Permissions))
	for _, perm := range input.Permissions {
		perm = strings.TrimSpace(perm)
		if !domain.IsCatalogPermission(perm) {
			return nil, domain.InvalidInput("unknown permission", map[string]string{"permissions": perm + " is not in the permission catalog"})
		}
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		perms = append(perms, perm)
	}

	return &domain.Role{
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Permissions: perms,
	}, nil
}
