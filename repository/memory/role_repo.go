package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
)

type roleRepository struct {
	store *Store
}

func (r *roleRepository) guard(ctx context.Context, scope tenancy.Scope) error {
	if err := scope.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *roleRepository) nameTaken(scope tenancy.Scope, name, exceptID string) bool {
	for _, role := range r.store.roles {
		if scope.Owns(role.TenantID) && role.ID != exceptID && strings.EqualFold(role.Name, name) {
			return true
		}
	}
	return false
}

func (r *roleRepository) Create(ctx context.Context, scope tenancy.Scope, role *domain.Role) error {
	if err := r.guard(ctx, scope); err != nil {
		return err
	}
	if role == nil {
		return domain.ErrInvalidPayload
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	if r.nameTaken(scope, role.Name, "") {
		return domain.ErrRoleNameTaken
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := r.store.now()
	role.TenantID = scope.TenantID()
	role.BuiltIn = false
	role.CreatedAt = now
	role.UpdatedAt = now
	r.store.roles[role.ID] = cloneRole(role)
	return nil
}

func (r *roleRepository) Get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Role, error) {
	if err := r.guard(ctx, scope); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	role, ok := r.store.roles[id]
	if !ok || !scope.Owns(role.TenantID) {
		return nil, domain.ErrRoleNotFound
	}
	return cloneRole(role), nil
}

func (r *roleRepository) List(ctx context.Context, scope tenancy.Scope) ([]domain.Role, error) {
	if err := r.guard(ctx, scope); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	var roles []domain.Role
	for _, role := range r.store.roles {
		if scope.Owns(role.TenantID) {
			roles = append(roles, *cloneRole(role))
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *roleRepository) Update(ctx context.Context, scope tenancy.Scope, role *domain.Role) error {
	if err := r.guard(ctx, scope); err != nil {
		return err
	}
	if role == nil {
		return domain.ErrInvalidPayload
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	stored, ok := r.store.roles[role.ID]
	if !ok || !scope.Owns(stored.TenantID) {
		return domain.ErrRoleNotFound
	}
	if r.nameTaken(scope, role.Name, role.ID) {
		return domain.ErrRoleNameTaken
	}
	stored.Name = role.Name
	stored.Description = role.Description
	stored.Permissions = append([]string(nil), role.Permissions...)
	stored.UpdatedAt = r.store.now()
	*role = *cloneRole(stored)

	for _, user := range r.store.users {
		if !scope.Owns(user.TenantID) {
			continue
		}
		for i := range user.CustomRoles {
			if user.CustomRoles[i].ID == stored.ID {
				user.CustomRoles[i] = stored.Ref()
			}
		}
	}
	return nil
}

func (r *roleRepository) Delete(ctx context.Context, scope tenancy.Scope, id string) error {
	if err := r.guard(ctx, scope); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	stored, ok := r.store.roles[id]
	if !ok || !scope.Owns(stored.TenantID) {
		return domain.ErrRoleNotFound
	}
	delete(r.store.roles, id)
	for _, user := range r.store.users {
		if scope.Owns(user.TenantID) {
			user.CustomRoles = withoutRole(user.CustomRoles, id)
		}
	}
	return nil
}

func (r *roleRepository) Assign(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error) {
	if err := r.guard(ctx, scope); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	user, ok := r.store.users[userID]
	if !ok || !scope.Owns(user.TenantID) {
		return nil, domain.ErrUserNotFound
	}
	role, ok := r.store.roles[roleID]
	if !ok || !scope.Owns(role.TenantID) {
		return nil, domain.ErrRoleNotFound
	}
	if !user.HasCustomRole(roleID) {
		user.CustomRoles = append(user.CustomRoles, role.Ref())
		user.UpdatedAt = r.store.now()
	}
	return cloneUser(user), nil
}

func (r *roleRepository) Unassign(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error) {
	if err := r.guard(ctx, scope); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	user, ok := r.store.users[userID]
	if !ok || !scope.Owns(user.TenantID) {
		return nil, domain.ErrUserNotFound
	}
	if user.HasCustomRole(roleID) {
		user.CustomRoles = withoutRole(user.CustomRoles, roleID)
		user.UpdatedAt = r.store.now()
	}
	return cloneUser(user), nil
}

func withoutRole(refs []domain.RoleRef, roleID string) []domain.RoleRef {
	kept := refs[:0]
	for _, ref := range refs {
		if ref.ID != roleID {
			kept = append(kept, ref)
		}
	}
	return kept
}
