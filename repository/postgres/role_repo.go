package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
)

type roleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository returns a Postgres-backed custom role repository. Users
// reference roles through user_roles, so a role update or delete reaches
// every holder inside the same transaction.
func NewRoleRepository(pool *pgxpool.Pool) repository.RoleRepository {
	return &roleRepository{pool: pool}
}

const roleColumns = `id, tenant_id, name, description, permissions, created_at, updated_at`

func (r *roleRepository) Create(ctx context.Context, scope tenancy.Scope, role *domain.Role) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if role == nil {
		return domain.ErrInvalidPayload
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.TenantID = scope.TenantID()
	role.BuiltIn = false

	const query = `
	INSERT INTO roles (id, tenant_id, name, description, permissions)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at, updated_at
	`
	if err := r.pool.QueryRow(ctx, query,
		role.ID,
		role.TenantID,
		role.Name,
		role.Description,
		role.Permissions,
	).Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return mapped
		}
		return storeError("roles.insert", err)
	}
	return nil
}

func (r *roleRepository) Get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Role, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	const query = `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND id = $2`
	return scanRole(r.pool.QueryRow(ctx, query, scope.TenantID(), id))
}

func (r *roleRepository) List(ctx context.Context, scope tenancy.Scope) ([]domain.Role, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	const query = `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, scope.TenantID())
	if err != nil {
		return nil, storeError("roles.list", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, storeError("roles.list", rows.Err())
}

func (r *roleRepository) Update(ctx context.Context, scope tenancy.Scope, role *domain.Role) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if role == nil {
		return domain.ErrInvalidPayload
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError("roles.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
	UPDATE roles SET name = $3, description = $4, permissions = $5, updated_at = NOW()
	WHERE tenant_id = $1 AND id = $2
	RETURNING ` + roleColumns
	updated, err := scanRole(tx.QueryRow(ctx, update,
		scope.TenantID(), role.ID, role.Name, role.Description, role.Permissions))
	if err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return mapped
		}
		return err
	}

	const touchHolders = `
	UPDATE users SET updated_at = NOW()
	WHERE tenant_id = $1 AND id IN (SELECT user_id FROM user_roles WHERE tenant_id = $1 AND role_id = $2)
	`
	if _, err := tx.Exec(ctx, touchHolders, scope.TenantID(), role.ID); err != nil {
		return storeError("roles.propagate_update", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("roles.commit", err)
	}
	*role = *updated
	return nil
}

func (r *roleRepository) Delete(ctx context.Context, scope tenancy.Scope, id string) error {
	if err := scope.Err(); err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError("roles.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const unassign = `
	WITH removed AS (
		DELETE FROM user_roles WHERE tenant_id = $1 AND role_id = $2 RETURNING user_id
	)
	UPDATE users SET updated_at = NOW() WHERE tenant_id = $1 AND id IN (SELECT user_id FROM removed)
	`
	if _, err := tx.Exec(ctx, unassign, scope.TenantID(), id); err != nil {
		return storeError("roles.propagate_delete", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE tenant_id = $1 AND id = $2`, scope.TenantID(), id)
	if err != nil {
		return storeError("roles.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoleNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("roles.commit", err)
	}
	return nil
}

func (r *roleRepository) Assign(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	return r.changeAssignment(ctx, scope, userID, roleID, `
		INSERT INTO user_roles (user_id, role_id, tenant_id)
		VALUES ($2, $3, $1)
		ON CONFLICT (user_id, role_id) DO NOTHING`)
}

func (r *roleRepository) Unassign(ctx context.Context, scope tenancy.Scope, userID, roleID string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	return r.changeAssignment(ctx, scope, userID, roleID, `
		DELETE FROM user_roles WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3`)
}

// changeAssignment checks that both the user and the role belong to scope
// before running stmt, then returns the user with its refreshed roles.
func (r *roleRepository) changeAssignment(ctx context.Context, scope tenancy.Scope, userID, roleID, stmt string) (*domain.User, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storeError("user_roles.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var found string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM users WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		scope.TenantID(), userID,
	).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, storeError("user_roles.lock_user", err)
	}
	if err := tx.QueryRow(ctx,
		`SELECT id FROM roles WHERE tenant_id = $1 AND id = $2`,
		scope.TenantID(), roleID,
	).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, storeError("user_roles.get_role", err)
	}

	if _, err := tx.Exec(ctx, stmt, scope.TenantID(), userID, roleID); err != nil {
		return nil, storeError("user_roles.write", err)
	}

	user, err := getUser(ctx, tx, scope.TenantID(), userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("user_roles.commit", err)
	}
	return user, nil
}

func scanRole(row rowScanner) (*domain.Role, error) {
	var role domain.Role
	if err := row.Scan(
		&role.ID,
		&role.TenantID,
		&role.Name,
		&role.Description,
		&role.Permissions,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, storeError("roles.scan", err)
	}
	return &role, nil
}
