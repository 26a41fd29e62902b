package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
)

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository instantiates a Postgres-backed user repository.
func NewUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return &userRepository{pool: pool}
}

// userSelect reads users from source aliased as u. Custom roles are joined
// at read time so the snapshot always matches the current role definition.
func userSelect(source string) string {
	return fmt.Sprintf(`
	SELECT u.id, u.tenant_id, u.email, u.password_hash, u.role, u.status, u.email_verified,
		u.last_login_at, u.first_name, u.last_name, u.phone, u.oauth_provider, u.created_at, u.updated_at,
		COALESCE((
			SELECT json_agg(json_build_object('id', r.id, 'name', r.name, 'permissions', r.permissions) ORDER BY r.name)
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id AND r.tenant_id = ur.tenant_id
			WHERE ur.user_id = u.id AND ur.tenant_id = u.tenant_id
		), '[]'::json)
	FROM %s u`, source)
}

var (
	selectUserByID    = userSelect("users") + ` WHERE u.tenant_id = $1 AND u.id = $2`
	selectUserByEmail = userSelect("users") + ` WHERE u.tenant_id = $1 AND u.email = $2`
	selectUserByOAuth = userSelect("users") + ` WHERE u.tenant_id = $1 AND u.oauth_provider = $2 AND u.oauth_subject = $3`
)

func getUser(ctx context.Context, q querier, tenantID, id string) (*domain.User, error) {
	return scanUser(q.QueryRow(ctx, selectUserByID, tenantID, id), "users.get_by_id")
}

func (r *userRepository) Create(ctx context.Context, scope tenancy.Scope, user *domain.User) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if user == nil {
		return domain.ErrInvalidPayload
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.TenantID = scope.TenantID()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	const query = `
	INSERT INTO users (id, tenant_id, email, password_hash, role, status, email_verified,
		first_name, last_name, phone, oauth_provider, oauth_subject,
		verification_token_hash, verification_expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING created_at, updated_at
	`

	var verificationHash, verificationExpiry interface{}
	if user.EmailVerification != nil {
		verificationHash = user.EmailVerification.Hash
		verificationExpiry = user.EmailVerification.ExpiresAt
	}

	if err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.TenantID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Status,
		user.EmailVerified,
		user.Profile.FirstName,
		user.Profile.LastName,
		user.Profile.Phone,
		user.OAuthProvider,
		user.OAuthSubject,
		verificationHash,
		verificationExpiry,
	).Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return mapped
		}
		if pgCode(err) == pgForeignKeyMissing {
			return domain.ErrTenantNotFound
		}
		return storeError("users.insert", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, scope tenancy.Scope, id string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	return getUser(ctx, r.pool, scope.TenantID(), id)
}

func (r *userRepository) GetByEmail(ctx context.Context, scope tenancy.Scope, email string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.pool.QueryRow(ctx, selectUserByEmail, scope.TenantID(), email), "users.get_by_email")
}

func (r *userRepository) GetByOAuthSubject(ctx context.Context, scope tenancy.Scope, provider, subject string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	return scanUser(r.pool.QueryRow(ctx, selectUserByOAuth, scope.TenantID(), provider, subject), "users.get_by_oauth")
}

func (r *userRepository) LinkOAuth(ctx context.Context, scope tenancy.Scope, userID, provider, subject string) error {
	const query = `
	UPDATE users SET oauth_provider = $3, oauth_subject = $4, updated_at = NOW()
	WHERE tenant_id = $1 AND id = $2
	`
	return r.update(ctx, scope, "users.link_oauth", query, userID, provider, subject)
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, scope tenancy.Scope, userID string, at time.Time) error {
	const query = `UPDATE users SET last_login_at = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
	return r.update(ctx, scope, "users.update_last_login", query, userID, at)
}

func (r *userRepository) UpdatePassword(ctx context.Context, scope tenancy.Scope, userID, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
	return r.update(ctx, scope, "users.update_password", query, userID, passwordHash)
}

func (r *userRepository) UpdateRole(ctx context.Context, scope tenancy.Scope, userID, role string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	query := `WITH updated AS (
		UPDATE users SET role = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2 RETURNING *
	)` + userSelect("updated")
	return scanUser(r.pool.QueryRow(ctx, query, scope.TenantID(), userID, role), "users.update_role")
}

func (r *userRepository) UpdateProfile(ctx context.Context, scope tenancy.Scope, userID string, profile domain.Profile) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	query := `WITH updated AS (
		UPDATE users SET first_name = $3, last_name = $4, phone = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 RETURNING *
	)` + userSelect("updated")
	row := r.pool.QueryRow(ctx, query, scope.TenantID(), userID, profile.FirstName, profile.LastName, profile.Phone)
	return scanUser(row, "users.update_profile")
}

func (r *userRepository) SetPasswordReset(ctx context.Context, scope tenancy.Scope, userID string, token domain.OneTimeToken) error {
	const query = `
	UPDATE users SET reset_token_hash = $3, reset_expires_at = $4, updated_at = NOW()
	WHERE tenant_id = $1 AND id = $2
	`
	return r.update(ctx, scope, "users.set_password_reset", query, userID, token.Hash, token.ExpiresAt)
}

func (r *userRepository) SetEmailVerification(ctx context.Context, scope tenancy.Scope, userID string, token domain.OneTimeToken) error {
	const query = `
	UPDATE users SET verification_token_hash = $3, verification_expires_at = $4, updated_at = NOW()
	WHERE tenant_id = $1 AND id = $2
	`
	return r.update(ctx, scope, "users.set_email_verification", query, userID, token.Hash, token.ExpiresAt)
}

func (r *userRepository) ConsumePasswordReset(ctx context.Context, sys tenancy.SystemScope, tokenHash, passwordHash string, now time.Time) (*domain.User, error) {
	if err := sys.Err(); err != nil {
		return nil, err
	}
	query := `WITH updated AS (
		UPDATE users
		SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = NOW()
		WHERE reset_token_hash = $1 AND reset_expires_at > $3
		RETURNING *
	)` + userSelect("updated")
	user, err := scanUser(r.pool.QueryRow(ctx, query, tokenHash, passwordHash, now), "users.consume_password_reset")
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrTokenNotFound
	}
	return user, err
}

func (r *userRepository) ConsumeEmailVerification(ctx context.Context, sys tenancy.SystemScope, tokenHash string, now time.Time) (*domain.User, error) {
	if err := sys.Err(); err != nil {
		return nil, err
	}
	query := `WITH updated AS (
		UPDATE users
		SET email_verified = TRUE, verification_token_hash = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token_hash = $1 AND verification_expires_at > $2
		RETURNING *
	)` + userSelect("updated")
	user, err := scanUser(r.pool.QueryRow(ctx, query, tokenHash, now), "users.consume_email_verification")
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrTokenNotFound
	}
	return user, err
}

// AddRefreshToken serialises concurrent inserts for one user on the user row
// lock so the purge, insert and trim see a consistent list.
func (r *userRepository) AddRefreshToken(ctx context.Context, scope tenancy.Scope, userID string, tok domain.RefreshToken, max int) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if max <= 0 {
		max = domain.DefaultMaxRefreshTokens
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError("refresh_tokens.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM users WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		scope.TenantID(), userID,
	).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		return storeError("refresh_tokens.lock_user", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM user_refresh_tokens WHERE user_id = $1 AND expires_at <= $2`,
		userID, tok.CreatedAt,
	); err != nil {
		return storeError("refresh_tokens.purge", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_refresh_tokens (user_id, tenant_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, token) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		userID, scope.TenantID(), tok.Token, tok.ExpiresAt, tok.CreatedAt,
	); err != nil {
		return storeError("refresh_tokens.insert", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM user_refresh_tokens
		WHERE user_id = $1 AND token IN (
			SELECT token FROM user_refresh_tokens
			WHERE user_id = $1
			ORDER BY created_at DESC, token DESC
			OFFSET $2
		)`,
		userID, max,
	); err != nil {
		return storeError("refresh_tokens.trim", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("refresh_tokens.commit", err)
	}
	return nil
}

func (r *userRepository) HasRefreshToken(ctx context.Context, scope tenancy.Scope, userID, token string, now time.Time) (bool, error) {
	if err := scope.Err(); err != nil {
		return false, err
	}
	const query = `
	SELECT EXISTS (
		SELECT 1 FROM user_refresh_tokens
		WHERE tenant_id = $1 AND user_id = $2 AND token = $3 AND expires_at > $4
	)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, scope.TenantID(), userID, token, now).Scan(&exists); err != nil {
		return false, storeError("refresh_tokens.exists", err)
	}
	return exists, nil
}

func (r *userRepository) RemoveRefreshToken(ctx context.Context, scope tenancy.Scope, userID, token string) error {
	if err := scope.Err(); err != nil {
		return err
	}
	const query = `DELETE FROM user_refresh_tokens WHERE tenant_id = $1 AND user_id = $2 AND token = $3`
	_, err := r.pool.Exec(ctx, query, scope.TenantID(), userID, token)
	return storeError("refresh_tokens.delete", err)
}

func (r *userRepository) ClearRefreshTokens(ctx context.Context, scope tenancy.Scope, userID string) error {
	if err := scope.Err(); err != nil {
		return err
	}
	const query = `DELETE FROM user_refresh_tokens WHERE tenant_id = $1 AND user_id = $2`
	_, err := r.pool.Exec(ctx, query, scope.TenantID(), userID)
	return storeError("refresh_tokens.clear", err)
}

func (r *userRepository) PurgeExpiredTokens(ctx context.Context, sys tenancy.SystemScope, now time.Time) (int64, error) {
	if err := sys.Err(); err != nil {
		return 0, err
	}
	statements := []struct {
		path  string
		query string
	}{
		{"refresh_tokens.sweep", `DELETE FROM user_refresh_tokens WHERE expires_at <= $1`},
		{"users.sweep_password_reset", `
			UPDATE users SET reset_token_hash = NULL, reset_expires_at = NULL
			WHERE reset_expires_at IS NOT NULL AND reset_expires_at <= $1`},
		{"users.sweep_email_verification", `
			UPDATE users SET verification_token_hash = NULL, verification_expires_at = NULL
			WHERE verification_expires_at IS NOT NULL AND verification_expires_at <= $1`},
	}

	var purged int64
	for _, stmt := range statements {
		tag, err := r.pool.Exec(ctx, stmt.query, now)
		if err != nil {
			return purged, storeError(stmt.path, err)
		}
		purged += tag.RowsAffected()
	}
	return purged, nil
}

func (r *userRepository) update(ctx context.Context, scope tenancy.Scope, path, query, userID string, args ...any) error {
	if err := scope.Err(); err != nil {
		return err
	}
	params := append([]any{scope.TenantID(), userID}, args...)
	tag, err := r.pool.Exec(ctx, query, params...)
	if mapped := uniqueViolation(err); mapped != nil {
		return mapped
	}
	if err != nil {
		return storeError(path, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func scanUser(row rowScanner, path string) (*domain.User, error) {
	var user domain.User
	var customRoles []byte

	if err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.EmailVerified,
		&user.LastLoginAt,
		&user.Profile.FirstName,
		&user.Profile.LastName,
		&user.Profile.Phone,
		&user.OAuthProvider,
		&user.CreatedAt,
		&user.UpdatedAt,
		&customRoles,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, storeError(path, err)
	}

	if len(customRoles) > 0 {
		if err := json.Unmarshal(customRoles, &user.CustomRoles); err != nil {
			return nil, fmt.Errorf("decode custom roles: %w", err)
		}
	}
	return &user, nil
}
