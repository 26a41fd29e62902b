package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
)

type userRepository struct {
	store *Store
}

// lookup returns the stored user only when it belongs to scope. Callers hold
// the store lock.
func (r *userRepository) lookup(scope tenancy.Scope, id string) (*domain.User, error) {
	user, ok := r.store.users[id]
	if !ok || !scope.Owns(user.TenantID) {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepository) Create(ctx context.Context, scope tenancy.Scope, user *domain.User) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if user == nil {
		return domain.ErrInvalidPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	email := normalizeEmail(user.Email)
	for _, existing := range r.store.users {
		if existing.TenantID == scope.TenantID() && existing.Email == email {
			return domain.ErrEmailTaken
		}
	}
	if r.subjectTaken(scope.TenantID(), "", user.OAuthProvider, user.OAuthSubject) {
		return domain.ErrExternalLinked
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.store.now()
	user.TenantID = scope.TenantID()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	r.store.users[user.ID] = cloneUser(user)
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, scope tenancy.Scope, id string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	user, err := r.lookup(scope, id)
	if err != nil {
		return nil, err
	}
	return cloneUser(user), nil
}

func (r *userRepository) GetByEmail(ctx context.Context, scope tenancy.Scope, email string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	email = normalizeEmail(email)
	for _, user := range r.store.users {
		if scope.Owns(user.TenantID) && user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *userRepository) GetByOAuthSubject(ctx context.Context, scope tenancy.Scope, provider, subject string) (*domain.User, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	for _, user := range r.store.users {
		if scope.Owns(user.TenantID) && user.OAuthProvider == provider && user.OAuthSubject == subject {
			return cloneUser(user), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *userRepository) LinkOAuth(ctx context.Context, scope tenancy.Scope, userID, provider, subject string) error {
	var taken bool
	err := r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		if taken = r.subjectTaken(user.TenantID, user.ID, provider, subject); taken {
			return
		}
		user.OAuthProvider = provider
		user.OAuthSubject = subject
	})
	if err == nil && taken {
		return domain.ErrExternalLinked
	}
	return err
}

// subjectTaken reports whether another user of the tenant is linked to the
// external account. Callers hold the store lock.
func (r *userRepository) subjectTaken(tenantID, exceptID, provider, subject string) bool {
	if subject == "" {
		return false
	}
	for _, existing := range r.store.users {
		if existing.ID != exceptID && existing.TenantID == tenantID &&
			existing.OAuthProvider == provider && existing.OAuthSubject == subject {
			return true
		}
	}
	return false
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, scope tenancy.Scope, userID string, at time.Time) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		loginAt := at
		user.LastLoginAt = &loginAt
	})
}

func (r *userRepository) UpdatePassword(ctx context.Context, scope tenancy.Scope, userID, passwordHash string) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		user.PasswordHash = passwordHash
	})
}

func (r *userRepository) UpdateRole(ctx context.Context, scope tenancy.Scope, userID, role string) (*domain.User, error) {
	var updated *domain.User
	err := r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		user.Role = role
		updated = cloneUser(user)
	})
	return updated, err
}

func (r *userRepository) UpdateProfile(ctx context.Context, scope tenancy.Scope, userID string, profile domain.Profile) (*domain.User, error) {
	var updated *domain.User
	err := r.mutate(ctx, scope, userID, func(user *domain.User, now time.Time) {
		user.Profile = profile
		updated = cloneUser(user)
		updated.UpdatedAt = now
	})
	return updated, err
}

func (r *userRepository) SetPasswordReset(ctx context.Context, scope tenancy.Scope, userID string, token domain.OneTimeToken) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		user.PasswordReset = &token
	})
}

func (r *userRepository) SetEmailVerification(ctx context.Context, scope tenancy.Scope, userID string, token domain.OneTimeToken) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		user.EmailVerification = &token
	})
}

func (r *userRepository) ConsumePasswordReset(ctx context.Context, sys tenancy.SystemScope, tokenHash, passwordHash string, now time.Time) (*domain.User, error) {
	return r.consume(ctx, sys, func(user *domain.User) bool {
		if !user.PasswordReset.Valid(tokenHash, now) {
			return false
		}
		user.PasswordHash = passwordHash
		user.PasswordReset = nil
		return true
	})
}

func (r *userRepository) ConsumeEmailVerification(ctx context.Context, sys tenancy.SystemScope, tokenHash string, now time.Time) (*domain.User, error) {
	return r.consume(ctx, sys, func(user *domain.User) bool {
		if !user.EmailVerification.Valid(tokenHash, now) {
			return false
		}
		user.EmailVerified = true
		user.EmailVerification = nil
		return true
	})
}

func (r *userRepository) AddRefreshToken(ctx context.Context, scope tenancy.Scope, userID string, tok domain.RefreshToken, max int) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, now time.Time) {
		if !tok.CreatedAt.IsZero() {
			now = tok.CreatedAt
		}
		user.AddRefreshToken(tok, max, now)
	})
}

func (r *userRepository) HasRefreshToken(ctx context.Context, scope tenancy.Scope, userID, token string, now time.Time) (bool, error) {
	if err := scope.Err(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	user, err := r.lookup(scope, userID)
	if err != nil {
		return false, err
	}
	return user.HasRefreshToken(token, now), nil
}

func (r *userRepository) RemoveRefreshToken(ctx context.Context, scope tenancy.Scope, userID, token string) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		user.RemoveRefreshToken(token)
	})
}

func (r *userRepository) ClearRefreshTokens(ctx context.Context, scope tenancy.Scope, userID string) error {
	return r.mutate(ctx, scope, userID, func(user *domain.User, _ time.Time) {
		user.RefreshTokens = nil
	})
}

func (r *userRepository) PurgeExpiredTokens(ctx context.Context, sys tenancy.SystemScope, now time.Time) (int64, error) {
	if err := sys.Err(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	var purged int64
	for _, user := range r.store.users {
		purged += int64(user.PurgeExpiredRefreshTokens(now))
		if user.PasswordReset != nil && !user.PasswordReset.ExpiresAt.After(now) {
			user.PasswordReset = nil
			purged++
		}
		if user.EmailVerification != nil && !user.EmailVerification.ExpiresAt.After(now) {
			user.EmailVerification = nil
			purged++
		}
	}
	return purged, nil
}

func (r *userRepository) mutate(ctx context.Context, scope tenancy.Scope, userID string, fn func(user *domain.User, now time.Time)) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	user, err := r.lookup(scope, userID)
	if err != nil {
		return err
	}
	now := r.store.now()
	fn(user, now)
	user.UpdatedAt = now
	return nil
}

func (r *userRepository) consume(ctx context.Context, sys tenancy.SystemScope, fn func(user *domain.User) bool) (*domain.User, error) {
	if err := sys.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	for _, user := range r.store.users {
		if fn(user) {
			user.UpdatedAt = r.store.now()
			return cloneUser(user), nil
		}
	}
	return nil, domain.ErrTokenNotFound
}
