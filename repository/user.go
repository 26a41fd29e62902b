package repository

import (
	"context"
	"time"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
)

// UserRepository stores credentials. Every tenant-scoped method takes the
// Scope produced by the tenant guard; the few lookups that cannot know the
// tenant up front take a SystemScope obtained through a logged bypass.
type UserRepository interface {
	Create(ctx context.Context, scope tenancy.Scope, user *domain.User) error
	GetByID(ctx context.Context, scope tenancy.Scope, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, scope tenancy.Scope, email string) (*domain.User, error)
	GetByOAuthSubject(ctx context.Context, scope tenancy.Scope, provider, subject string) (*domain.User, error)
	LinkOAuth(ctx context.Context, scope tenancy.Scope, userID, provider, subject string) error

	UpdateLastLogin(ctx context.Context, scope tenancy.Scope, userID string, at time.Time) error
	UpdatePassword(ctx context.Context, scope tenancy.Scope, userID, passwordHash string) error
	UpdateRole(ctx context.Context, scope tenancy.Scope, userID, role string) (*domain.User, error)
	UpdateProfile(ctx context.Context, scope tenancy.Scope, userID string, profile domain.Profile) (*domain.User, error)

	// SetPasswordReset and SetEmailVerification overwrite any live token of
	// the same kind.
	SetPasswordReset(ctx context.Context, scope tenancy.Scope, userID string, token domain.OneTimeToken) error
	SetEmailVerification(ctx context.Context, scope tenancy.Scope, userID string, token domain.OneTimeToken) error

	// ConsumePasswordReset swaps the password hash and clears the reset token
	// in one conditional write. It returns ErrTokenNotFound when no user holds
	// an unexpired token with that hash.
	ConsumePasswordReset(ctx context.Context, sys tenancy.SystemScope, tokenHash, passwordHash string, now time.Time) (*domain.User, error)
	ConsumeEmailVerification(ctx context.Context, sys tenancy.SystemScope, tokenHash string, now time.Time) (*domain.User, error)

	// AddRefreshToken purges records expired as of tok.CreatedAt, appends tok
	// and evicts the oldest records beyond max as one atomic operation.
	AddRefreshToken(ctx context.Context, scope tenancy.Scope, userID string, tok domain.RefreshToken, max int) error
	HasRefreshToken(ctx context.Context, scope tenancy.Scope, userID, token string, now time.Time) (bool, error)
	RemoveRefreshToken(ctx context.Context, scope tenancy.Scope, userID, token string) error
	ClearRefreshTokens(ctx context.Context, scope tenancy.Scope, userID string) error

	PurgeExpiredTokens(ctx context.Context, sys tenancy.SystemScope, now time.Time) (int64, error)
}
