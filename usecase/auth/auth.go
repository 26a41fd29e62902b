// Package auth is the operation surface exposed to the API layer. It
// composes credentials, tokens and external identity providers.
package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/usecase"
	"github.com/fastygo/tenantauth/usecase/credential"
	"github.com/fastygo/tenantauth/usecase/token"
)

// IdentityProvider exchanges a provider-issued token for the profile it
// vouches for.
type IdentityProvider interface {
	Exchange(ctx context.Context, providerToken string) (domain.ExternalProfile, error)
}

// Session is returned by every login-like operation.
type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *domain.User `json:"user"`
}

type RefreshResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Success     bool   `json:"success"`
}

type UseCase struct {
	credentials *credential.UseCase
	tokens      *token.Service
	providers   map[string]IdentityProvider
	logger      *zap.Logger
}

func New(credentials *credential.UseCase, tokens *token.Service, providers map[string]IdentityProvider, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := make(map[string]IdentityProvider, len(providers))
	for name, provider := range providers {
		registry[strings.ToLower(name)] = provider
	}
	return &UseCase{
		credentials: credentials,
		tokens:      tokens,
		providers:   registry,
		logger:      logger,
	}
}

func (uc *UseCase) Register(ctx context.Context, input credential.RegisterInput) (*Session, error) {
	user, tenant, err := uc.credentials.Register(ctx, input)
	if err != nil {
		return nil, err
	}
	return uc.session(ctx, user, tenant)
}

func (uc *UseCase) Login(ctx context.Context, email, password string) (*Session, error) {
	user, tenant, err := uc.credentials.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return uc.session(ctx, user, tenant)
}

// OAuthLogin signs in through a registered identity provider. Profile
// fields supplied by the client fill gaps the provider left empty.
func (uc *UseCase) OAuthLogin(ctx context.Context, provider, providerToken string, profile domain.Profile) (*Session, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	idp, ok := uc.providers[name]
	if !ok {
		return nil, domain.InvalidInput("unsupported provider", map[string]string{"provider": "is not configured"})
	}
	if _, err := uc.credentials.ActiveTenant(ctx); err != nil {
		return nil, err
	}

	ext, err := idp.Exchange(ctx, providerToken)
	if errors.Is(err, domain.ErrProviderRejected) {
		appLogger.WithIdentity(ctx, uc.logger).Warn("provider token rejected",
			zap.String("provider", name), zap.Error(err))
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, usecase.StoreError("identity_provider:"+name, 0, err)
	}
	ext.Provider = name
	ext.Profile = mergeProfile(ext.Profile, profile)

	user, tenant, err := uc.credentials.SignInExternal(ctx, ext)
	if err != nil {
		return nil, err
	}
	return uc.session(ctx, user, tenant)
}

func (uc *UseCase) RefreshToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	grant, err := uc.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: grant.AccessToken, ExpiresIn: grant.ExpiresIn, Success: true}, nil
}

// Logout revokes one refresh token of the caller.
func (uc *UseCase) Logout(ctx context.Context, refreshToken string) (bool, error) {
	identity, ok := tenancy.IdentityFrom(ctx)
	if !ok {
		return false, domain.ErrUnauthenticated
	}
	if err := uc.tokens.Revoke(ctx, identity.UserID, refreshToken); err != nil {
		return false, err
	}
	return true, nil
}

// LogoutAll revokes every refresh token of the caller.
func (uc *UseCase) LogoutAll(ctx context.Context) (bool, error) {
	identity, ok := tenancy.IdentityFrom(ctx)
	if !ok {
		return false, domain.ErrUnauthenticated
	}
	if err := uc.tokens.RevokeAll(ctx, identity.UserID); err != nil {
		return false, err
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("all sessions revoked")
	return true, nil
}

func (uc *UseCase) RequestPasswordReset(ctx context.Context, email string) (credential.Result, error) {
	return uc.credentials.RequestPasswordReset(ctx, email)
}

func (uc *UseCase) ResetPassword(ctx context.Context, token, newPassword string) (credential.Result, error) {
	return uc.credentials.ResetPassword(ctx, token, newPassword)
}

func (uc *UseCase) VerifyEmail(ctx context.Context, token string) (credential.Result, error) {
	return uc.credentials.VerifyEmail(ctx, token)
}

func (uc *UseCase) ResendVerification(ctx context.Context, email string) (credential.Result, error) {
	return uc.credentials.ResendVerification(ctx, email)
}

func (uc *UseCase) ChangePassword(ctx context.Context, currentPassword, newPassword string) (bool, error) {
	if err := uc.credentials.ChangePassword(ctx, currentPassword, newPassword); err != nil {
		return false, err
	}
	return true, nil
}

func (uc *UseCase) UpdateUserRole(ctx context.Context, userID, role string) (*domain.User, error) {
	return uc.credentials.UpdateUserRole(ctx, userID, role)
}

func (uc *UseCase) session(ctx context.Context, user *domain.User, tenant *domain.Tenant) (*Session, error) {
	pair, err := uc.tokens.IssueTokenPair(ctx, user, tenant)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	}, nil
}

func mergeProfile(fromProvider, fromClient domain.Profile) domain.Profile {
	if fromProvider.FirstName == "" {
		fromProvider.FirstName = fromClient.FirstName
	}
	if fromProvider.LastName == "" {
		fromProvider.LastName = fromClient.LastName
	}
	if fromProvider.Phone == "" {
		fromProvider.Phone = fromClient.Phone
	}
	return fromProvider
}
