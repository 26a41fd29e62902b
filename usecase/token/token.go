// Package token issues, verifies and revokes the signed access and refresh
// credentials. Refresh tokens are persisted on the user so they can be
// revoked; access tokens are self-contained and only expire.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/usecase"
)

const (
	serviceCredentials = "credential-store"
	serviceTenants     = "tenant-directory"
)

// Config controls token lifetimes and signing.
type Config struct {
	Secret           string
	Issuer           string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MaxRefreshTokens int
	StoreTimeout     time.Duration
	Now              func() time.Time
}

// Claims is the signed claim set carried by both token types.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

type Service struct {
	users   repository.UserRepository
	tenants repository.TenantRepository
	guard   *tenancy.Guard
	cfg     Config
	logger  *zap.Logger
}

func New(users repository.UserRepository, tenants repository.TenantRepository, guard *tenancy.Guard, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = tenancy.NewGuard(logger)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxRefreshTokens <= 0 {
		cfg.MaxRefreshTokens = domain.DefaultMaxRefreshTokens
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = usecase.DefaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		users:   users,
		tenants: tenants,
		guard:   guard,
		cfg:     cfg,
		logger:  logger,
	}
}

// ExpiresIn is the access token lifetime in seconds.
func (s *Service) ExpiresIn() int64 {
	return int64(s.cfg.AccessTTL / time.Second)
}

// IssueAccessToken signs a short-lived access token. It has no side effects.
func (s *Service) IssueAccessToken(user *domain.User, tenant *domain.Tenant) (string, error) {
	if err := checkOwner(user, tenant); err != nil {
		return "", err
	}
	return s.sign(user, tenant, domain.TokenTypeAccess, s.cfg.Now(), s.cfg.AccessTTL)
}

// IssueRefreshToken signs a refresh token and records it on the user,
// evicting the oldest records beyond the configured cap.
func (s *Service) IssueRefreshToken(ctx context.Context, user *domain.User, tenant *domain.Tenant) (string, error) {
	if err := checkOwner(user, tenant); err != nil {
		return "", err
	}
	scope, err := s.guard.Scope(ctx)
	if err != nil {
		return "", err
	}
	if !scope.Owns(user.TenantID) {
		return "", domain.ErrTenantMismatch
	}

	now := s.cfg.Now()
	signed, err := s.sign(user, tenant, domain.TokenTypeRefresh, now, s.cfg.RefreshTTL)
	if err != nil {
		return "", err
	}
	record := domain.RefreshToken{
		Token:     signed,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	if err := usecase.Call(ctx, serviceCredentials, s.cfg.StoreTimeout, func(ctx context.Context) error {
		return s.users.AddRefreshToken(ctx, scope, user.ID, record, s.cfg.MaxRefreshTokens)
	}); err != nil {
		return "", err
	}
	return signed, nil
}

// IssueTokenPair is the only issuance path used by login-like flows.
func (s *Service) IssueTokenPair(ctx context.Context, user *domain.User, tenant *domain.Tenant) (*domain.TokenPair, error) {
	access, err := s.IssueAccessToken(user, tenant)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user, tenant)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.ExpiresIn(),
	}, nil
}

// Refresh mints a new access token from a live refresh token. The refresh
// token itself is reused and sibling sessions are left untouched.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.AccessGrant, error) {
	log := appLogger.WithIdentity(ctx, s.logger)

	claims, err := s.parse(refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		log.Warn("refresh token rejected", zap.String("reason", err.Error()))
		return nil, domain.ErrInvalidToken
	}

	ctx, err = s.guard.Resolve(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	scope, err := s.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = usecase.Call(ctx, serviceCredentials, s.cfg.StoreTimeout, func(ctx context.Context) error {
		var getErr error
		user, getErr = s.users.GetByID(ctx, scope, claims.Subject)
		return getErr
	})
	if errors.Is(err, domain.ErrUserNotFound) {
		log.Warn("refresh token rejected", zap.String("reason", "unknown subject"), zap.String("user_id", claims.Subject))
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	var live bool
	if err := usecase.Call(ctx, serviceCredentials, s.cfg.StoreTimeout, func(ctx context.Context) error {
		var hasErr error
		live, hasErr = s.users.HasRefreshToken(ctx, scope, user.ID, refreshToken, s.cfg.Now())
		return hasErr
	}); err != nil {
		return nil, err
	}
	if !live {
		log.Warn("refresh token rejected", zap.String("reason", "revoked or evicted"), zap.String("user_id", user.ID))
		return nil, domain.ErrInvalidToken
	}

	tenant, err := s.loadTenant(ctx, user.TenantID)
	if err != nil {
		return nil, err
	}

	access, err := s.IssueAccessToken(user, tenant)
	if err != nil {
		return nil, err
	}
	return &domain.AccessGrant{AccessToken: access, ExpiresIn: s.ExpiresIn()}, nil
}

// Revoke removes one refresh token of userID. Removing an absent token is
// not an error.
func (s *Service) Revoke(ctx context.Context, userID, refreshToken string) error {
	scope, err := s.guard.Scope(ctx)
	if err != nil {
		return err
	}
	return usecase.Call(ctx, serviceCredentials, s.cfg.StoreTimeout, func(ctx context.Context) error {
		return s.users.RemoveRefreshToken(ctx, scope, userID, refreshToken)
	})
}

// RevokeAll clears every refresh token of userID.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	scope, err := s.guard.Scope(ctx)
	if err != nil {
		return err
	}
	return usecase.Call(ctx, serviceCredentials, s.cfg.StoreTimeout, func(ctx context.Context) error {
		return s.users.ClearRefreshTokens(ctx, scope, userID)
	})
}

// VerifyAccessToken checks signature, expiry and type and returns the
// principal. Every failure is reported as the same authentication error.
func (s *Service) VerifyAccessToken(ctx context.Context, accessToken string) (domain.Identity, error) {
	claims, err := s.parse(accessToken, domain.TokenTypeAccess)
	if err != nil {
		appLogger.WithRequestID(ctx, s.logger).Warn("access token rejected", zap.String("reason", err.Error()))
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}

func (s *Service) loadTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var tenant *domain.Tenant
	err := usecase.Call(ctx, serviceTenants, s.cfg.StoreTimeout, func(ctx context.Context) error {
		var getErr error
		tenant, getErr = s.tenants.GetByID(ctx, tenantID)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, domain.ErrTenantInactive
	}
	return tenant, nil
}

func (s *Service) sign(user *domain.User, tenant *domain.Tenant, typ string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		TenantID: tenant.ID,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if typ == domain.TokenTypeAccess {
		claims.Role = user.Role
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// parse returns the claims of a valid token of the expected type. The error
// describes the failure for logs only.
func (s *Service) parse(tokenString, expectedType string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token not valid")
	}
	if claims.Type != expectedType {
		return nil, fmt.Errorf("wrong token type %q", claims.Type)
	}
	if s.cfg.Issuer != "" && claims.Issuer != s.cfg.Issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, errors.New("missing subject or tenant")
	}
	return claims, nil
}

func checkOwner(user *domain.User, tenant *domain.Tenant) error {
	if user == nil || tenant == nil {
		return domain.ErrInvalidPayload
	}
	if user.TenantID != tenant.ID {
		return domain.ErrTenantMismatch
	}
	return nil
}
