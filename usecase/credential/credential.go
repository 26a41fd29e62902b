// Package credential owns user credentials: registration, password login,
// password reset, email verification and role changes.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/usecase"
)

const (
	serviceCredentials = "credential-store"
	serviceTenants     = "tenant-directory"

	msgResetRequested   = "If an account exists for this email, a reset link has been sent."
	msgResetDone        = "Password has been reset."
	msgResetInvalid     = "Reset link is invalid or has expired."
	msgVerified         = "Email address verified."
	msgVerifyInvalid    = "Verification link is invalid or has expired."
	msgVerificationSent = "If an unverified account exists for this email, a verification link has been sent."
)

// Config tunes hashing cost and one-time token lifetimes.
type Config struct {
	BcryptCost      int
	ResetTTL        time.Duration
	VerificationTTL time.Duration
	StoreTimeout    time.Duration
	LinkBaseURL     string
	Now             func() time.Time
}

// RegisterInput carries the registration payload. The tenant comes from the
// request context.
type RegisterInput struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
	Profile  domain.Profile
}

type emailInput struct {
	Email string `validate:"required,email,max=254"`
}

type passwordInput struct {
	Password string `validate:"required,min=8,max=72"`
}

type roleInput struct {
	Role string `validate:"required,oneof=admin manager staff member"`
}

// Result reports the outcome of enumeration-safe and token-consuming flows.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RoleChecker authorizes role-restricted operations.
type RoleChecker interface {
	CheckRole(ctx context.Context, allowed ...string) error
}

type UseCase struct {
	users   repository.UserRepository
	tenants repository.TenantRepository
	guard   *tenancy.Guard
	mailer  usecase.Mailer
	roles   RoleChecker
	cfg     Config
	logger  *zap.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func New(
	users repository.UserRepository,
	tenants repository.TenantRepository,
	guard *tenancy.Guard,
	mailer usecase.Mailer,
	roles RoleChecker,
	cfg Config,
	logger *zap.Logger,
) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = tenancy.NewGuard(logger)
	}
	if mailer == nil {
		mailer = usecase.NopMailer{}
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 30 * time.Minute
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = usecase.DefaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &UseCase{
		users:   users,
		tenants: tenants,
		guard:   guard,
		mailer:  mailer,
		roles:   roles,
		cfg:     cfg,
		logger:  logger,
	}
}

// Register creates an active, unverified user in the context tenant and
// mails the raw verification token. Only its hash is stored.
func (uc *UseCase) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.Tenant, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	input.Email = normalizeEmail(input.Email)
	if err := usecase.Validate(input); err != nil {
		return nil, nil, err
	}
	tenant, err := uc.activeTenant(ctx, scope)
	if err != nil {
		return nil, nil, err
	}

	hash, err := uc.hashPassword(input.Password)
	if err != nil {
		return nil, nil, err
	}
	raw, tokenHash, err := newOneTimeToken()
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Email:         input.Email,
		PasswordHash:  string(hash),
		Role:          domain.DefaultRole,
		Status:        domain.UserStatusActive,
		EmailVerified: false,
		Profile:       input.Profile,
		EmailVerification: &domain.OneTimeToken{
			Hash:      tokenHash,
			ExpiresAt: uc.cfg.Now().Add(uc.cfg.VerificationTTL),
		},
	}
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.Create(ctx, scope, user)
	}); err != nil {
		return nil, nil, err
	}

	appLogger.WithIdentity(ctx, uc.logger).Info("user registered", zap.String("user_id", user.ID))
	uc.sendMail(ctx, domain.EmailMessage{
		TenantID: tenant.ID,
		To:       user.Email,
		Subject:  "Verify your email address",
		Body:     uc.link("verify-email", raw),
	})
	return user, tenant, nil
}

// Login authenticates by email and password within the context tenant.
// Unknown emails and wrong passwords fail with the same error.
func (uc *UseCase) Login(ctx context.Context, email, password string) (*domain.User, *domain.Tenant, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	tenant, err := uc.activeTenant(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	log := appLogger.WithIdentity(ctx, uc.logger)

	user, err := uc.findByEmail(ctx, scope, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		uc.burnCompare(password)
		log.Info("login failed", zap.String("reason", "unknown email"))
		return nil, nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		log.Info("login failed", zap.String("reason", "password mismatch"), zap.String("user_id", user.ID))
		return nil, nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive() {
		log.Info("login refused", zap.String("reason", "account "+user.Status), zap.String("user_id", user.ID))
		return nil, nil, domain.ErrAccountInactive
	}

	now := uc.cfg.Now()
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.UpdateLastLogin(ctx, scope, user.ID, now)
	}); err != nil {
		return nil, nil, err
	}
	user.LastLoginAt = &now
	return user, tenant, nil
}

// RequestPasswordReset always reports success. When the account exists a
// new reset token replaces any previous one and is mailed to the user.
func (uc *UseCase) RequestPasswordReset(ctx context.Context, email string) (Result, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return Result{}, err
	}
	log := appLogger.WithIdentity(ctx, uc.logger)
	done := Result{Success: true, Message: msgResetRequested}

	user, err := uc.findByEmail(ctx, scope, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		log.Info("password reset requested for unknown email")
		return done, nil
	}
	if err != nil {
		return Result{}, err
	}

	raw, hash, err := newOneTimeToken()
	if err != nil {
		return Result{}, err
	}
	token := domain.OneTimeToken{Hash: hash, ExpiresAt: uc.cfg.Now().Add(uc.cfg.ResetTTL)}
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.SetPasswordReset(ctx, scope, user.ID, token)
	}); err != nil {
		return Result{}, err
	}

	log.Info("password reset issued", zap.String("user_id", user.ID))
	uc.sendMail(ctx, domain.EmailMessage{
		TenantID: user.TenantID,
		To:       user.Email,
		Subject:  "Reset your password",
		Body:     uc.link("reset-password", raw),
	})
	return done, nil
}

// ResetPassword consumes a reset token and sets the new password. An unknown
// or expired token is reported through the Result, not as an error.
func (uc *UseCase) ResetPassword(ctx context.Context, token, newPassword string) (Result, error) {
	if err := usecase.Validate(passwordInput{Password: newPassword}); err != nil {
		return Result{}, err
	}
	hash, err := uc.hashPassword(newPassword)
	if err != nil {
		return Result{}, err
	}

	sys := uc.guard.Bypass(ctx, "consume-password-reset")
	var user *domain.User
	err = usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var consumeErr error
		user, consumeErr = uc.users.ConsumePasswordReset(ctx, sys, hashToken(token), string(hash), uc.cfg.Now())
		return consumeErr
	})
	if errors.Is(err, domain.ErrTokenNotFound) {
		appLogger.WithIdentity(ctx, uc.logger).Info("password reset rejected", zap.String("reason", "unknown or expired token"))
		return Result{Success: false, Message: msgResetInvalid}, nil
	}
	if err != nil {
		return Result{}, err
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("password reset completed",
		zap.String("tenant_id", user.TenantID), zap.String("user_id", user.ID))
	return Result{Success: true, Message: msgResetDone}, nil
}

// VerifyEmail consumes a verification token. A token works exactly once.
func (uc *UseCase) VerifyEmail(ctx context.Context, token string) (Result, error) {
	sys := uc.guard.Bypass(ctx, "consume-email-verification")
	var user *domain.User
	err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var consumeErr error
		user, consumeErr = uc.users.ConsumeEmailVerification(ctx, sys, hashToken(token), uc.cfg.Now())
		return consumeErr
	})
	if errors.Is(err, domain.ErrTokenNotFound) {
		appLogger.WithIdentity(ctx, uc.logger).Info("email verification rejected", zap.String("reason", "unknown or expired token"))
		return Result{Success: false, Message: msgVerifyInvalid}, nil
	}
	if err != nil {
		return Result{}, err
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("email verified",
		zap.String("tenant_id", user.TenantID), zap.String("user_id", user.ID))
	return Result{Success: true, Message: msgVerified}, nil
}

// ResendVerification always reports success; a fresh token is issued only
// for existing, unverified accounts.
func (uc *UseCase) ResendVerification(ctx context.Context, email string) (Result, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return Result{}, err
	}
	log := appLogger.WithIdentity(ctx, uc.logger)
	done := Result{Success: true, Message: msgVerificationSent}

	user, err := uc.findByEmail(ctx, scope, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		log.Info("verification resend for unknown email")
		return done, nil
	}
	if err != nil {
		return Result{}, err
	}
	if user.EmailVerified {
		log.Info("verification resend for verified account", zap.String("user_id", user.ID))
		return done, nil
	}

	raw, hash, err := newOneTimeToken()
	if err != nil {
		return Result{}, err
	}
	token := domain.OneTimeToken{Hash: hash, ExpiresAt: uc.cfg.Now().Add(uc.cfg.VerificationTTL)}
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.SetEmailVerification(ctx, scope, user.ID, token)
	}); err != nil {
		return Result{}, err
	}
	uc.sendMail(ctx, domain.EmailMessage{
		TenantID: user.TenantID,
		To:       user.Email,
		Subject:  "Verify your email address",
		Body:     uc.link("verify-email", raw),
	})
	return done, nil
}

// ChangePassword replaces the caller's password after checking the current
// one. Existing refresh tokens stay valid.
func (uc *UseCase) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	identity, ok := tenancy.IdentityFrom(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return err
	}
	if err := usecase.Validate(passwordInput{Password: newPassword}); err != nil {
		return err
	}

	var user *domain.User
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var getErr error
		user, getErr = uc.users.GetByID(ctx, scope, identity.UserID)
		return getErr
	}); err != nil {
		return err
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return domain.ErrInvalidCredentials
	}

	hash, err := uc.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.UpdatePassword(ctx, scope, user.ID, string(hash))
	}); err != nil {
		return err
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("password changed")
	return nil
}

// UpdateUserRole sets the built-in role of a user in the caller's tenant.
// Admin only.
func (uc *UseCase) UpdateUserRole(ctx context.Context, userID, role string) (*domain.User, error) {
	if uc.roles == nil {
		return nil, domain.ErrForbidden
	}
	if err := uc.roles.CheckRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if err := usecase.Validate(roleInput{Role: role}); err != nil {
		return nil, err
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var updateErr error
		user, updateErr = uc.users.UpdateRole(ctx, scope, userID, role)
		return updateErr
	}); err != nil {
		return nil, err
	}
	appLogger.WithIdentity(ctx, uc.logger).Info("user role updated",
		zap.String("target_user_id", user.ID), zap.String("role", role))
	return user, nil
}

// SignInExternal finds the user an identity provider vouched for in the
// context tenant. A user registered with the same email is linked; otherwise
// a verified, password-less user is created.
func (uc *UseCase) SignInExternal(ctx context.Context, ext domain.ExternalProfile) (*domain.User, *domain.Tenant, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	if ext.Provider == "" || ext.Subject == "" {
		return nil, nil, domain.ErrInvalidToken
	}
	ext.Email = normalizeEmail(ext.Email)
	if err := usecase.Validate(emailInput{Email: ext.Email}); err != nil {
		return nil, nil, err
	}
	tenant, err := uc.activeTenant(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	log := appLogger.WithIdentity(ctx, uc.logger).With(zap.String("provider", ext.Provider))

	user, err := uc.findBySubject(ctx, scope, ext)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUserNotFound):
		user, err = uc.linkOrCreate(ctx, scope, ext)
		if errors.Is(err, domain.ErrExternalLinked) {
			// A concurrent sign-in bound the account first.
			user, err = uc.findBySubject(ctx, scope, ext)
		}
		if err != nil {
			return nil, nil, err
		}
		log.Info("external identity bound", zap.String("user_id", user.ID))
	default:
		return nil, nil, err
	}

	if !user.IsActive() {
		log.Info("login refused", zap.String("reason", "account "+user.Status), zap.String("user_id", user.ID))
		return nil, nil, domain.ErrAccountInactive
	}
	now := uc.cfg.Now()
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.UpdateLastLogin(ctx, scope, user.ID, now)
	}); err != nil {
		return nil, nil, err
	}
	user.LastLoginAt = &now
	return user, tenant, nil
}

func (uc *UseCase) findBySubject(ctx context.Context, scope tenancy.Scope, ext domain.ExternalProfile) (*domain.User, error) {
	var user *domain.User
	err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var getErr error
		user, getErr = uc.users.GetByOAuthSubject(ctx, scope, ext.Provider, ext.Subject)
		return getErr
	})
	return user, err
}

func (uc *UseCase) linkOrCreate(ctx context.Context, scope tenancy.Scope, ext domain.ExternalProfile) (*domain.User, error) {
	user, err := uc.findByEmail(ctx, scope, ext.Email)
	if err == nil {
		if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
			return uc.users.LinkOAuth(ctx, scope, user.ID, ext.Provider, ext.Subject)
		}); err != nil {
			return nil, err
		}
		user.OAuthProvider = ext.Provider
		user.OAuthSubject = ext.Subject
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	user = &domain.User{
		Email:         ext.Email,
		Role:          domain.DefaultRole,
		Status:        domain.UserStatusActive,
		EmailVerified: true,
		Profile:       ext.Profile,
		OAuthProvider: ext.Provider,
		OAuthSubject:  ext.Subject,
	}
	if err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		return uc.users.Create(ctx, scope, user)
	}); err != nil {
		return nil, err
	}
	return user, nil
}

// ActiveTenant loads the context tenant and requires it to be active.
func (uc *UseCase) ActiveTenant(ctx context.Context) (*domain.Tenant, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return nil, err
	}
	return uc.activeTenant(ctx, scope)
}

func (uc *UseCase) activeTenant(ctx context.Context, scope tenancy.Scope) (*domain.Tenant, error) {
	var tenant *domain.Tenant
	if err := usecase.Call(ctx, serviceTenants, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var getErr error
		tenant, getErr = uc.tenants.GetByID(ctx, scope.TenantID())
		return getErr
	}); err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, domain.ErrTenantInactive
	}
	return tenant, nil
}

func (uc *UseCase) findByEmail(ctx context.Context, scope tenancy.Scope, email string) (*domain.User, error) {
	var user *domain.User
	err := usecase.Call(ctx, serviceCredentials, uc.cfg.StoreTimeout, func(ctx context.Context) error {
		var getErr error
		user, getErr = uc.users.GetByEmail(ctx, scope, normalizeEmail(email))
		return getErr
	})
	return user, err
}

// maxPasswordBytes is the bcrypt input limit. The validator counts runes.
const maxPasswordBytes = 72

func (uc *UseCase) hashPassword(password string) ([]byte, error) {
	tooLong := domain.InvalidInput("invalid input", map[string]string{"password": "must be at most 72 bytes"})
	if len(password) > maxPasswordBytes {
		return nil, tooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.cfg.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, tooLong
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// burnCompare spends a bcrypt comparison so unknown emails take as long as
// wrong passwords.
func (uc *UseCase) burnCompare(password string) {
	uc.dummyOnce.Do(func() {
		uc.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), uc.cfg.BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(uc.dummyHash, []byte(password))
}

func (uc *UseCase) sendMail(ctx context.Context, msg domain.EmailMessage) {
	if err := uc.mailer.Send(ctx, msg); err != nil {
		appLogger.WithIdentity(ctx, uc.logger).Error("email dispatch failed",
			zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (uc *UseCase) link(path, token string) string {
	base := strings.TrimRight(uc.cfg.LinkBaseURL, "/")
	return fmt.Sprintf("%s/%s?token=%s", base, path, token)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newOneTimeToken returns a random token and the hash that gets stored.
func newOneTimeToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
