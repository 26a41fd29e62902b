package credential_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository/memory"
	"github.com/fastygo/tenantauth/usecase/credential"
	"github.com/fastygo/tenantauth/usecase/role"
)

type mailSpy struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
	err  error
}

func (m *mailSpy) Send(_ context.Context, msg domain.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *mailSpy) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	body := m.sent[len(m.sent)-1].Body
	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0)
	return body[idx+len("token="):]
}

type fixture struct {
	store *memory.Store
	mail  *mailSpy
	uc    *credential.UseCase
	ctx   context.Context
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		mail:  &mailSpy{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.PutTenant(domain.Tenant{ID: "T1", Slug: "t1", Status: domain.TenantStatusActive, SubscriptionStatus: domain.SubscriptionActive})
	f.store.PutTenant(domain.Tenant{ID: "T2", Slug: "t2", Status: domain.TenantStatusActive, SubscriptionStatus: domain.SubscriptionActive})
	f.store.PutTenant(domain.Tenant{ID: "OFF", Slug: "off", Status: domain.TenantStatusSuspended, SubscriptionStatus: domain.SubscriptionActive})

	guard := tenancy.NewGuard(nil)
	roles := role.New(f.store.Roles(), f.store.Users(), guard, 0, nil)
	f.uc = credential.New(f.store.Users(), f.store.Tenants(), guard, f.mail, roles, credential.Config{
		BcryptCost:  bcrypt.MinCost,
		LinkBaseURL: "https://app.test/",
		Now:         func() time.Time { return f.now },
	}, nil)
	f.ctx = tenancy.WithTenant(context.Background(), "T1")
	return f
}

func (f *fixture) register(t *testing.T, email string) *domain.User {
	t.Helper()
	user, _, err := f.uc.Register(f.ctx, credential.RegisterInput{Email: email, Password: "pw123456"})
	require.NoError(t, err)
	return user
}

func TestRegisterCreatesUnverifiedMember(t *testing.T) {
	f := newFixture(t)

	user, tenant, err := f.uc.Register(f.ctx, credential.RegisterInput{
		Email:    " A@x.com ",
		Password: "pw123456",
		Profile:  domain.Profile{FirstName: "Ada"},
	})
	require.NoError(t, err)
	require.Equal(t, "a@x.com", user.Email)
	require.Equal(t, "T1", user.TenantID)
	require.Equal(t, "T1", tenant.ID)
	require.False(t, user.EmailVerified)
	require.Equal(t, domain.RoleMember, user.Role)
	require.NotEqual(t, "pw123456", user.PasswordHash)

	require.Len(t, f.mail.sent, 1)
	raw := f.mail.lastToken(t)
	require.Len(t, raw, 64)
	require.NotEqual(t, raw, user.EmailVerification.Hash)
	require.True(t, strings.HasPrefix(f.mail.sent[0].Body, "https://app.test/verify-email?token="))
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")

	_, _, err := f.uc.Register(f.ctx, credential.RegisterInput{Email: "a@x.com", Password: "pw123456"})
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	_, _, err = f.uc.Register(tenancy.WithTenant(context.Background(), "T2"), credential.RegisterInput{Email: "a@x.com", Password: "pw123456"})
	require.NoError(t, err)

	_, _, err = f.uc.Register(f.ctx, credential.RegisterInput{Email: "b@x.com", Password: "short"})
	var dErr *domain.Error
	require.True(t, errors.As(err, &dErr))
	require.Equal(t, domain.ErrCodeBadUserInput, dErr.Code)
	require.Contains(t, dErr.Fields, "password")

	_, _, err = f.uc.Register(f.ctx, credential.RegisterInput{Email: "not-an-email", Password: "pw123456"})
	require.True(t, domain.IsDomainError(err, domain.ErrCodeBadUserInput))

	_, _, err = f.uc.Register(tenancy.WithTenant(context.Background(), "OFF"), credential.RegisterInput{Email: "c@x.com", Password: "pw123456"})
	require.ErrorIs(t, err, domain.ErrTenantInactive)

	_, _, err = f.uc.Register(tenancy.WithTenant(context.Background(), "nope"), credential.RegisterInput{Email: "c@x.com", Password: "pw123456"})
	require.ErrorIs(t, err, domain.ErrTenantNotFound)

	before := f.store.Accesses()
	_, _, err = f.uc.Register(context.Background(), credential.RegisterInput{Email: "c@x.com", Password: "pw123456"})
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))
	require.Equal(t, before, f.store.Accesses())
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp down")

	user := f.register(t, "a@x.com")
	require.NotEmpty(t, user.ID)
}

func TestVerifyEmailIsSingleUse(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "a@x.com")
	raw := f.mail.lastToken(t)

	res, err := f.uc.VerifyEmail(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, res.Success)

	scope, err := tenancy.NewGuard(nil).Scope(f.ctx)
	require.NoError(t, err)
	stored, err := f.store.Users().GetByID(f.ctx, scope, user.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailVerified)
	require.Nil(t, stored.EmailVerification)

	res, err = f.uc.VerifyEmail(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestVerifyEmailRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")
	raw := f.mail.lastToken(t)

	f.now = f.now.Add(24*time.Hour + time.Second)
	res, err := f.uc.VerifyEmail(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestResendVerificationSupersedesAndIsUniform(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")
	first := f.mail.lastToken(t)

	res, err := f.uc.ResendVerification(f.ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, res.Success)
	second := f.mail.lastToken(t)
	require.NotEqual(t, first, second)

	res, err = f.uc.VerifyEmail(context.Background(), first)
	require.NoError(t, err)
	require.False(t, res.Success)

	unknown, err := f.uc.ResendVerification(f.ctx, "ghost@x.com")
	require.NoError(t, err)
	require.True(t, unknown.Success)

	res, err = f.uc.VerifyEmail(context.Background(), second)
	require.NoError(t, err)
	require.True(t, res.Success)

	sent := len(f.mail.sent)
	verified, err := f.uc.ResendVerification(f.ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, unknown, verified)
	require.Len(t, f.mail.sent, sent)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")

	_, _, err := f.uc.Login(f.ctx, "a@x.com", "wrongpw")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, _, unknownErr := f.uc.Login(f.ctx, "ghost@x.com", "pw123456")
	require.ErrorIs(t, unknownErr, domain.ErrInvalidCredentials)
	require.Equal(t, err.Error(), unknownErr.Error())

	user, tenant, err := f.uc.Login(f.ctx, "A@X.com", "pw123456")
	require.NoError(t, err)
	require.Equal(t, "T1", tenant.ID)
	require.NotNil(t, user.LastLoginAt)
	require.True(t, user.LastLoginAt.Equal(f.now))

	_, _, err = f.uc.Login(tenancy.WithTenant(context.Background(), "T2"), "a@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "a@x.com")

	scope, err := tenancy.NewGuard(nil).Scope(f.ctx)
	require.NoError(t, err)
	stored, err := f.store.Users().GetByID(f.ctx, scope, user.ID)
	require.NoError(t, err)
	require.True(t, stored.IsActive())

	suspended := &domain.User{Email: "s@x.com", Role: domain.RoleMember, Status: domain.UserStatusSuspended}
	hash, err := bcrypt.GenerateFromPassword([]byte("pw123456"), bcrypt.MinCost)
	require.NoError(t, err)
	suspended.PasswordHash = string(hash)
	require.NoError(t, f.store.Users().Create(f.ctx, scope, suspended))

	_, _, err = f.uc.Login(f.ctx, "s@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrAccountInactive)
	_, _, err = f.uc.Login(f.ctx, "s@x.com", "wrongpw")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")

	unknown, err := f.uc.RequestPasswordReset(f.ctx, "ghost@x.com")
	require.NoError(t, err)
	known, err := f.uc.RequestPasswordReset(f.ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, unknown, known)
	require.True(t, known.Success)
	raw := f.mail.lastToken(t)

	res, err := f.uc.ResetPassword(context.Background(), raw, "newpassword")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.uc.ResetPassword(context.Background(), raw, "another-one")
	require.NoError(t, err)
	require.False(t, res.Success)

	_, _, err = f.uc.Login(f.ctx, "a@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, _, err = f.uc.Login(f.ctx, "a@x.com", "newpassword")
	require.NoError(t, err)
}

func TestPasswordResetExpiresAndSupersedes(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")

	_, err := f.uc.RequestPasswordReset(f.ctx, "a@x.com")
	require.NoError(t, err)
	first := f.mail.lastToken(t)
	_, err = f.uc.RequestPasswordReset(f.ctx, "a@x.com")
	require.NoError(t, err)
	second := f.mail.lastToken(t)

	res, err := f.uc.ResetPassword(context.Background(), first, "newpassword")
	require.NoError(t, err)
	require.False(t, res.Success)

	f.now = f.now.Add(31 * time.Minute)
	res, err = f.uc.ResetPassword(context.Background(), second, "newpassword")
	require.NoError(t, err)
	require.False(t, res.Success)

	_, err = f.uc.ResetPassword(context.Background(), second, "short")
	require.True(t, domain.IsDomainError(err, domain.ErrCodeBadUserInput))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "a@x.com")
	authed := tenancy.WithIdentity(context.Background(), user.Identity())

	require.ErrorIs(t, f.uc.ChangePassword(authed, "wrongpw", "newpassword"), domain.ErrInvalidCredentials)
	require.NoError(t, f.uc.ChangePassword(authed, "pw123456", "newpassword"))
	require.ErrorIs(t, f.uc.ChangePassword(context.Background(), "newpassword", "x"), domain.ErrUnauthenticated)

	_, _, err := f.uc.Login(f.ctx, "a@x.com", "newpassword")
	require.NoError(t, err)
}

func TestMultibytePasswordBeyondBcryptLimit(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("é", 40)

	_, _, err := f.uc.Register(f.ctx, credential.RegisterInput{Email: "a@x.com", Password: long})
	var dErr *domain.Error
	require.True(t, errors.As(err, &dErr))
	require.Equal(t, domain.ErrCodeBadUserInput, dErr.Code)
	require.Contains(t, dErr.Fields, "password")

	user := f.register(t, "b@x.com")
	authed := tenancy.WithIdentity(context.Background(), user.Identity())
	require.True(t, domain.IsDomainError(f.uc.ChangePassword(authed, "pw123456", long), domain.ErrCodeBadUserInput))

	_, err = f.uc.RequestPasswordReset(f.ctx, "b@x.com")
	require.NoError(t, err)
	raw := f.mail.lastToken(t)
	_, err = f.uc.ResetPassword(context.Background(), raw, long)
	require.True(t, domain.IsDomainError(err, domain.ErrCodeBadUserInput))

	res, err := f.uc.ResetPassword(context.Background(), raw, strings.Repeat("é", 36))
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestUpdateUserRole(t *testing.T) {
	f := newFixture(t)
	member := f.register(t, "m@x.com")

	scope, err := tenancy.NewGuard(nil).Scope(f.ctx)
	require.NoError(t, err)
	admin := &domain.User{Email: "admin@x.com", Role: domain.RoleAdmin, Status: domain.UserStatusActive}
	require.NoError(t, f.store.Users().Create(f.ctx, scope, admin))
	adminCtx := tenancy.WithIdentity(context.Background(), admin.Identity())

	updated, err := f.uc.UpdateUserRole(adminCtx, member.ID, "Manager")
	require.NoError(t, err)
	require.Equal(t, domain.RoleManager, updated.Role)

	_, err = f.uc.UpdateUserRole(adminCtx, member.ID, "superuser")
	require.True(t, domain.IsDomainError(err, domain.ErrCodeBadUserInput))

	memberCtx := tenancy.WithIdentity(context.Background(), member.Identity())
	_, err = f.uc.UpdateUserRole(memberCtx, admin.ID, domain.RoleMember)
	require.ErrorIs(t, err, domain.ErrForbidden)

	otherCtx := tenancy.WithTenant(context.Background(), "T2")
	otherScope, err := tenancy.NewGuard(nil).Scope(otherCtx)
	require.NoError(t, err)
	foreign := &domain.User{Email: "f@y.com", Role: domain.RoleMember, Status: domain.UserStatusActive}
	require.NoError(t, f.store.Users().Create(otherCtx, otherScope, foreign))

	_, err = f.uc.UpdateUserRole(adminCtx, foreign.ID, domain.RoleAdmin)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSignInExternal(t *testing.T) {
	f := newFixture(t)
	existing := f.register(t, "a@x.com")

	linked, _, err := f.uc.SignInExternal(f.ctx, domain.ExternalProfile{Provider: "google", Subject: "g-1", Email: "a@x.com"})
	require.NoError(t, err)
	require.Equal(t, existing.ID, linked.ID)

	again, _, err := f.uc.SignInExternal(f.ctx, domain.ExternalProfile{Provider: "google", Subject: "g-1", Email: "changed@x.com"})
	require.NoError(t, err)
	require.Equal(t, existing.ID, again.ID)

	created, tenant, err := f.uc.SignInExternal(f.ctx, domain.ExternalProfile{Provider: "github", Subject: "gh-9", Email: "new@x.com"})
	require.NoError(t, err)
	require.Equal(t, "T1", tenant.ID)
	require.True(t, created.EmailVerified)
	require.Empty(t, created.PasswordHash)

	_, _, err = f.uc.Login(f.ctx, "new@x.com", "")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = f.uc.SignInExternal(f.ctx, domain.ExternalProfile{Provider: "github"})
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}
