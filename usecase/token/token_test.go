package token_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository/memory"
	"github.com/fastygo/tenantauth/usecase/token"
)

type fixture struct {
	store   *memory.Store
	service *token.Service
	guard   *tenancy.Guard
	tenant  *domain.Tenant
	user    *domain.User
	ctx     context.Context
	clock   *stepClock
}

// stepClock advances one millisecond per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *stepClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		guard: tenancy.NewGuard(nil),
		clock: &stepClock{now: time.Now()},
	}
	f.tenant = &domain.Tenant{ID: "T1", Slug: "t1", Status: domain.TenantStatusActive, SubscriptionStatus: domain.SubscriptionActive}
	f.store.PutTenant(*f.tenant)

	f.service = token.New(f.store.Users(), f.store.Tenants(), f.guard, token.Config{
		Secret: "test-secret",
		Issuer: "tenantauth-test",
		Now:    f.clock.Now,
	}, nil)

	f.ctx = tenancy.WithTenant(context.Background(), "T1")
	scope, err := f.guard.Scope(f.ctx)
	require.NoError(t, err)
	f.user = &domain.User{Email: "a@x.com", Role: domain.RoleStaff, Status: domain.UserStatusActive}
	require.NoError(t, f.store.Users().Create(f.ctx, scope, f.user))
	return f
}

func TestAccessTokenCarriesTenantAndRole(t *testing.T) {
	f := newFixture(t)

	pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
	require.NoError(t, err)
	require.Equal(t, int64(900), pair.ExpiresIn)

	identity, err := f.service.VerifyAccessToken(f.ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "T1", identity.TenantID)
	require.Equal(t, domain.RoleStaff, identity.Role)
	require.Equal(t, f.user.ID, identity.UserID)

	_, err = f.service.VerifyAccessToken(f.ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRefreshReusesTokenAndRejectsWrongType(t *testing.T) {
	f := newFixture(t)
	pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
	require.NoError(t, err)

	anonymous := context.Background()
	grant, err := f.service.Refresh(anonymous, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, grant.AccessToken)

	again, err := f.service.Refresh(anonymous, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, again.AccessToken)

	_, err = f.service.Refresh(anonymous, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.service.Refresh(anonymous, "not-a-token")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRevokedTokensNoLongerRefresh(t *testing.T) {
	f := newFixture(t)
	first, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
	require.NoError(t, err)
	second, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(f.ctx, f.user.ID, first.RefreshToken))
	require.NoError(t, f.service.Revoke(f.ctx, f.user.ID, first.RefreshToken))
	_, err = f.service.Refresh(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = f.service.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.service.RevokeAll(f.ctx, f.user.ID))
	_, err = f.service.Refresh(context.Background(), second.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRefreshTokenListIsCapped(t *testing.T) {
	f := newFixture(t)

	var issued []string
	for i := 0; i < 7; i++ {
		pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
		require.NoError(t, err)
		issued = append(issued, pair.RefreshToken)
	}

	scope, err := f.guard.Scope(f.ctx)
	require.NoError(t, err)
	live := 0
	for _, tok := range issued {
		ok, err := f.store.Users().HasRefreshToken(f.ctx, scope, f.user.ID, tok, f.clock.Current())
		require.NoError(t, err)
		if ok {
			live++
		}
	}
	require.Equal(t, domain.DefaultMaxRefreshTokens, live)

	_, err = f.service.Refresh(context.Background(), issued[0])
	require.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.service.Refresh(context.Background(), issued[6])
	require.NoError(t, err)
}

func TestRefreshRejectsInactiveTenant(t *testing.T) {
	f := newFixture(t)
	pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
	require.NoError(t, err)

	suspended := *f.tenant
	suspended.SubscriptionStatus = domain.SubscriptionCanceled
	f.store.PutTenant(suspended)

	_, err = f.service.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrTenantInactive)
}

func TestRefreshRejectsCrossTenantContext(t *testing.T) {
	f := newFixture(t)
	pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
	require.NoError(t, err)

	_, err = f.service.Refresh(tenancy.WithTenant(context.Background(), "T2"), pair.RefreshToken)
	require.True(t, domain.IsDomainError(err, domain.ErrCodeForbidden))
}

func TestVerifyRejectsForeignSignatureAndAlgorithm(t *testing.T) {
	f := newFixture(t)

	claims := token.Claims{
		TenantID: "T1",
		Role:     domain.RoleAdmin,
		Type:     domain.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   f.user.ID,
			Issuer:    "tenantauth-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = f.service.VerifyAccessToken(f.ctx, forged)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = f.service.VerifyAccessToken(f.ctx, unsigned)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestExpiredAccessTokenIsRejected(t *testing.T) {
	store := memory.NewStore()
	service := token.New(store.Users(), store.Tenants(), nil, token.Config{
		Secret: "test-secret",
		Now:    func() time.Time { return time.Now().Add(-time.Hour) },
	}, nil)
	user := &domain.User{ID: "u1", TenantID: "T1", Role: domain.RoleMember}

	access, err := service.IssueAccessToken(user, &domain.Tenant{ID: "T1"})
	require.NoError(t, err)
	_, err = service.VerifyAccessToken(context.Background(), access)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestIssueRefreshTokenRequiresTenant(t *testing.T) {
	f := newFixture(t)
	before := f.store.Accesses()

	_, err := f.service.IssueRefreshToken(context.Background(), f.user, f.tenant)
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))
	require.Equal(t, before, f.store.Accesses())
}

func TestConcurrentIssueRevokeRefreshKeepsCap(t *testing.T) {
	f := newFixture(t)

	var revoked []string
	for i := 0; i < domain.DefaultMaxRefreshTokens; i++ {
		pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
		require.NoError(t, err)
		revoked = append(revoked, pair.RefreshToken)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		issued []string
		errs   = make(chan error, 100)
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := f.service.IssueTokenPair(f.ctx, f.user, f.tenant)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			issued = append(issued, pair.RefreshToken)
			mu.Unlock()
		}()
	}
	for _, tok := range revoked {
		wg.Add(2)
		go func(tok string) {
			defer wg.Done()
			if err := f.service.Revoke(f.ctx, f.user.ID, tok); err != nil {
				errs <- err
			}
		}(tok)
		go func(tok string) {
			defer wg.Done()
			if _, err := f.service.Refresh(context.Background(), tok); err != nil && !errors.Is(err, domain.ErrInvalidToken) {
				errs <- err
			}
		}(tok)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, issued, 40)

	scope, err := f.guard.Scope(f.ctx)
	require.NoError(t, err)
	live := 0
	for _, tok := range append(issued, revoked...) {
		ok, err := f.store.Users().HasRefreshToken(f.ctx, scope, f.user.ID, tok, f.clock.Current())
		require.NoError(t, err)
		if ok {
			live++
		}
	}
	require.LessOrEqual(t, live, domain.DefaultMaxRefreshTokens)
	require.Positive(t, live)

	for _, tok := range revoked {
		_, err := f.service.Refresh(context.Background(), tok)
		require.ErrorIs(t, err, domain.ErrInvalidToken)
	}
}
