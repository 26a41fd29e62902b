package memory_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/repository/memory"
)

var guard = tenancy.NewGuard(nil)

func scopeFor(t *testing.T, tenantID string) tenancy.Scope {
	t.Helper()
	scope, err := guard.Scope(tenancy.WithTenant(context.Background(), tenantID))
	require.NoError(t, err)
	return scope
}

func TestZeroScopeIsRejectedBeforeStorageAccess(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	var zero tenancy.Scope

	_, err := store.Users().GetByID(ctx, zero, "u1")
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))
	err = store.Users().AddRefreshToken(ctx, zero, "u1", domain.RefreshToken{Token: "t"}, 5)
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))
	_, err = store.Aggregates().List(ctx, tenancy.Scoped[repository.AggregateFilter]{})
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))
	_, err = store.Users().PurgeExpiredTokens(ctx, tenancy.SystemScope{}, time.Now())
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))

	require.Zero(t, store.Accesses())
}

func TestUsersAreIsolatedByTenant(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	t1, t2 := scopeFor(t, "T1"), scopeFor(t, "T2")

	a := &domain.User{Email: "A@x.com ", Role: domain.RoleMember, Status: domain.UserStatusActive}
	require.NoError(t, store.Users().Create(ctx, t1, a))
	require.Equal(t, "a@x.com", a.Email)
	require.Equal(t, "T1", a.TenantID)

	err := store.Users().Create(ctx, t1, &domain.User{Email: "a@x.com"})
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	b := &domain.User{Email: "a@x.com"}
	require.NoError(t, store.Users().Create(ctx, t2, b))
	require.NotEqual(t, a.ID, b.ID)

	_, err = store.Users().GetByID(ctx, t2, a.ID)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	err = store.Users().UpdatePassword(ctx, t2, a.ID, "x")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	found, err := store.Users().GetByEmail(ctx, t2, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, b.ID, found.ID)
}

func TestExternalAccountLinksOnce(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	t1, t2 := scopeFor(t, "T1"), scopeFor(t, "T2")

	a := &domain.User{Email: "a@x.com", OAuthProvider: "google", OAuthSubject: "g-1"}
	require.NoError(t, store.Users().Create(ctx, t1, a))
	err := store.Users().Create(ctx, t1, &domain.User{Email: "b@x.com", OAuthProvider: "google", OAuthSubject: "g-1"})
	require.ErrorIs(t, err, domain.ErrExternalLinked)
	require.NoError(t, store.Users().Create(ctx, t2, &domain.User{Email: "b@x.com", OAuthProvider: "google", OAuthSubject: "g-1"}))

	c := &domain.User{Email: "c@x.com"}
	require.NoError(t, store.Users().Create(ctx, t1, c))
	require.ErrorIs(t, store.Users().LinkOAuth(ctx, t1, c.ID, "google", "g-1"), domain.ErrExternalLinked)
	require.NoError(t, store.Users().LinkOAuth(ctx, t1, a.ID, "google", "g-1"))
	require.NoError(t, store.Users().LinkOAuth(ctx, t1, c.ID, "google", "g-2"))

	found, err := store.Users().GetByOAuthSubject(ctx, t1, "google", "g-1")
	require.NoError(t, err)
	require.Equal(t, a.ID, found.ID)
}

func TestConsumeOneTimeTokenIsSingleUse(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	scope := scopeFor(t, "T1")
	now := time.Now()

	user := &domain.User{Email: "a@x.com"}
	require.NoError(t, store.Users().Create(ctx, scope, user))
	require.NoError(t, store.Users().SetEmailVerification(ctx, scope, user.ID, domain.OneTimeToken{Hash: "h1", ExpiresAt: now.Add(time.Hour)}))
	// a second issuance supersedes the first
	require.NoError(t, store.Users().SetEmailVerification(ctx, scope, user.ID, domain.OneTimeToken{Hash: "h2", ExpiresAt: now.Add(time.Hour)}))

	sys := guard.Bypass(ctx, "verify-email")
	_, err := store.Users().ConsumeEmailVerification(ctx, sys, "h1", now)
	require.ErrorIs(t, err, domain.ErrTokenNotFound)

	verified, err := store.Users().ConsumeEmailVerification(ctx, sys, "h2", now)
	require.NoError(t, err)
	require.True(t, verified.EmailVerified)

	_, err = store.Users().ConsumeEmailVerification(ctx, sys, "h2", now)
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestRoleUpdatePropagatesToHolders(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	scope := scopeFor(t, "T1")

	user := &domain.User{Email: "a@x.com"}
	require.NoError(t, store.Users().Create(ctx, scope, user))
	role := &domain.Role{Name: "scheduler", Permissions: []string{domain.PermEventsRead}}
	require.NoError(t, store.Roles().Create(ctx, scope, role))
	require.ErrorIs(t, store.Roles().Create(ctx, scope, &domain.Role{Name: "Scheduler"}), domain.ErrRoleNameTaken)

	_, err := store.Roles().Assign(ctx, scope, user.ID, role.ID)
	require.NoError(t, err)

	role.Name = "planner"
	role.Permissions = []string{domain.PermEventsRead, domain.PermEventsWrite}
	require.NoError(t, store.Roles().Update(ctx, scope, role))

	got, err := store.Users().GetByID(ctx, scope, user.ID)
	require.NoError(t, err)
	require.Len(t, got.CustomRoles, 1)
	require.Equal(t, "planner", got.CustomRoles[0].Name)
	require.ElementsMatch(t, role.Permissions, got.CustomRoles[0].Permissions)

	require.NoError(t, store.Roles().Delete(ctx, scope, role.ID))
	got, err = store.Users().GetByID(ctx, scope, user.ID)
	require.NoError(t, err)
	require.Empty(t, got.CustomRoles)
}

func TestAggregateSaveNeverOverwritesOtherTenant(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	t1, t2 := scopeFor(t, "T1"), scopeFor(t, "T2")

	owned := &domain.Aggregate{ID: "agg-1", Kind: "calendar", Payload: json.RawMessage(`{"name":"a"}`)}
	require.NoError(t, store.Aggregates().Save(ctx, t1, owned))

	hijack := &domain.Aggregate{ID: "agg-1", Kind: "calendar", Payload: json.RawMessage(`{"name":"b"}`)}
	require.ErrorIs(t, store.Aggregates().Save(ctx, t2, hijack), domain.ErrAggregateNotFound)
	require.ErrorIs(t, store.Aggregates().Delete(ctx, t2, "agg-1"), domain.ErrAggregateNotFound)

	got, err := store.Aggregates().Get(ctx, t1, "agg-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"a"}`, string(got.Payload))

	list, err := store.Aggregates().List(ctx, tenancy.Scoped[repository.AggregateFilter]{Scope: t2})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCounterStoreWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	counters := memory.NewCounterStore(memory.CounterStoreConfig{Now: func() time.Time { return now }, MaxKeys: 1})
	ctx := context.Background()

	count, resetIn, err := counters.Increment(ctx, "rl:auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, resetIn)

	count, _, err = counters.Increment(ctx, "rl:auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	_, _, err = counters.Increment(ctx, "rl:auth:5.6.7.8", time.Minute)
	require.ErrorIs(t, err, memory.ErrCounterCapacity)

	now = now.Add(time.Minute)
	count, _, err = counters.Increment(ctx, "rl:auth:5.6.7.8", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestAggregateListNewestFirst(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	scope := scopeFor(t, "T1")
	ctx := context.Background()

	for _, id := range []string{"first", "second"} {
		require.NoError(t, store.Aggregates().Save(ctx, scope, &domain.Aggregate{ID: id, Kind: "calendar", Payload: json.RawMessage(`{}`)}))
		now = now.Add(time.Minute)
	}
	items, err := store.Aggregates().List(ctx, tenancy.Scoped[repository.AggregateFilter]{Scope: scope})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "second", items[0].ID)
	require.Equal(t, time.Date(2026, 1, 1, 9, 1, 0, 0, time.UTC), items[0].UpdatedAt)
}
