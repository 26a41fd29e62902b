package profile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository/memory"
	"github.com/fastygo/tenantauth/usecase/profile"
)

func TestProfileRoundTrip(t *testing.T) {
	store := memory.NewStore()
	ctx := tenancy.WithTenant(context.Background(), "T1")
	scope, err := tenancy.NewGuard(nil).Scope(ctx)
	require.NoError(t, err)
	user := &domain.User{Email: "a@x.com", Role: domain.RoleMember, Status: domain.UserStatusActive}
	require.NoError(t, store.Users().Create(ctx, scope, user))

	uc := profile.New(store.Users(), nil, 0, nil)
	authed := tenancy.WithIdentity(context.Background(), user.Identity())

	updated, err := uc.UpdateProfile(authed, profile.Input{FirstName: " Ada ", LastName: "Lovelace"})
	require.NoError(t, err)
	require.Equal(t, "Ada", updated.Profile.FirstName)

	me, err := uc.GetProfile(authed)
	require.NoError(t, err)
	require.Equal(t, user.ID, me.ID)
	require.Equal(t, "Lovelace", me.Profile.LastName)

	_, err = uc.GetProfile(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestProfileOfForeignTenantIsNotFound(t *testing.T) {
	store := memory.NewStore()
	ctx := tenancy.WithTenant(context.Background(), "T1")
	scope, err := tenancy.NewGuard(nil).Scope(ctx)
	require.NoError(t, err)
	user := &domain.User{Email: "a@x.com", Role: domain.RoleMember, Status: domain.UserStatusActive}
	require.NoError(t, store.Users().Create(ctx, scope, user))

	forged := tenancy.WithIdentity(context.Background(), domain.Identity{UserID: user.ID, TenantID: "T2", Role: domain.RoleAdmin})
	_, err = profile.New(store.Users(), nil, 0, nil).GetProfile(forged)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}
