package entity_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/repository/memory"
	"github.com/fastygo/tenantauth/usecase/entity"
	"github.com/fastygo/tenantauth/usecase/role"
)

func newUseCase(store *memory.Store) *entity.UseCase {
	guard := tenancy.NewGuard(nil)
	return entity.New(store.Aggregates(), guard, role.New(store.Roles(), store.Users(), guard, 0, nil), 0, nil)
}

func caller(t *testing.T, store *memory.Store, tenantID, email, roleName string) context.Context {
	t.Helper()
	ctx := tenancy.WithTenant(context.Background(), tenantID)
	scope, err := tenancy.NewGuard(nil).Scope(ctx)
	require.NoError(t, err)
	user := &domain.User{Email: email, Role: roleName, Status: domain.UserStatusActive}
	require.NoError(t, store.Users().Create(ctx, scope, user))
	return tenancy.WithIdentity(context.Background(), user.Identity())
}

func TestEntitiesAreTenantIsolated(t *testing.T) {
	store := memory.NewStore()
	uc := newUseCase(store)
	a := caller(t, store, "TA", "a@a.com", domain.RoleManager)
	b := caller(t, store, "TB", "b@b.com", domain.RoleManager)

	owned, err := uc.Save(b, entity.SaveInput{Kind: "calendar", Payload: json.RawMessage(`{"name":"B"}`)})
	require.NoError(t, err)
	require.Equal(t, "TB", owned.TenantID)
	require.Equal(t, 1, owned.Version)

	_, err = uc.Get(a, owned.ID)
	require.ErrorIs(t, err, domain.ErrAggregateNotFound)
	require.ErrorIs(t, uc.Delete(a, owned.ID), domain.ErrAggregateNotFound)
	_, err = uc.AppendEvent(a, owned.ID, entity.EventInput{Name: "renamed"})
	require.ErrorIs(t, err, domain.ErrAggregateNotFound)

	_, err = uc.Save(a, entity.SaveInput{ID: owned.ID, Kind: "calendar", Payload: json.RawMessage(`{"name":"hijacked"}`)})
	require.ErrorIs(t, err, domain.ErrAggregateNotFound)

	list, err := uc.List(a, repository.AggregateFilter{Kind: "calendar"})
	require.NoError(t, err)
	require.Empty(t, list)

	kept, err := uc.Get(b, owned.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"B"}`, string(kept.Payload))
}

func TestSaveBumpsVersionAndAppendsEvents(t *testing.T) {
	store := memory.NewStore()
	uc := newUseCase(store)
	ctx := caller(t, store, "T1", "s@x.com", domain.RoleStaff)

	created, err := uc.Save(ctx, entity.SaveInput{Kind: "resource"})
	require.NoError(t, err)
	updated, err := uc.Save(ctx, entity.SaveInput{ID: created.ID, Kind: "resource", Labels: map[string]string{"room": "1"}})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)

	event, err := uc.AppendEvent(ctx, created.ID, entity.EventInput{Name: "booked"})
	require.NoError(t, err)
	require.Equal(t, 2, event.Version)
	require.Len(t, store.Events("T1"), 1)
	require.Empty(t, store.Events("T2"))

	_, err = uc.Save(ctx, entity.SaveInput{Kind: "resource", Payload: json.RawMessage(`{broken`)})
	require.True(t, domain.IsDomainError(err, domain.ErrCodeBadUserInput))
}

func TestEntityPermissions(t *testing.T) {
	store := memory.NewStore()
	uc := newUseCase(store)
	staff := caller(t, store, "T1", "s@x.com", domain.RoleStaff)
	member := caller(t, store, "T1", "m@x.com", domain.RoleMember)

	created, err := uc.Save(staff, entity.SaveInput{Kind: "resource"})
	require.NoError(t, err)

	_, err = uc.Get(member, created.ID)
	require.NoError(t, err)
	_, err = uc.Save(member, entity.SaveInput{Kind: "resource"})
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.ErrorIs(t, uc.Delete(staff, created.ID), domain.ErrForbidden)
}

func TestEntitiesRequireTenant(t *testing.T) {
	store := memory.NewStore()
	uc := newUseCase(store)

	_, err := uc.List(context.Background(), repository.AggregateFilter{})
	require.True(t, domain.IsDomainError(err, domain.ErrCodeTenantRequired))
	require.Zero(t, store.Accesses())
}
