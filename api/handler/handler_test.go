package handler_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	fastrouter "github.com/fasthttp/router"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	apiHandler "github.com/fastygo/tenantauth/api/handler"
	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/infrastructure/monitor"
	"github.com/fastygo/tenantauth/internal/middleware"
	"github.com/fastygo/tenantauth/internal/router"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/pkg/httpcontext"
	"github.com/fastygo/tenantauth/repository/memory"
	authUC "github.com/fastygo/tenantauth/usecase/auth"
	"github.com/fastygo/tenantauth/usecase/credential"
	entityUC "github.com/fastygo/tenantauth/usecase/entity"
	profileUC "github.com/fastygo/tenantauth/usecase/profile"
	roleUC "github.com/fastygo/tenantauth/usecase/role"
	"github.com/fastygo/tenantauth/usecase/token"
)

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         domain.User `json:"user"`
}

type fixture struct {
	store  *memory.Store
	router *fastrouter.Router
}

func newFixture(t *testing.T, production bool) *fixture {
	t.Helper()
	store := memory.NewStore()
	for _, id := range []string{"T1", "T2"} {
		store.PutTenant(domain.Tenant{ID: id, Slug: id, Status: domain.TenantStatusActive, SubscriptionStatus: domain.SubscriptionActive})
	}

	guard := tenancy.NewGuard(nil)
	roles := roleUC.New(store.Roles(), store.Users(), guard, 0, nil)
	creds := credential.New(store.Users(), store.Tenants(), guard, nil, roles, credential.Config{BcryptCost: bcrypt.MinCost}, nil)
	tokens := token.New(store.Users(), store.Tenants(), guard, token.Config{Secret: "handler-test-secret", Issuer: "test"}, nil)
	mon := monitor.New(monitor.Targets{}, time.Minute, nil)
	mon.Refresh()
	opts := apiHandler.Options{Adapter: httpcontext.NewAdapter(time.Second), Production: production}

	handlers := router.Handlers{
		Auth:    apiHandler.NewAuthHandler(authUC.New(creds, tokens, nil, nil), guard, opts),
		Profile: apiHandler.NewProfileHandler(profileUC.New(store.Users(), guard, 0, nil), opts),
		Role:    apiHandler.NewRoleHandler(roles, opts),
		Entity:  apiHandler.NewEntityHandler(entityUC.New(store.Aggregates(), guard, roles, 0, nil), opts),
		Health:  apiHandler.NewHealthHandler(mon, opts),
	}
	r := router.New(handlers, router.Middlewares{
		Auth:   middleware.JWTAuth(tokens, nil),
		Tenant: middleware.Tenant(store.Tenants(), 0, nil),
	})
	return &fixture{store: store, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()
	var rc fasthttp.RequestCtx
	rc.Init(&fasthttp.Request{}, &net.TCPAddr{IP: net.ParseIP("127.0.0.1")}, nil)
	rc.Request.Header.SetMethod(method)
	rc.Request.SetRequestURI(path)
	for k, v := range headers {
		rc.Request.Header.Set(k, v)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rc.Request.SetBody(raw)
	}
	f.router.Handler(&rc)

	var env envelope
	require.NoError(t, json.Unmarshal(rc.Response.Body(), &env), string(rc.Response.Body()))
	return rc.Response.StatusCode(), env
}

func (f *fixture) register(t *testing.T, tenantID, email string) session {
	t.Helper()
	status, env := f.do(t, "POST", "/api/v1/auth/register",
		map[string]string{"email": email, "password": "pw123456"},
		map[string]string{middleware.TenantHeader: tenantID})
	require.Equal(t, fasthttp.StatusCreated, status, env.Error.Message)
	var s session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func (f *fixture) promote(t *testing.T, s session, roleName string) {
	t.Helper()
	ctx := tenancy.WithTenant(context.Background(), s.User.TenantID)
	scope, err := tenancy.NewGuard(nil).Scope(ctx)
	require.NoError(t, err)
	_, err = f.store.Users().UpdateRole(ctx, scope, s.User.ID, roleName)
	require.NoError(t, err)
}

func bearer(s session) map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.AccessToken}
}

func TestRegisterLoginAndMe(t *testing.T) {
	f := newFixture(t, false)
	s := f.register(t, "T1", "a@x.com")
	require.Equal(t, "T1", s.User.TenantID)
	require.Empty(t, s.User.PasswordHash)

	status, env := f.do(t, "POST", "/api/v1/auth/login",
		map[string]string{"email": "a@x.com", "password": "wrong-password"},
		map[string]string{middleware.TenantHeader: "T1"})
	require.Equal(t, fasthttp.StatusUnauthorized, status)
	require.Equal(t, string(domain.ErrCodeUnauthenticated), env.Code)

	status, env = f.do(t, "POST", "/api/v1/auth/login",
		map[string]string{"email": "a@x.com", "password": "pw123456", "tenant_id": "T1"}, nil)
	require.Equal(t, fasthttp.StatusOK, status)

	status, env = f.do(t, "GET", "/api/v1/me", nil, bearer(s))
	require.Equal(t, fasthttp.StatusOK, status)
	var me domain.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	require.Equal(t, s.User.ID, me.ID)

	status, _ = f.do(t, "GET", "/api/v1/me", nil, nil)
	require.Equal(t, fasthttp.StatusUnauthorized, status)
}

func TestRegistrationErrors(t *testing.T) {
	f := newFixture(t, false)

	status, env := f.do(t, "POST", "/api/v1/auth/register",
		map[string]string{"email": "a@x.com", "password": "pw123456"}, nil)
	require.Equal(t, fasthttp.StatusBadRequest, status)
	require.Equal(t, string(domain.ErrCodeTenantRequired), env.Code)

	status, env = f.do(t, "POST", "/api/v1/auth/register",
		map[string]string{"email": "not-an-email", "password": "short"},
		map[string]string{middleware.TenantHeader: "T1"})
	require.Equal(t, fasthttp.StatusBadRequest, status)
	require.Equal(t, string(domain.ErrCodeBadUserInput), env.Code)
	require.Contains(t, env.Error.Fields, "email")
	require.Contains(t, env.Error.Fields, "password")

	status, env = f.do(t, "POST", "/api/v1/auth/register",
		map[string]string{"email": "a@x.com", "password": "pw123456", "tenant_id": "T2"},
		map[string]string{middleware.TenantHeader: "T1"})
	require.Equal(t, fasthttp.StatusForbidden, status)
	require.Equal(t, string(domain.ErrCodeForbidden), env.Code)
}

func TestProductionHidesFieldDetail(t *testing.T) {
	f := newFixture(t, true)
	status, env := f.do(t, "POST", "/api/v1/auth/register",
		map[string]string{"email": "nope", "password": "pw123456"},
		map[string]string{middleware.TenantHeader: "T1"})
	require.Equal(t, fasthttp.StatusBadRequest, status)
	require.Empty(t, env.Error.Fields)
}

func TestEntitiesStayInsideTheirTenant(t *testing.T) {
	f := newFixture(t, false)
	a := f.register(t, "T1", "a@x.com")
	b := f.register(t, "T2", "b@x.com")
	f.promote(t, a, domain.RoleManager)

	status, env := f.do(t, "POST", "/api/v1/entities",
		map[string]interface{}{"kind": "calendar", "payload": map[string]string{"name": "A"}}, bearer(a))
	require.Equal(t, fasthttp.StatusCreated, status, env.Error.Message)
	var created domain.Aggregate
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Equal(t, "T1", created.TenantID)

	status, _ = f.do(t, "GET", "/api/v1/entities/"+created.ID, nil, bearer(a))
	require.Equal(t, fasthttp.StatusOK, status)

	status, env = f.do(t, "GET", "/api/v1/entities/"+created.ID, nil, bearer(b))
	require.Equal(t, fasthttp.StatusNotFound, status)
	require.Equal(t, string(domain.ErrCodeNotFound), env.Code)

	status, env = f.do(t, "GET", "/api/v1/entities", nil, bearer(b))
	require.Equal(t, fasthttp.StatusOK, status)
	require.JSONEq(t, "[]", string(env.Data))

	headers := bearer(a)
	headers[middleware.TenantHeader] = "T2"
	status, env = f.do(t, "GET", "/api/v1/entities", nil, headers)
	require.Equal(t, fasthttp.StatusForbidden, status)

	status, env = f.do(t, "POST", "/api/v1/entities",
		map[string]interface{}{"kind": "calendar"}, bearer(b))
	require.Equal(t, fasthttp.StatusForbidden, status)
}

func TestUpdateUserRoleRequiresAdmin(t *testing.T) {
	f := newFixture(t, false)
	admin := f.register(t, "T1", "admin@x.com")
	member := f.register(t, "T1", "member@x.com")
	outsider := f.register(t, "T2", "other@x.com")

	status, _ := f.do(t, "PUT", "/api/v1/users/"+admin.User.ID+"/role",
		map[string]string{"role": domain.RoleAdmin}, bearer(member))
	require.Equal(t, fasthttp.StatusForbidden, status)

	f.promote(t, admin, domain.RoleAdmin)
	status, env := f.do(t, "POST", "/api/v1/auth/login",
		map[string]string{"email": "admin@x.com", "password": "pw123456"},
		map[string]string{middleware.TenantHeader: "T1"})
	require.Equal(t, fasthttp.StatusOK, status)
	var adminSession session
	require.NoError(t, json.Unmarshal(env.Data, &adminSession))

	status, env = f.do(t, "PUT", "/api/v1/users/"+member.User.ID+"/role",
		map[string]string{"role": domain.RoleStaff}, bearer(adminSession))
	require.Equal(t, fasthttp.StatusOK, status, env.Error.Message)

	status, _ = f.do(t, "PUT", "/api/v1/users/"+outsider.User.ID+"/role",
		map[string]string{"role": domain.RoleStaff}, bearer(adminSession))
	require.Equal(t, fasthttp.StatusNotFound, status)
}

func TestHealthOnMemoryBackend(t *testing.T) {
	f := newFixture(t, false)
	status, env := f.do(t, "GET", "/health", nil, nil)
	require.Equal(t, fasthttp.StatusOK, status)
	require.Equal(t, "success", env.Status)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t, false)
	var rc fasthttp.RequestCtx
	rc.Request.Header.SetMethod("POST")
	rc.Request.SetRequestURI("/api/v1/auth/refresh")
	rc.Request.SetBodyString("{not json")
	f.router.Handler(&rc)
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())
}

