package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/tenantauth/api/handler"
)

type Handlers struct {
	Auth    *apiHandler.AuthHandler
	Profile *apiHandler.ProfileHandler
	Role    *apiHandler.RoleHandler
	Entity  *apiHandler.EntityHandler
	Health  *apiHandler.HealthHandler
}

type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Middlewares wrap route groups. Nil entries are skipped.
type Middlewares struct {
	Auth      Middleware
	Tenant    Middleware
	AuthLimit Middleware
	APILimit  Middleware
}

func New(handlers Handlers, mw Middlewares) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)

	// Anonymous auth routes carry the tenant header and the strict limit.
	public := chain(mw.AuthLimit, mw.Tenant)
	r.POST("/api/v1/auth/register", public(handlers.Auth.Register))
	r.POST("/api/v1/auth/login", public(handlers.Auth.Login))
	r.POST("/api/v1/auth/oauth/{provider}", public(handlers.Auth.OAuthLogin))
	r.POST("/api/v1/auth/refresh", public(handlers.Auth.Refresh))
	r.POST("/api/v1/auth/password/forgot", public(handlers.Auth.ForgotPassword))
	r.POST("/api/v1/auth/password/reset", public(handlers.Auth.ResetPassword))
	r.POST("/api/v1/auth/verify-email", public(handlers.Auth.VerifyEmail))
	r.POST("/api/v1/auth/verify-email/resend", public(handlers.Auth.ResendVerification))

	// Protected routes
	protected := chain(mw.APILimit, mw.Tenant, mw.Auth)
	r.POST("/api/v1/auth/logout", protected(handlers.Auth.Logout))
	r.POST("/api/v1/auth/logout-all", protected(handlers.Auth.LogoutAll))
	r.POST("/api/v1/auth/password/change", chain(mw.AuthLimit, mw.Tenant, mw.Auth)(handlers.Auth.ChangePassword))

	r.GET("/api/v1/me", protected(handlers.Profile.GetProfile))
	r.PUT("/api/v1/me", protected(handlers.Profile.UpdateProfile))

	r.PUT("/api/v1/users/{id}/role", protected(handlers.Auth.UpdateUserRole))
	r.POST("/api/v1/users/{id}/roles/{roleId}", protected(handlers.Role.AssignRole))
	r.DELETE("/api/v1/users/{id}/roles/{roleId}", protected(handlers.Role.UnassignRole))

	r.GET("/api/v1/roles", protected(handlers.Role.ListRoles))
	r.POST("/api/v1/roles", protected(handlers.Role.CreateRole))
	r.PUT("/api/v1/roles/{id}", protected(handlers.Role.UpdateRole))
	r.DELETE("/api/v1/roles/{id}", protected(handlers.Role.DeleteRole))

	r.GET("/api/v1/entities", protected(handlers.Entity.ListEntities))
	r.POST("/api/v1/entities", protected(handlers.Entity.CreateEntity))
	r.GET("/api/v1/entities/{id}", protected(handlers.Entity.GetEntity))
	r.PUT("/api/v1/entities/{id}", protected(handlers.Entity.UpdateEntity))
	r.DELETE("/api/v1/entities/{id}", protected(handlers.Entity.DeleteEntity))
	r.POST("/api/v1/entities/{id}/events", protected(handlers.Entity.AppendEvent))

	return r
}

// chain applies middlewares so the first one runs outermost.
func chain(mws ...Middleware) Middleware {
	return func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				h = mws[i](h)
			}
		}
		return h
	}
}
