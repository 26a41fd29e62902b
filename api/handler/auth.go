package handler

import (
	"context"
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/api/transport"
	"github.com/fastygo/tenantauth/internal/tenancy"
	authUC "github.com/fastygo/tenantauth/usecase/auth"
	"github.com/fastygo/tenantauth/usecase/credential"
)

type AuthHandler struct {
	baseHandler
	uc    *authUC.UseCase
	guard *tenancy.Guard
}

func NewAuthHandler(uc *authUC.UseCase, guard *tenancy.Guard, opts Options) *AuthHandler {
	if guard == nil {
		guard = tenancy.NewGuard(opts.Logger)
	}
	return &AuthHandler{
		baseHandler: newBaseHandler(opts),
		uc:          uc,
		guard:       guard,
	}
}

// @Summary Register a user in a tenant
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} transport.Envelope
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(ctx *fasthttp.RequestCtx) {
	var req transport.RegisterRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.tenantContext(ctx, req.TenantID)
	defer cancel()
	if stdCtx == nil {
		return
	}

	session, err := h.uc.Register(stdCtx, credential.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.Profile.Domain(),
	})
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, session)
}

// @Summary Password login
// @Tags auth
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(ctx *fasthttp.RequestCtx) {
	var req transport.LoginRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.tenantContext(ctx, req.TenantID)
	defer cancel()
	if stdCtx == nil {
		return
	}

	session, err := h.uc.Login(stdCtx, req.Email, req.Password)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, session)
}

// @Summary Sign in through an external identity provider
// @Tags auth
// @Param provider path string true "provider name"
// @Router /api/v1/auth/oauth/{provider} [post]
func (h *AuthHandler) OAuthLogin(ctx *fasthttp.RequestCtx) {
	var req transport.OAuthRequest
	if !h.decode(ctx, &req) {
		return
	}
	provider, _ := ctx.UserValue("provider").(string)

	stdCtx, cancel := h.tenantContext(ctx, req.TenantID)
	defer cancel()
	if stdCtx == nil {
		return
	}

	session, err := h.uc.OAuthLogin(stdCtx, provider, req.ProviderToken, req.Profile.Domain())
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, session)
}

// @Summary Exchange a refresh token for a new access token
// @Tags auth
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(ctx *fasthttp.RequestCtx) {
	var req transport.RefreshRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	result, err := h.uc.RefreshToken(stdCtx, req.RefreshToken)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, result)
}

// @Summary Revoke one refresh token
// @Tags auth
// @Security Bearer
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(ctx *fasthttp.RequestCtx) {
	var req transport.LogoutRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ok, err := h.uc.Logout(stdCtx, req.RefreshToken)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"success": ok})
}

// @Summary Revoke every refresh token of the caller
// @Tags auth
// @Security Bearer
// @Router /api/v1/auth/logout-all [post]
func (h *AuthHandler) LogoutAll(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ok, err := h.uc.LogoutAll(stdCtx)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"success": ok})
}

// @Summary Request a password reset link
// @Tags auth
// @Router /api/v1/auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(ctx *fasthttp.RequestCtx) {
	var req transport.EmailRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.tenantContext(ctx, req.TenantID)
	defer cancel()
	if stdCtx == nil {
		return
	}

	result, err := h.uc.RequestPasswordReset(stdCtx, req.Email)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, result)
}

// @Summary Reset a password with a one-time token
// @Tags auth
// @Router /api/v1/auth/password/reset [post]
func (h *AuthHandler) ResetPassword(ctx *fasthttp.RequestCtx) {
	var req transport.ResetPasswordRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	result, err := h.uc.ResetPassword(stdCtx, req.Token, req.NewPassword)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, result)
}

// @Summary Verify an email address
// @Tags auth
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(ctx *fasthttp.RequestCtx) {
	var req transport.VerifyEmailRequest
	if !h.decode(ctx, &req) {
		return
	}
	if req.Token == "" {
		req.Token = string(ctx.QueryArgs().Peek("token"))
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	result, err := h.uc.VerifyEmail(stdCtx, req.Token)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, result)
}

// @Summary Send a fresh verification link
// @Tags auth
// @Router /api/v1/auth/verify-email/resend [post]
func (h *AuthHandler) ResendVerification(ctx *fasthttp.RequestCtx) {
	var req transport.EmailRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.tenantContext(ctx, req.TenantID)
	defer cancel()
	if stdCtx == nil {
		return
	}

	result, err := h.uc.ResendVerification(stdCtx, req.Email)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, result)
}

// @Summary Change the caller's password
// @Tags auth
// @Security Bearer
// @Router /api/v1/auth/password/change [post]
func (h *AuthHandler) ChangePassword(ctx *fasthttp.RequestCtx) {
	var req transport.ChangePasswordRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ok, err := h.uc.ChangePassword(stdCtx, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"success": ok})
}

// @Summary Change a user's built-in role
// @Tags users
// @Security Bearer
// @Router /api/v1/users/{id}/role [put]
func (h *AuthHandler) UpdateUserRole(ctx *fasthttp.RequestCtx) {
	var req transport.UserRoleRequest
	if !h.decode(ctx, &req) {
		return
	}
	userID, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	user, err := h.uc.UpdateUserRole(stdCtx, userID, req.Role)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, user)
}

// tenantContext attaches a tenant named in the body to the request context.
// On failure the error is written and a nil context returned.
func (h *AuthHandler) tenantContext(ctx *fasthttp.RequestCtx, tenantID string) (context.Context, context.CancelFunc) {
	stdCtx, cancel := h.requestContext(ctx)
	if tenantID == "" {
		return stdCtx, cancel
	}
	resolved, err := h.guard.Resolve(stdCtx, tenantID)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return nil, cancel
	}
	return resolved, cancel
}
