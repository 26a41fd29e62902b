package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/api/transport"
	roleUC "github.com/fastygo/tenantauth/usecase/role"
)

type RoleHandler struct {
	baseHandler
	uc *roleUC.UseCase
}

func NewRoleHandler(uc *roleUC.UseCase, opts Options) *RoleHandler {
	return &RoleHandler{
		baseHandler: newBaseHandler(opts),
		uc:          uc,
	}
}

// @Summary List built-in and custom roles of the tenant
// @Tags roles
// @Security Bearer
// @Router /api/v1/roles [get]
func (h *RoleHandler) ListRoles(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	roles, err := h.uc.ListRoles(stdCtx)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, roles)
}

// @Summary Create a custom role
// @Tags roles
// @Security Bearer
// @Router /api/v1/roles [post]
func (h *RoleHandler) CreateRole(ctx *fasthttp.RequestCtx) {
	var req transport.RoleRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	role, err := h.uc.CreateRole(stdCtx, roleInput(req))
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, role)
}

// @Summary Replace a custom role
// @Tags roles
// @Security Bearer
// @Router /api/v1/roles/{id} [put]
func (h *RoleHandler) UpdateRole(ctx *fasthttp.RequestCtx) {
	var req transport.RoleRequest
	if !h.decode(ctx, &req) {
		return
	}
	id, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	role, err := h.uc.UpdateRole(stdCtx, id, roleInput(req))
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, role)
}

// @Summary Delete a custom role
// @Tags roles
// @Security Bearer
// @Router /api/v1/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.DeleteRole(stdCtx, id); err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"success": true})
}

// @Summary Assign a custom role to a user
// @Tags roles
// @Security Bearer
// @Router /api/v1/users/{id}/roles/{roleId} [post]
func (h *RoleHandler) AssignRole(ctx *fasthttp.RequestCtx) {
	userID, _ := ctx.UserValue("id").(string)
	roleID, _ := ctx.UserValue("roleId").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	user, err := h.uc.AssignRole(stdCtx, userID, roleID)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, user)
}

// @Summary Remove a custom role from a user
// @Tags roles
// @Security Bearer
// @Router /api/v1/users/{id}/roles/{roleId} [delete]
func (h *RoleHandler) UnassignRole(ctx *fasthttp.RequestCtx) {
	userID, _ := ctx.UserValue("id").(string)
	roleID, _ := ctx.UserValue("roleId").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	user, err := h.uc.UnassignRole(stdCtx, userID, roleID)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, user)
}

func roleInput(req transport.RoleRequest) roleUC.Input {
	return roleUC.Input{Name: req.Name, Description: req.Description, Permissions: req.Permissions}
}
