package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/api/transport"
	profileUC "github.com/fastygo/tenantauth/usecase/profile"
)

type ProfileHandler struct {
	baseHandler
	uc *profileUC.UseCase
}

func NewProfileHandler(uc *profileUC.UseCase, opts Options) *ProfileHandler {
	return &ProfileHandler{
		baseHandler: newBaseHandler(opts),
		uc:          uc,
	}
}

// @Summary Current user
// @Tags profile
// @Security Bearer
// @Success 200 {object} transport.Envelope
// @Router /api/v1/me [get]
func (h *ProfileHandler) GetProfile(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	user, err := h.uc.GetProfile(stdCtx)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, user)
}

// @Summary Update profile fields of the current user
// @Tags profile
// @Accept json
// @Produce json
// @Security Bearer
// @Router /api/v1/me [put]
func (h *ProfileHandler) UpdateProfile(ctx *fasthttp.RequestCtx) {
	var req transport.ProfileUpdateRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	updated, err := h.uc.UpdateProfile(stdCtx, profileUC.Input{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, updated)
}
