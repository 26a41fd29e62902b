package handler

import (
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/api/transport"
	"github.com/fastygo/tenantauth/repository"
	entityUC "github.com/fastygo/tenantauth/usecase/entity"
)

type EntityHandler struct {
	baseHandler
	uc *entityUC.UseCase
}

func NewEntityHandler(uc *entityUC.UseCase, opts Options) *EntityHandler {
	return &EntityHandler{
		baseHandler: newBaseHandler(opts),
		uc:          uc,
	}
}

// @Summary List entities of the caller's tenant
// @Tags entities
// @Security Bearer
// @Router /api/v1/entities [get]
func (h *EntityHandler) ListEntities(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	filter := repository.AggregateFilter{
		Kind:    string(args.Peek("kind")),
		OwnerID: string(args.Peek("owner_id")),
		Limit:   parseInt(string(args.Peek("limit")), 50),
		Offset:  parseInt(string(args.Peek("offset")), 0),
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	items, err := h.uc.List(stdCtx, filter)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, items)
}

// @Summary Get entity
// @Tags entities
// @Security Bearer
// @Router /api/v1/entities/{id} [get]
func (h *EntityHandler) GetEntity(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	item, err := h.uc.Get(stdCtx, id)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, item)
}

// @Summary Create entity
// @Tags entities
// @Security Bearer
// @Router /api/v1/entities [post]
func (h *EntityHandler) CreateEntity(ctx *fasthttp.RequestCtx) {
	h.save(ctx, "", http.StatusCreated)
}

// @Summary Update entity
// @Tags entities
// @Security Bearer
// @Router /api/v1/entities/{id} [put]
func (h *EntityHandler) UpdateEntity(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	h.save(ctx, id, http.StatusOK)
}

// @Summary Delete entity
// @Tags entities
// @Security Bearer
// @Router /api/v1/entities/{id} [delete]
func (h *EntityHandler) DeleteEntity(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.Delete(stdCtx, id); err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"success": true})
}

// @Summary Append an event to an entity
// @Tags entities
// @Security Bearer
// @Router /api/v1/entities/{id}/events [post]
func (h *EntityHandler) AppendEvent(ctx *fasthttp.RequestCtx) {
	var req transport.EventRequest
	if !h.decode(ctx, &req) {
		return
	}
	id, _ := ctx.UserValue("id").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	event, err := h.uc.AppendEvent(stdCtx, id, entityUC.EventInput{
		Name:     req.Name,
		Payload:  req.Payload,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, event)
}

func (h *EntityHandler) save(ctx *fasthttp.RequestCtx, id string, status int) {
	var req transport.EntityRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	item, err := h.uc.Save(stdCtx, entityUC.SaveInput{
		ID:      id,
		Kind:    req.Kind,
		OwnerID: req.OwnerID,
		Payload: req.Payload,
		Labels:  req.Labels,
	})
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, status, item)
}

func parseInt(value string, fallback int) int {
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}
