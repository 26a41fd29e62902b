package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/api/transport"
	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/pkg/httpcontext"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
)

// Options are shared by every handler.
type Options struct {
	Adapter *httpcontext.Adapter
	Logger  *zap.Logger
	// Production hides field-level validation detail from responses.
	Production bool
}

type baseHandler struct {
	adapter    *httpcontext.Adapter
	logger     *zap.Logger
	production bool
}

func newBaseHandler(opts Options) baseHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return baseHandler{adapter: opts.Adapter, logger: opts.Logger, production: opts.Production}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(payload)
	ctx.SetBody(body)
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respondJSON(ctx, status, transport.NewSuccess(data, nil))
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func (h baseHandler) decode(ctx *fasthttp.RequestCtx, dst interface{}) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.respondJSON(ctx, http.StatusBadRequest, transport.NewError(string(domain.ErrCodeBadUserInput),
			transport.ErrorBody{Message: domain.ErrInvalidPayload.Message}, nil))
		return false
	}
	return true
}

func (h baseHandler) respondError(stdCtx context.Context, ctx *fasthttp.RequestCtx, err error) {
	status, code := mapError(err)
	body := transport.ErrorBody{Message: err.Error()}

	var dErr *domain.Error
	switch {
	case code == domain.ErrCodeInternal:
		appLogger.WithIdentity(stdCtx, h.logger).Error("request failed",
			zap.ByteString("path", ctx.Path()), zap.Error(err))
		body.Message = domain.ErrInternal.Message
	case code == domain.ErrCodeUnavailable:
		appLogger.WithIdentity(stdCtx, h.logger).Warn("dependency unavailable",
			zap.ByteString("path", ctx.Path()), zap.Error(err))
		body.Message = "service temporarily unavailable"
	case errors.As(err, &dErr):
		body.Message = dErr.Message
		if !h.production {
			body.Fields = dErr.Fields
		}
	}
	h.respondJSON(ctx, status, transport.NewError(string(code), body, nil))
}

func mapError(err error) (int, domain.ErrorCode) {
	code := domain.CodeOf(err)
	switch code {
	case domain.ErrCodeUnauthenticated:
		return http.StatusUnauthorized, code
	case domain.ErrCodeForbidden:
		return http.StatusForbidden, code
	case domain.ErrCodeBadUserInput, domain.ErrCodeTenantRequired:
		return http.StatusBadRequest, code
	case domain.ErrCodeNotFound:
		return http.StatusNotFound, code
	case domain.ErrCodeRateLimited:
		return http.StatusTooManyRequests, code
	case domain.ErrCodeUnavailable:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternal
	}
}
