package middleware

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/api/transport"
	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/pkg/httpcontext"
)

// AccessVerifier validates an access token and returns its principal.
type AccessVerifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (domain.Identity, error)
}

// JWTAuth rejects requests without a valid access token and records the
// verified identity on the request for the handlers.
func JWTAuth(verifier AccessVerifier, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			tokenString := extractToken(ctx)
			if tokenString == "" {
				reject(ctx, fasthttp.StatusUnauthorized, domain.ErrUnauthenticated)
				return
			}

			identity, err := verifier.VerifyAccessToken(ctx, tokenString)
			if err != nil {
				logger.Debug("access token rejected", zap.ByteString("path", ctx.Path()))
				reject(ctx, fasthttp.StatusUnauthorized, domain.ErrInvalidToken)
				return
			}

			httpcontext.SetIdentity(ctx, identity)
			next(ctx)
		}
	}
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func reject(ctx *fasthttp.RequestCtx, status int, err *domain.Error) {
	body, _ := json.Marshal(transport.NewError(string(err.Code), transport.ErrorBody{Message: err.Message}, nil))
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
