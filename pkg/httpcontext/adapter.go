package httpcontext

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
)

// Key represents a context value key exported for reuse.
type Key string

const (
	KeyRemoteAddr Key = "remote_addr"
	KeyUserAgent  Key = "user_agent"
)

// User value keys set by middleware on the fasthttp request.
const (
	UserValueIdentity = "tenantauth.identity"
	UserValueTenant   = "tenantauth.tenant"
)

// Adapter converts fasthttp.RequestCtx into a stdlib context with deadlines and metadata.
type Adapter struct {
	timeout time.Duration
}

// NewAdapter constructs a new Adapter using the provided timeout.
func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		timeout: timeout,
	}
}

// Attach creates a context with timeout derived from the adapter and enriches
// it with request metadata and the caller's identity and tenant. Nothing
// outlives the returned context.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	base := context.Background()

	stdCtx, cancel := context.WithTimeout(base, a.timeout)

	reqID := getRequestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	if ctx == nil {
		return stdCtx, cancel
	}
	ctx.Response.Header.Set("X-Request-ID", reqID)

	if remoteAddr := ctx.RemoteAddr(); remoteAddr != nil {
		stdCtx = context.WithValue(stdCtx, KeyRemoteAddr, remoteAddr.String())
	}
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, KeyUserAgent, ua)
	}
	if identity, ok := IdentityOf(ctx); ok {
		stdCtx = tenancy.WithIdentity(stdCtx, identity)
	}
	if tenantID, ok := ctx.UserValue(UserValueTenant).(string); ok && tenantID != "" {
		stdCtx = tenancy.WithTenant(stdCtx, tenantID)
	}

	return stdCtx, cancel
}

// SetIdentity records the verified principal on the request.
func SetIdentity(ctx *fasthttp.RequestCtx, identity domain.Identity) {
	ctx.SetUserValue(UserValueIdentity, identity)
}

// IdentityOf returns the principal recorded by SetIdentity.
func IdentityOf(ctx *fasthttp.RequestCtx) (domain.Identity, bool) {
	identity, ok := ctx.UserValue(UserValueIdentity).(domain.Identity)
	if !ok || identity.IsZero() {
		return domain.Identity{}, false
	}
	return identity, true
}

// SetTenant records a tenant named by the request for anonymous flows.
func SetTenant(ctx *fasthttp.RequestCtx, tenantID string) {
	ctx.SetUserValue(UserValueTenant, strings.TrimSpace(tenantID))
}

func getRequestID(ctx *fasthttp.RequestCtx) string {
	if ctx == nil {
		return uuid.NewString()
	}
	if header := string(ctx.Request.Header.Peek("X-Request-ID")); strings.TrimSpace(header) != "" {
		return header
	}
	return uuid.NewString()
}
