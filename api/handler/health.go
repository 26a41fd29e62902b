package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/api/transport"
	"github.com/fastygo/tenantauth/internal/infrastructure/monitor"
)

// StatusReporter is satisfied by *monitor.Monitor.
type StatusReporter interface {
	GetStatus() monitor.Status
}

type HealthHandler struct {
	baseHandler
	monitor StatusReporter
}

func NewHealthHandler(mon StatusReporter, opts Options) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(opts),
		monitor:     mon,
	}
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	payload := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"services": map[string]interface{}{
			"storage": map[string]interface{}{
				"driver": status.Storage,
				"online": status.StorageOK,
			},
			"counters": map[string]interface{}{
				"driver": status.CounterStore,
				"online": status.CounterOK,
			},
			"outbox": map[string]interface{}{
				"online": status.Outbox,
				"size":   status.OutboxSize,
			},
		},
	}

	if status.StorageOK && status.CounterOK {
		h.respondSuccess(ctx, http.StatusOK, payload)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "dependencies unhealthy", payload))
}
