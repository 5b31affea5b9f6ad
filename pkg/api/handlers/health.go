package handlers

import (
	"net/http"

	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/stream"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	gateway saga.Gateway
	bus     stream.Bus
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(gateway saga.Gateway, bus stream.Bus, version string) *HealthHandler {
	return &HealthHandler{
		gateway: gateway,
		bus:     bus,
		version: version,
	}
}

// Health handles the /healthz endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /readyz endpoint (readiness probe). Ready means the
// store is reachable and the status bus can deliver.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"storage": h.gateway.Healthy(r.Context()),
		"stream":  h.bus.Healthy(),
	}

	ready := true
	for _, ok := range checks {
		ready = ready && ok
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"version": h.version,
		"storage": h.gateway.Healthy(r.Context()),
		"stream":  h.bus.Healthy(),
	})
}
