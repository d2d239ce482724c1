package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// HealthHandler serves liveness and readiness.  Liveness is uncondi-
// tional; readiness runs every registered probe.
type HealthHandler struct {
	probes  map[string]Probe
	timeout time.Duration
	logger  logging.Logger
}

func NewHealthHandler(probes map[string]Probe, logger logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthHandler{
		probes:  probes,
		timeout: 5 * time.Second,
		logger:  logger.Named("health"),
	}
}

// Liveness reports the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readinessResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Readiness probes every dependency and reports 503 if any fails.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := readinessResponse{Status: "ready", Components: make(map[string]string, len(h.probes))}
	status := http.StatusOK

	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.logger.Warn("Readiness probe failed",
				logging.String("component", name),
				logging.Err(err))
			continue
		}
		resp.Components[name] = "ok"
	}

	writeJSON(w, status, resp)
}
