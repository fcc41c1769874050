package adminhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/logging"
)

// NewRouter builds the admin routes over k:
//
//	GET  /metrics                   prometheus text exposition
//	GET  /healthz                   aggregated health, 503 when critical
//	GET  /readyz                    readiness, 503 when a required component is critical
//	GET  /state                     state document
//	POST /components/{name}/recover recover a failed component
func NewRouter(k *magkernel.Kernel, logger logging.Logger) http.Handler {
	h := &handlers{kernel: k, logger: logging.OrNop(logger)}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", k.Telemetry().Handler())
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/state", h.state)
	r.Post("/components/{name}/recover", h.recover)
	return r
}

type handlers struct {
	kernel *magkernel.Kernel
	logger logging.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	agg := h.kernel.Health(r.Context())
	status := http.StatusOK
	if agg.Health.Critical() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, agg)
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	agg := h.kernel.Health(r.Context())
	status := http.StatusOK
	if agg.Readiness.Critical() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]any{
		"readiness":    agg.Readiness,
		"system_state": h.kernel.SystemState(),
	})
}

func (h *handlers) state(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.kernel.State().Snapshot())
}

func (h *handlers) recover(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.kernel.Recover(r.Context(), name)

	switch {
	case err == nil:
		h.logger.Info("Component recovered through admin API", "component", name)
		h.writeJSON(w, http.StatusOK, map[string]any{
			"component": name,
			"state":     h.kernel.ComponentState(name),
		})
	case errors.Is(err, magkernel.ErrComponentNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, magkernel.ErrNotRecoverable), errors.Is(err, lifecycle.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write admin response", "error", err)
	}
}
