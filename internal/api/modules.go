package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/periphctl/internal/module"
)

// healthCheckTimeout bounds each dependency check of /health.
const healthCheckTimeout = 2 * time.Second

// ModuleInfo describes one registered module.
type ModuleInfo struct {
	Name      string              `json:"name"`
	State     module.State        `json:"state"`
	Functions []module.Descriptor `json:"functions"`
}

// handleHealth reports ok, or 503 with the failing checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"device_id": s.deviceID,
		"version":   s.version,
		"checks":    checks,
	})
}

// handleListModules lists every binding in registration order.
func (s *Server) handleListModules(w http.ResponseWriter, _ *http.Request) {
	bindings := s.dispatcher.Executor().Registry().Bindings()
	out := make([]ModuleInfo, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, ModuleInfo{
			Name:      b.Name,
			State:     b.Module.State(),
			Functions: b.Module.SupportedFunctions(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": out,
		"count":   len(out),
	})
}
