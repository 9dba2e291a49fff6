package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/bridges/nbe"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.handleListResources)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetResource)
				r.Get("/history", s.handleGetResourceHistory)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the bridge health status. A degraded bridge still
// answers 200; the status field carries the detail. A failing backend
// check downgrades a healthy bridge to degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.bridge.GetMetrics()
	status := m.Status

	body := map[string]any{
		"mqtt":          m.Connected,
		"controller_ok": m.ControllerOK,
		"version":       s.version,
	}

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.HealthCheck(ctx); err != nil {
				checks[name] = err.Error()
				if status == nbe.HealthHealthy {
					status = nbe.HealthDegraded
				}
				continue
			}
			checks[name] = "ok"
		}
		body["checks"] = checks
	}

	body["status"] = status
	writeJSON(w, http.StatusOK, body)
}
