// Package http assembles the API surface: middleware chain, route tree,
// and server lifecycle.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/prometheus"
	"github.com/medimorph/medimorph/internal/interfaces/http/handlers"
	"github.com/medimorph/medimorph/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies for the
// complete route tree.
type RouterConfig struct {
	PrescriptionHandler *handlers.PrescriptionHandler
	MedicationHandler   *handlers.MedicationHandler
	ReminderHandler     *handlers.ReminderHandler
	ComplianceHandler   *handlers.ComplianceHandler
	HealthHandler       *handlers.HealthHandler

	AuthMiddleware *middleware.AuthMiddleware

	Logger           logging.Logger
	AppMetrics       *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
}

// NewRouter builds the route tree: public health and metrics endpoints,
// then the authenticated /api/v1 resource groups.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, middleware.DefaultLoggingConfig()))
	}
	if cfg.AppMetrics != nil {
		r.Use(middleware.Metrics(cfg.AppMetrics))
	}

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsCollector != nil {
		r.Handle("/metrics", cfg.MetricsCollector.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.Handler)
		}

		registerPrescriptionRoutes(api, cfg.PrescriptionHandler)
		registerMedicationRoutes(api, cfg.MedicationHandler)
		registerReminderRoutes(api, cfg.ReminderHandler)
		registerComplianceRoutes(api, cfg.ComplianceHandler)
	})

	return r
}

func registerPrescriptionRoutes(r chi.Router, h *handlers.PrescriptionHandler) {
	if h == nil {
		return
	}
	r.Route("/prescriptions", func(pr chi.Router) {
		pr.Get("/", h.List)
		pr.Post("/", h.Upload)

		pr.Route("/{uploadID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Get("/image", h.ImageURL)
			item.Post("/confirm", h.Confirm)
		})
	})
}

func registerMedicationRoutes(r chi.Router, h *handlers.MedicationHandler) {
	if h == nil {
		return
	}
	r.Route("/medications", func(mr chi.Router) {
		mr.Get("/", h.List)
		mr.Post("/", h.Create)

		mr.Route("/{medicationID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Put("/", h.Update)
			item.Post("/archive", h.Archive)
			item.Delete("/", h.Delete)
		})
	})
}

func registerReminderRoutes(r chi.Router, h *handlers.ReminderHandler) {
	if h == nil {
		return
	}
	r.Get("/reminders", h.ListUpcoming)
	r.Post("/events/{eventID}/action", h.Action)
}

func registerComplianceRoutes(r chi.Router, h *handlers.ComplianceHandler) {
	if h == nil {
		return
	}
	r.Get("/compliance/report", h.Report)
}
