package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service  Service
	Health   *HealthHandler
	Gatherer prometheus.Gatherer // nil disables /metrics
	Logger   zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(chimiddleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Service != nil {
		mountScheduling(r, cfg.Service)
	}

	return r
}

func mountScheduling(r chi.Router, svc Service) {
	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(svc))
			r.Get("/", listAppointmentsHandler(svc))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getAppointmentHandler(svc))
				r.Post("/accept", transitionHandler(svc.AcceptAppointment))
				r.Post("/reject", rejectAppointmentHandler(svc))
				r.Post("/reschedule", requestRescheduleHandler(svc))
				r.Post("/reschedule/approve", transitionHandler(svc.ApproveReschedule))
				r.Post("/reschedule/reject", transitionHandler(svc.RejectReschedule))
				r.Post("/cancel", cancelAppointmentHandler(svc))
				r.Post("/complete", transitionHandler(svc.CompleteAppointment))
			})
		})

		r.Route("/faculty/{facultyID}", func(r chi.Router) {
			r.Get("/availability", getAvailabilityHandler(svc))
			r.Put("/availability", replaceAvailabilityHandler(svc))
			r.Get("/slots", suggestSlotsHandler(svc))
		})
	})
}
