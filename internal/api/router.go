package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/booking"
)

type RouterConfig struct {
	Slots   *availability.Store
	Booking *booking.Reconciler
	Checks  []HealthCheck
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/doctors/{doctorID}/slots", func(r chi.Router) {
		r.Post("/", createSlotHandler(cfg.Slots))
		r.Post("/bulk", bulkSlotsHandler(cfg.Slots))
		r.Get("/", listSlotsHandler(cfg.Slots))
	})

	r.Route("/slots/{id}", func(r chi.Router) {
		r.Get("/", getSlotHandler(cfg.Slots))
		r.Patch("/", updateSlotHandler(cfg.Slots))
		r.Delete("/", deleteSlotHandler(cfg.Slots))
	})

	r.Post("/appointments", createAppointmentHandler(cfg.Booking))
	r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Booking))

	return r
}
