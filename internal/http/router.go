package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Post("/webhooks/email", h.InboundEmail)
	r.Post("/webhooks/payment", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl))
		r.Get("/v1/bookings", h.ListBookings)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Patch("/v1/bookings/{id}", h.UpdateBooking)
		r.Get("/v1/waitlist", h.ListWaitlist)
		r.Post("/v1/waitlist/{id}/convert", h.ConvertWaitlist)
	})

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
