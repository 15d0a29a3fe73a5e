package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware(h.metrics))
	r.Use(RecoveryMiddleware)

	r.Method("GET", "/metrics", h.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Use(UserScopeMiddleware)

				r.Post("/dreams", h.AddDream)
				r.Post("/checkins", h.UpsertCheckIn)
				r.Delete("/checkins/{date}", h.DeleteCheckIn)

				r.Put("/sleep", h.PutSleep)
				r.Get("/sleep", h.ListSleep)
				r.Get("/sleep/today", h.TodaySleep)
				r.Get("/sleep/coverage", h.SleepCoverage)
				r.Get("/sleep/{date}", h.SleepByDate)

				// Generation calls the provider, so it is budgeted per user
				r.With(h.limiter.Middleware).Post("/forecasts", h.GenerateForecast)
				r.Get("/forecasts", h.ListForecasts)
				r.Get("/forecasts/confidence", h.PreviewConfidence)
				r.Get("/forecasts/stats", h.ForecastStats)
				r.Get("/forecasts/{id}", h.GetForecast)
				r.Post("/forecasts/{id}/actual", h.RecordActual)
				r.Post("/forecasts/{id}/suggestions/toggle", h.ToggleSuggestion)

				r.Get("/alerts", h.Alerts)

				r.Get("/goals", h.GetGoals)
				r.Put("/goals", h.UpdateGoals)
				r.Get("/goals/progress", h.GoalProgress)
				r.Get("/goals/suggested", h.SuggestedGoals)
				r.Post("/goals/apply", h.ApplySuggestedGoals)
			})
		})
	})

	return r
}
