package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/campuskit/broadcast/internal/handler"
	customMiddleware "github.com/campuskit/broadcast/internal/middleware"
	"github.com/campuskit/broadcast/internal/service"
)

// Deps carries everything the router mounts.
type Deps struct {
	Broadcast *handler.BroadcastHandler
	Health    *handler.HealthHandler
	Auth      service.AuthService
	Redis     *redis.Client
	SendLimit int64
	Logger    *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(customMiddleware.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/broadcast", func(r chi.Router) {
		r.Use(customMiddleware.AdminAuth(d.Auth, d.Logger))

		r.With(customMiddleware.RateLimit(d.Redis, d.SendLimit, d.Logger)).
			Post("/", d.Broadcast.Send)
		r.Post("/flush", d.Broadcast.Flush)
		r.Get("/history", d.Broadcast.History)
		r.Get("/{id}", d.Broadcast.Get)
	})

	// Health & Readiness Routes
	r.Get("/healthz", d.Health.Liveness)
	r.Get("/readyz", d.Health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
