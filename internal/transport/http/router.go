// Package http is the chi transport over the operations core.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"quantlab/internal/config"
	custommiddleware "quantlab/internal/middleware"
)

// RouterDeps carries everything the router wires together
type RouterDeps struct {
	Operations *OperationsHandler
	WebSocket  http.HandlerFunc
	Metrics    http.Handler
	RateLimit  config.RateLimitConfig
	Logger     *slog.Logger
}

// NewRouter builds the service's HTTP surface
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// The websocket upgrade must not pass through middleware that wraps
	// the ResponseWriter.
	if deps.WebSocket != nil {
		r.HandleFunc("/ws", deps.WebSocket)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	r.Get("/healthz", healthz)

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.StructuredLogger(deps.Logger))
		r.Use(chimiddleware.Recoverer)
		r.Use(chimiddleware.Timeout(60 * time.Second))

		if deps.RateLimit.Enabled {
			limiter := custommiddleware.NewRateLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst, deps.Logger)
			r.Use(limiter.Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Mount("/operations", deps.Operations.Routes())
		})
	})

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
