// Package server assembles the HTTP router mounted by cmd/marketd: the
// command/query surface from rpc/modules, a metrics endpoint, and an
// optional event websocket, grounded on the teacher's gateway/routes router
// (chi.Router plus a rate-limit/auth middleware stack per route group).
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketd/rpc/modules"
)

// Config wires a router's dependencies.
type Config struct {
	Markets     *modules.MarketModule
	Auth        *Authenticator
	RateLimiter *RateLimiter
	Hub         *Hub
}

// New builds the top-level router: health check, prometheus metrics, the
// market command/query surface (rate-limited, with privileged routes
// additionally gated on JWT scope), and the per-market event stream.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	requireScope := func(scope string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Auth != nil {
		requireScope = cfg.Auth.RequireScope
	}

	r.Route("/markets", func(mr chi.Router) {
		if cfg.RateLimiter != nil {
			mr.Use(cfg.RateLimiter.Middleware)
		}
		if cfg.Markets != nil {
			var eventsHandler http.HandlerFunc
			if cfg.Hub != nil {
				eventsHandler = cfg.Hub.Handler
			}
			mr.Mount("/", cfg.Markets.Routes(requireScope, eventsHandler))
		}
	})

	return r
}
