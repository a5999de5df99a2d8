// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
router.go - Chi Router Assembly

Single place the URL surface of the console is defined. Middleware order
matters: RealIP before the rate limiter so limits key on the client address,
Recoverer outermost among the handlers so a panicking handler returns 500
instead of killing the connection.
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/metrics"
)

// NewRouter builds the console HTTP routing tree.
func NewRouter(handler *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Probes stay outside the rate limiter so a noisy client cannot make
	// the orchestrator think the process is down.
	r.Get("/api/v1/health/live", handler.HealthLive)
	r.Get("/api/v1/health/ready", handler.HealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}
		r.Use(requestMetrics)

		r.Get("/vehicles", handler.Vehicles)
		r.Get("/vehicles/{deviceID}", handler.Vehicle)
		r.Get("/fleet/metrics", handler.FleetMetrics)
		r.Get("/health", handler.Health)
		r.Post("/sync", handler.ForceSync)
		r.Post("/reconnect", handler.Reconnect)
		r.Get("/ws", handler.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records per-route request counts and latency. The route
// pattern ("/vehicles/{deviceID}") is used rather than the raw path so
// cardinality stays bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
