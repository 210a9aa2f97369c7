// cmd/server/server.go
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fieldhouse/reserve/internal/api"
	"github.com/fieldhouse/reserve/internal/config"
	"github.com/fieldhouse/reserve/internal/ratelimit"
)

func newServer(cfg *config.Config, handlers *api.Handlers, limiter *ratelimit.Limiter) *http.Server {
	router := http.NewServeMux()

	// Setup middleware chain
	handler := api.ChainMiddleware(
		router,
		limiter.Middleware(cfg.RateLimit.TrustProxy),
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
	)

	registerRoutes(router, handlers)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, handlers *api.Handlers) {
	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handlers.RegisterRoutes(mux)
}
