package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/wmsd/internal/core/config"
	"github.com/mohammed-shakir/wmsd/internal/core/health"
	middleware "github.com/mohammed-shakir/wmsd/internal/core/middleware"
	"github.com/mohammed-shakir/wmsd/internal/core/router"
)

// NewHandler wires the WMS, legend and operational routes.
func NewHandler(cfg config.Config, logger *slog.Logger, d router.Dispatcher, ready ...health.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, ready...))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	wms := router.HandleWMS(logger, cfg, d)
	r.Get("/", router.HandleRoot(logger, cfg, d))
	r.Get("/WMS", wms)
	r.Get("/WMS/*", wms)
	r.Get("/legend/*", router.HandleLegend(logger, d))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
