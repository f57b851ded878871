package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hexmapr/density-engine/internal/core/config"
	"github.com/hexmapr/density-engine/internal/health"
	imw "github.com/hexmapr/density-engine/internal/middleware"
)

func Routes(app *App) http.Handler {
	r := chi.NewRouter()

	r.Get("/viewport", app.handleGetViewport)
	r.Post("/viewport", app.handleSetViewport)
	r.Put("/panel", app.handleSetPanel)

	r.Get("/metric", app.handleGetMetric)
	r.Put("/metric", app.handleSetMetric)

	r.Get("/layers", app.handleGetLayers)
	r.Put("/layers", app.handleSetLayers)

	r.Get("/scene", app.handleGetScene)

	r.Post("/overlay", app.handleUploadOverlay)
	r.Delete("/overlay", app.handleDeleteOverlay)

	r.Post("/hover", app.handleHover)
	r.Delete("/hover", app.handleClearHover)
	r.Get("/tooltip", app.handleGetTooltip)

	return r
}

// Run starts the http server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, app *App) error {
	r := chi.NewRouter()
	r.Use(imw.Recover())
	r.Use(imw.Logging(logger))
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Mount("/", Routes(app))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
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
