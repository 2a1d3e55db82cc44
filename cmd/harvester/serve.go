package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/database"
	"github.com/andres10976/certharvest/internal/handler"
	"github.com/andres10976/certharvest/internal/middleware"
	"github.com/andres10976/certharvest/internal/progress"
)

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(ctx, a.pool); err != nil {
		return err
	}
	a.markInterrupted(ctx)

	ctrl, err := a.newController(progress.Nop{})
	if err != nil {
		return err
	}

	// Handlers
	certHandler := handler.NewCertificateHandler(a.certs)
	domainHandler := handler.NewDomainHandler(a.domains)
	ingestHandler := handler.NewIngestHandler(ctrl, a.runs)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(a.cfg.Server.CORSAllowOrigin))
	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		certHandler.RegisterRoutes(r)
		domainHandler.RegisterRoutes(r)
		ingestHandler.RegisterRoutes(r)
	})

	// Server with graceful shutdown
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("server starting", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop a running ingest so it records its result
	if ctrl.IsRunning() {
		if err := ctrl.Stop(shutdownCtx); err != nil {
			a.log.Warn("failed to stop ingest", zap.Error(err))
		}
	}

	// Give in-flight requests time to complete
	return srv.Shutdown(shutdownCtx)
}
