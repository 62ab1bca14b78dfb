package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/cmadac/internal/config"
	apierrors "github.com/copyleftdev/cmadac/internal/errors"
	"github.com/copyleftdev/cmadac/internal/logging"
	"github.com/copyleftdev/cmadac/internal/server"
	"github.com/copyleftdev/cmadac/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "cmadac",
		"env":     cfg.Environment,
	})
	zlog := logging.NewZapLogger(serviceLogger)
	defer func() { _ = zlog.Sync() }()

	ctx := (&logging.CtxLogger{Logger: serviceLogger}).WithContext(context.Background())

	opts := []server.Option{server.WithZapLogger(zlog)}
	var store *storage.SQLiteStore
	if cfg.Database.DSN != "" {
		if err := cfg.EnsureDataDir(); err != nil {
			serviceLogger.Fatal("Failed to create data directory", map[string]interface{}{"error": err.Error()})
		}
		store = storage.NewSQLiteStore(cfg.Database.DSN)
		if err := store.Init(ctx); err != nil {
			serviceLogger.Fatal("Failed to open episode store", map[string]interface{}{
				"dsn":   cfg.Database.DSN,
				"error": err.Error(),
			})
		}
		opts = append(opts, server.WithStore(store))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(apierrors.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("Health check")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, serviceLogger, opts...)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":         httpServer.Addr,
			"history_length":  cfg.DAC.HistoryLength,
			"population_size": cfg.DAC.PopulationSize,
			"cutoff":          cfg.DAC.Cutoff,
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	if err := srv.Close(); err != nil {
		serviceLogger.Error("Failed to persist open sessions", map[string]interface{}{"error": err.Error()})
	}
	if store != nil {
		if err := store.Close(); err != nil {
			serviceLogger.Error("Failed to close episode store", map[string]interface{}{"error": err.Error()})
		}
	}

	serviceLogger.Info("Server exited properly")
}
