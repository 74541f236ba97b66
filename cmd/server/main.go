/**
 * @description
 * Entry point for the prize service: HTTP API plus the in-process retry
 * scheduler.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quicklifts/prize-service/internal/api"
	"github.com/quicklifts/prize-service/internal/app"
	"github.com/quicklifts/prize-service/internal/bootstrap"
	"github.com/quicklifts/prize-service/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	services, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{MaxConns: 100, MinConns: 20})
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	jobs := app.NewJobs(services.Retry, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	routerCfg := api.RouterConfig{InternalAPIKey: cfg.InternalAPIKey}
	if cfg.ClerkJWKSURL != "" {
		routerCfg.JWKS = api.NewJWKSCache(cfg.ClerkJWKSURL)
	}
	handler := api.NewHandler(services.Retry, services.Notifier, services.Confirmation, services.Repository, logger)
	router := api.NewRouter(handler, routerCfg)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before the shutdown deadline")
	}

	logger.Info("server stopped")
}
