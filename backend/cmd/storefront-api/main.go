package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storefront-dev/storefront/backend/internal/router"
	"github.com/storefront-dev/storefront/backend/internal/setup"
	"github.com/storefront-dev/storefront/shared/config"
	"github.com/storefront-dev/storefront/shared/logger"
)

const (
	limiterSweepInterval = time.Minute
	shutdownTimeout      = 10 * time.Second
)

func main() {
	var configFolder string
	flag.StringVar(&configFolder, "config_folder", "backend/config", "path to folder with configs")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	log := logger.New(cfg.Public.LogLevel, cfg.Public.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, storage, err := setup.SetupDependencies(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Cleanup(); err != nil {
			log.Error("failed to close storage", "error", err)
		}
	}()

	deps.GC.StartBackgroundCleanup(ctx, cfg.Public.SessionGCInterval)
	deps.Blocklist.StartBackgroundUpdate(ctx, cfg.Public.BlocklistRefreshInterval)
	deps.Limiters.Mail.StartJanitor(ctx, limiterSweepInterval)
	deps.Limiters.Credentials.StartJanitor(ctx, limiterSweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Public.HTTPPort,
		Handler:           router.New(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server started", "port", cfg.Public.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
