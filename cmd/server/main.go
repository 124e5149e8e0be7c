package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/adapter/httpserver"
	"github.com/pscheid92/creatorsync/internal/adapter/metrics"
	"github.com/pscheid92/creatorsync/internal/bootstrap"
	"github.com/pscheid92/creatorsync/internal/platform/config"
	"github.com/pscheid92/creatorsync/internal/platform/logging"
	"github.com/pscheid92/creatorsync/internal/platform/version"
)

const shutdownTimeout = 30 * time.Second

func runGracefulShutdown(srv *httpserver.Server, components *bootstrap.Components, cancelJobs context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		components.Job.Stop()
		cancelJobs()

		waited := make(chan struct{})
		go func() {
			components.Service.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-shutdownCtx.Done():
			slog.Warn("Initial syncs still running at shutdown")
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	components, err := bootstrap.Build(jobCtx, cfg, clock)
	if err != nil {
		slog.Error("Failed to initialise", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	if cfg.Sync.Interval > 0 {
		go components.Job.Start(jobCtx, cfg.Sync.Interval)
	} else {
		slog.Info("Sync scheduler disabled, expecting an external cron to run sync-once")
	}

	srv := httpserver.NewServer(
		cfg,
		components.Service,
		components.HealthChecks(),
		metrics.NewHTTPMetrics(components.Registry),
		metrics.Handler(components.Registry),
	)

	done := runGracefulShutdown(srv, components, cancelJobs)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
