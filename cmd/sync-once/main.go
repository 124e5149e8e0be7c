// Command sync-once runs a single pass of the master sync job and exits.
// It is meant for an external scheduler such as cron or a Kubernetes CronJob.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/app"
	"github.com/pscheid92/creatorsync/internal/bootstrap"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/config"
	"github.com/pscheid92/creatorsync/internal/platform/correlation"
	"github.com/pscheid92/creatorsync/internal/platform/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 on success, 1 when a platform failed,
// 2 on invalid usage. Deferred cleanup finishes before main exits.
func run(args []string) int {
	fs := flag.NewFlagSet("sync-once", flag.ContinueOnError)
	var (
		platformFlag = fs.String("platform", "", "Sync only this platform (instagram, tiktok, youtube)")
		timeout      = fs.Duration("timeout", time.Hour, "Abort the run after this long")
		verbose      = fs.Bool("verbose", false, "Verbose logging")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var platform domain.Platform
	if *platformFlag != "" {
		p, err := domain.ParsePlatform(*platformFlag)
		if err != nil {
			log.Printf("Invalid -platform: %v", err)
			return 2
		}
		platform = p
	}

	cfg, err := config.LoadForWorker()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = correlation.WithID(ctx, correlation.NewID())

	components, err := bootstrap.Build(ctx, cfg, clockwork.NewRealClock())
	if err != nil {
		slog.Error("Failed to initialise", "error", err)
		return 1
	}
	defer components.Close()
	slog.Info("Connected", "database", sanitizeURL(cfg.DatabaseURL), "redis", sanitizeURL(cfg.RedisURL))

	var summaries []app.PlatformSummary
	if platform != "" {
		summaries = append(summaries, components.Orchestrator.SyncPlatform(ctx, platform))
	} else {
		result, err := components.Job.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Sync job failed", "error", err)
			return 1
		}
		summaries = result.Platforms
	}

	return reportSummaries(summaries)
}

// reportSummaries logs one line per platform and returns 1 if any platform errored.
func reportSummaries(summaries []app.PlatformSummary) int {
	code := 0
	for _, s := range summaries {
		slog.Info("Platform summary",
			"platform", s.Platform,
			"total", s.Total,
			"synced", s.Synced,
			"failed", s.Failed,
			"skipped", s.Skipped,
			"refreshed", s.Refreshed,
			"rate_limited", s.RateLimited)
		if s.Err != nil {
			code = 1
		}
	}
	return code
}

// sanitizeURL strips credentials before a URL is logged.
func sanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
