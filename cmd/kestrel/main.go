// Kestrel - Rule-driven risk scoring for client interactions.

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

	"github.com/veritas-id/kestrel/internal/api"
	"github.com/veritas-id/kestrel/internal/bus"
	"github.com/veritas-id/kestrel/internal/cache"
	"github.com/veritas-id/kestrel/internal/domain"
	"github.com/veritas-id/kestrel/internal/repository"
	"github.com/veritas-id/kestrel/internal/risk"
	"github.com/veritas-id/kestrel/internal/rules"
	"github.com/veritas-id/kestrel/internal/rulestore"
	"github.com/veritas-id/kestrel/internal/telemetry"
	"github.com/veritas-id/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfgPath := os.Getenv("KESTREL_CONFIG")
	cfg, err := domain.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyEnvOverrides(cfg)

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"rules_source", cfg.Rules.Source,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize metrics
	metrics := telemetry.NewMetrics(nil)

	// Initialize rule compiler and store, then load the rule source.
	compiler, err := rules.NewCompiler()
	if err != nil {
		slog.Error("failed to initialize rule compiler", "error", err)
		os.Exit(1)
	}

	store := rulestore.New(cfg.Rules.Source, compiler)
	if snap, err := store.Load(); err != nil {
		slog.Warn("rule source not loaded at startup; starting with empty rule set",
			"source", cfg.Rules.Source,
			"error", err,
		)
	} else {
		enabled := len(snap.Set.Enabled())
		metrics.ObserveReload(nil, enabled)
		slog.Info("rules loaded",
			"source", cfg.Rules.Source,
			"count", len(snap.Set.Rules),
			"enabled", enabled,
		)
	}

	runner := rules.NewRunner(cfg.Rules.MaxConcurrent)
	engine := risk.NewEngine()

	// Hot reload: watch the rule source and handle SIGHUP.
	reload := func(trigger string) {
		snap, err := store.Reload()
		metricsCount := 0
		if err == nil {
			metricsCount = len(snap.Set.Enabled())
		}
		metrics.ObserveReload(err, metricsCount)
		if err != nil {
			slog.Error("rule reload failed; previous snapshot still active",
				"trigger", trigger,
				"error", err,
			)
			return
		}
		slog.Info("rules reloaded",
			"trigger", trigger,
			"count", len(snap.Set.Rules),
			"enabled", metricsCount,
		)
	}

	var watcher *rulestore.Watcher
	if cfg.Rules.Watch {
		watcher, err = rulestore.NewWatcher(cfg.Rules.Source)
		if err != nil {
			slog.Error("failed to initialize rule watcher", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx, func() error {
					reload("file change")
					return nil
				}); err != nil {
					slog.Error("rule watcher exited", "error", err)
				}
			}()
		}
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			reload("SIGHUP")
		}
	}()

	// Initialize async persistence worker
	asyncWorker := worker.NewWorker(busImpl, repo, cacheImpl)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start persistence worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	handler := api.NewHandler(store, runner, engine, repo, cacheImpl, busImpl, metrics, Version, cfg.Server.RateLimitPerMinute)
	srv := api.NewServer(cfg.Server, api.ServerOptions{
		Handler:         handler,
		SignatureSecret: cfg.SignatureSecret,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			slog.Error("failed to stop rule watcher", "error", err)
		}
	}

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop persistence worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// applyEnvOverrides layers KESTREL_* environment variables over the file
// configuration for containerized deployments.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_RULES_SOURCE"); v != "" {
		cfg.Rules.Source = v
	}
	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("KESTREL_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_BUS_TYPE"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_SIGNATURE_SECRET"); v != "" {
		cfg.SignatureSecret = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║   Client Interaction Risk Scoring         ║")
	fmt.Println("  ║   Sharp eyes on every session.            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Rules:    %s\n", cfg.Rules.Source)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /verify                    - Evaluate an interaction payload")
	fmt.Println("    GET  /evaluations/{id}          - Get evaluation by ID")
	fmt.Println("    GET  /sessions/{id}/evaluations - List session evaluations")
	fmt.Println("    GET  /rules                     - List active rules")
	fmt.Println("    GET  /rules/stats               - Rule set statistics")
	fmt.Println("    POST /rules/reload              - Hot-reload the rule source")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
