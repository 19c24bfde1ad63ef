// Command toolcurator runs the tool orchestration service: a periodic sync
// engine that converges the tool catalog, the MCP server cache, and the
// vector index with the Agent Platform, plus the HTTP facade exposing
// attach/prune/search/sync operations.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/oculair/toolcurator/pkg/api"
	"github.com/oculair/toolcurator/pkg/cache"
	"github.com/oculair/toolcurator/pkg/config"
	"github.com/oculair/toolcurator/pkg/platform"
	syncpkg "github.com/oculair/toolcurator/pkg/sync"
	"github.com/oculair/toolcurator/pkg/toolset"
	"github.com/oculair/toolcurator/pkg/vectorstore"
	"github.com/oculair/toolcurator/pkg/version"
)

func main() {
	configDir := flag.String("config-dir", ".", "directory holding .env and synonyms.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("Starting toolcurator", "version", version.Version, "commit", version.GitCommit)

	if err := godotenv.Load(*configDir + "/.env"); err != nil {
		logger.Info("No .env file, using process environment", "dir", *configDir)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platformClient := platform.NewClient(cfg)
	vectorClient := vectorstore.NewClient(cfg)
	catalog := cache.NewToolCatalog(cfg.CacheDir)
	serverCache := cache.NewServerList(cfg.CacheDir)

	if cfg.ClearOnStartup {
		logger.Warn("Clearing caches and vector index on startup")
		if err := catalog.Clear(); err != nil {
			return err
		}
		if err := serverCache.Clear(); err != nil {
			return err
		}
		if err := vectorClient.DeleteClass(ctx); err != nil {
			logger.Warn("Failed to clear vector index, continuing", "error", err)
		}
	}

	if err := vectorClient.EnsureReady(ctx); err != nil {
		// The facade retries per request; sync will also retry next cycle.
		logger.Warn("Vector store not ready at startup", "error", err)
	}

	syncEngine := syncpkg.NewEngine(platformClient, vectorClient, catalog, serverCache)
	scheduler := syncpkg.NewScheduler(syncEngine, cfg.SyncInterval)

	// One full cycle before serving, so the first request sees a warm
	// catalog. A failure here is logged, not fatal.
	if _, err := scheduler.RunNow(ctx); err != nil {
		logger.Error("Initial sync failed", "error", err)
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	engine := toolset.NewEngine(platformClient, vectorClient, catalog, cfg)
	server := api.NewServer(cfg, engine, scheduler, vectorClient, catalog, serverCache)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
