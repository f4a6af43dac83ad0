// Package main clones the chain registry and imports it into Postgres.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chain-registry/internal/adapter"
	"github.com/chain-registry/internal/config"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/service"
	"github.com/chain-registry/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var (
		remote    = flag.String("remote", cfg.Registry.GitRemote, "Git remote of the chain registry")
		ref       = flag.String("ref", cfg.Registry.GitRef, "Branch, tag or commit to import")
		path      = flag.String("path", cfg.Registry.Path, "Clone target (must be empty); a temp dir when unset")
		keepClone = flag.Bool("keep-clone", cfg.Registry.KeepClone, "Leave the clone on disk after import")
		retain    = flag.Int("retain", cfg.Registry.RetainCommits, "Number of most recent commits to keep")
	)
	flag.Parse()

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithComponent("hydrate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	if err := storage.RunMigrations(cfg.Database.Postgres.ConnString(), cfg.Database.MigrationsPath); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	var cache service.CacheInvalidator
	if cfg.Cache.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, cached queries expire on their TTL")
		} else {
			defer redis.Close()
			cache = storage.NewCacheService(redis, cfg.Cache.TTL)
		}
	}

	ingest := service.NewIngestService(
		adapter.NewGitSource(cfg.Registry.CloneAttempts),
		postgres,
		storage.NewChainRepository(postgres),
		storage.NewEndpointRepository(postgres),
		storage.NewIngestRunRepository(postgres),
		cache,
	)

	result, err := ingest.Ingest(ctx, service.IngestOptions{
		Remote:        *remote,
		Ref:           *ref,
		WorkDir:       *path,
		KeepClone:     *keepClone,
		RetainCommits: *retain,
	})
	if err != nil {
		// deferred closes are skipped by os.Exit
		postgres.Close()
		logger.WithError(err).Fatal("Hydrate failed")
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(result); err != nil {
		logger.WithError(err).Error("Failed to write result")
	}
}
