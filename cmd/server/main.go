// Package main provides the API server entry point for the chain registry.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chain-registry/internal/api"
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

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithComponent("server")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	if err := storage.RunMigrations(cfg.Database.Postgres.ConnString(), cfg.Database.MigrationsPath); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	dependencies := map[string]api.Pinger{"postgres": postgres}

	var cacheService *storage.CacheService
	if cfg.Cache.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			// the API still works from Postgres alone
			logger.WithError(err).Warn("Redis unavailable, serving without query cache")
		} else {
			defer redis.Close()
			cacheService = storage.NewCacheService(redis, cfg.Cache.TTL)
			dependencies["redis"] = redis
		}
	}

	queryService := service.NewQueryService(
		storage.NewChainRepository(postgres),
		storage.NewEndpointRepository(postgres),
		cacheService,
	)

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TrustProxy:        cfg.RateLimit.TrustProxy,
	}
	server := api.NewServer(serverConfig, queryService, dependencies).
		WithIngestRuns(storage.NewIngestRunRepository(postgres))

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Server exited")
}
