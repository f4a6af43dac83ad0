// Package main probes registry endpoints and records which ones are reachable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chain-registry/internal/config"
	"github.com/chain-registry/internal/liveness"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/service"
	"github.com/chain-registry/internal/storage"
	"github.com/chain-registry/internal/types"
	"github.com/chain-registry/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var (
		loop           = flag.Bool("loop", false, "Keep probing on an interval instead of running once")
		interval       = flag.Duration("interval", cfg.Liveness.Interval, "Time between passes with -loop")
		maxConcurrency = flag.Int("max-concurrency", cfg.Liveness.MaxConcurrency, "Checks in flight at once")
		dialTimeout    = flag.Duration("dial-timeout", cfg.Liveness.DialTimeout, "Per-endpoint connect timeout")
		jobTimeout     = flag.Duration("timeout", cfg.Liveness.JobTimeout, "Budget for a whole pass")
		network        = flag.String("network", "", "Only probe this network (mainnet or testnet)")
		chain          = flag.String("chain", "", "Only probe endpoints of this chain")
		kinds          = flag.String("kinds", "", "Comma separated endpoint kinds (peer,seed,rpc,rest,grpc)")
	)
	flag.Parse()

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithComponent("liveness")

	filter, err := parseFilter(*network, *chain, *kinds)
	if err != nil {
		logger.WithError(err).Fatal("Invalid filter")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	var cache service.EndpointCacheInvalidator
	if cfg.Cache.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, cached peer lists expire on their TTL")
		} else {
			defer redis.Close()
			cache = storage.NewCacheService(redis, cfg.Cache.TTL)
		}
	}

	prober := service.NewLivenessService(
		storage.NewEndpointRepository(postgres),
		liveness.NewTCPChecker(*dialTimeout),
		cache,
	)
	opts := service.ProbeOptions{MaxConcurrency: *maxConcurrency, Filter: filter}

	if !*loop {
		opts.Timeout = *jobTimeout
		summary, err := prober.Probe(ctx, opts)
		if err != nil {
			postgres.Close()
			logger.WithError(err).Fatal("Liveness check failed")
		}
		printJSON(summary)
		return
	}

	w, err := worker.NewLivenessWorker(&worker.LivenessWorkerConfig{
		Prober:     prober,
		Options:    opts,
		Interval:   *interval,
		JobTimeout: *jobTimeout,
	})
	if err != nil {
		postgres.Close()
		logger.WithError(err).Fatal("Failed to create liveness worker")
	}
	if err := w.Start(ctx); err != nil {
		postgres.Close()
		logger.WithError(err).Fatal("Failed to start liveness worker")
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Liveness worker did not stop cleanly")
	}
	printJSON(w.GetStatus())
}

func parseFilter(network, chain, kinds string) (models.EndpointFilter, error) {
	filter := models.EndpointFilter{ChainName: chain}
	if network != "" {
		n, err := types.ParseNetwork(network)
		if err != nil {
			return filter, err
		}
		filter.Network = &n
	}
	if kinds != "" {
		for _, raw := range strings.Split(kinds, ",") {
			k, err := types.ParseEndpointKind(strings.TrimSpace(raw))
			if err != nil {
				return filter, err
			}
			filter.Kinds = append(filter.Kinds, k)
		}
	}
	return filter, nil
}

func printJSON(v interface{}) {
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	out.Encode(v)
}
