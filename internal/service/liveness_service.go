package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/chain-registry/internal/circuitbreaker"
	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/liveness"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/models"
	"golang.org/x/sync/errgroup"
)

// EndpointStore is the storage the prober reads targets from and writes verdicts to
type EndpointStore interface {
	RecentForProbe(ctx context.Context, filter models.EndpointFilter) ([]models.Endpoint, error)
	UpdateLiveness(ctx context.Context, result models.LivenessResult) error
}

// EndpointCacheInvalidator drops cached endpoint query results
type EndpointCacheInvalidator interface {
	InvalidateEndpoints(ctx context.Context) error
}

// ProbeOptions configures one probe run
type ProbeOptions struct {
	MaxConcurrency int
	// Timeout bounds the whole run; probes not finished by then are skipped
	Timeout time.Duration
	Filter  models.EndpointFilter
}

// ProbeSummary counts the outcome of a probe run
type ProbeSummary struct {
	Total    int           `json:"total"`
	Alive    int           `json:"alive"`
	Dead     int           `json:"dead"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// LivenessService probes endpoints of the most recent commit and records
// whether each one accepts TCP connections.
type LivenessService struct {
	endpoints EndpointStore
	checker   liveness.Checker
	cache     EndpointCacheInvalidator
	breaker   *circuitbreaker.CircuitBreaker
	now       func() time.Time
}

// NewLivenessService creates a new liveness service; cache may be nil
func NewLivenessService(endpoints EndpointStore, checker liveness.Checker, cache EndpointCacheInvalidator) *LivenessService {
	return &LivenessService{
		endpoints: endpoints,
		checker:   checker,
		cache:     cache,
		breaker:   circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("liveness-writes")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Probe checks every selected endpoint with at most MaxConcurrency checks in
// flight. Per-endpoint failures never fail the run: an unreachable endpoint
// is recorded dead, and a verdict that cannot be written is skipped.
func (s *LivenessService) Probe(ctx context.Context, opts ProbeOptions) (*ProbeSummary, error) {
	start := time.Now()
	logger := logging.FromContext(ctx).WithComponent("liveness")

	if opts.MaxConcurrency < 1 {
		return nil, apperrors.NewInvalidParameterError("max_concurrency", "must be at least 1")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	endpoints, err := s.endpoints.RecentForProbe(ctx, opts.Filter)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load endpoints for probing", err)
	}

	var alive, dead, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrency)

	for _, endpoint := range endpoints {
		g.Go(func() error {
			if gctx.Err() != nil || s.breaker.IsOpen() {
				skipped.Add(1)
				return nil
			}

			checkErr := s.checker.Check(gctx, endpoint.Address)
			if checkErr != nil && gctx.Err() != nil {
				// the run ran out of time; that says nothing about the endpoint
				skipped.Add(1)
				return nil
			}

			result := models.LivenessResult{
				EndpointID: endpoint.ID,
				IsAlive:    checkErr == nil,
				CheckedAt:  s.now(),
			}
			err := s.breaker.Execute(gctx, func(ctx context.Context) error {
				return s.endpoints.UpdateLiveness(ctx, result)
			})
			if err != nil {
				if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
					logger.WithError(err).WithField("address", endpoint.Address).Warn("Failed to record liveness, skipping endpoint")
				}
				skipped.Add(1)
				return nil
			}

			if result.IsAlive {
				alive.Add(1)
			} else {
				dead.Add(1)
				logger.WithError(checkErr).WithFields(map[string]interface{}{
					"address": endpoint.Address,
					"kind":    endpoint.Kind,
				}).Debug("Endpoint unreachable")
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &ProbeSummary{
		Total:    len(endpoints),
		Alive:    int(alive.Load()),
		Dead:     int(dead.Load()),
		Skipped:  int(skipped.Load()),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		logger.WithField("skipped", summary.Skipped).Warn("Liveness run exceeded its time budget")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateEndpoints(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("Failed to invalidate cached endpoint queries")
		}
	}

	logger.WithFields(map[string]interface{}{
		"total":    summary.Total,
		"alive":    summary.Alive,
		"dead":     summary.Dead,
		"skipped":  summary.Skipped,
		"duration": summary.Duration.String(),
	}).Info("Liveness run completed")

	return summary, nil
}
