package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chain-registry/internal/adapter"
	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Source produces a checkout of the registry
type Source interface {
	Fetch(ctx context.Context, remote, ref, dir string) (*adapter.Checkout, error)
}

// TxRunner runs fn in a database transaction
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ChainWriter stores and prunes chain rows
type ChainWriter interface {
	Upsert(ctx context.Context, q storage.Querier, chain *models.Chain) (int64, error)
	Prune(ctx context.Context, q storage.Querier, keep int) (int64, error)
}

// EndpointWriter stores endpoints and their chain associations
type EndpointWriter interface {
	UpsertMany(ctx context.Context, q storage.Querier, endpoints []models.Endpoint) ([]int64, error)
	LinkToChain(ctx context.Context, q storage.Querier, chainID int64, endpointIDs []int64) error
}

// RunLedger records ingest runs
type RunLedger interface {
	Start(ctx context.Context, run *models.IngestRun) error
	Finish(ctx context.Context, run *models.IngestRun) error
}

// CacheInvalidator drops every cached query result
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// IngestOptions configures one ingest run
type IngestOptions struct {
	Remote        string
	Ref           string
	WorkDir       string // a temp dir is used when empty
	KeepClone     bool
	RetainCommits int
}

// IngestResult describes a committed ingest run
type IngestResult struct {
	RunID             uuid.UUID     `json:"runId"`
	Commit            string        `json:"commit"`
	ChainsImported    int           `json:"chainsImported"`
	ChainsFailed      int           `json:"chainsFailed"`
	EndpointsUpserted int           `json:"endpointsUpserted"`
	ChainsPruned      int64         `json:"chainsPruned"`
	CloneDir          string        `json:"cloneDir,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// IngestService mirrors the registry into the database
type IngestService struct {
	source    Source
	db        TxRunner
	chains    ChainWriter
	endpoints EndpointWriter
	runs      RunLedger
	cache     CacheInvalidator
}

// NewIngestService creates a new ingest service; runs and cache may be nil
func NewIngestService(source Source, db TxRunner, chains ChainWriter, endpoints EndpointWriter, runs RunLedger, cache CacheInvalidator) *IngestService {
	return &IngestService{
		source:    source,
		db:        db,
		chains:    chains,
		endpoints: endpoints,
		runs:      runs,
		cache:     cache,
	}
}

// Ingest fetches the registry and imports every chain in one transaction.
// A chain that fails to import is rolled back to its savepoint, logged and
// skipped. Clone and commit failures abort the run with nothing written.
// Commits beyond the RetainCommits most recent are pruned before commit.
func (s *IngestService) Ingest(ctx context.Context, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()
	logger := logging.FromContext(ctx).WithComponent("ingest").WithFields(map[string]interface{}{
		"remote": opts.Remote,
		"ref":    opts.Ref,
	})

	if opts.RetainCommits < 1 {
		return nil, apperrors.NewInvalidParameterError("retain_commits", "must be at least 1")
	}
	if opts.Remote == "" || opts.Ref == "" {
		return nil, apperrors.NewInvalidParameterError("remote", "remote and ref are required")
	}

	run := &models.IngestRun{Remote: opts.Remote, Ref: opts.Ref}
	s.startRun(ctx, logger, run)

	result, err := s.ingest(ctx, logger, opts, run)
	if err != nil {
		msg := err.Error()
		run.Status = models.IngestFailed
		run.Error = &msg
		s.finishRun(ctx, logger, run)
		logger.WithError(err).Error("Ingest failed")
		return nil, err
	}

	run.Status = models.IngestSucceeded
	s.finishRun(ctx, logger, run)

	result.RunID = run.ID
	result.Duration = time.Since(start)
	logger.WithFields(map[string]interface{}{
		"commit":            result.Commit,
		"chainsImported":    result.ChainsImported,
		"chainsFailed":      result.ChainsFailed,
		"endpointsUpserted": result.EndpointsUpserted,
		"chainsPruned":      result.ChainsPruned,
		"duration":          result.Duration.String(),
	}).Info("Ingest completed")

	return result, nil
}

func (s *IngestService) ingest(ctx context.Context, logger *logging.Logger, opts IngestOptions, run *models.IngestRun) (*IngestResult, error) {
	checkout, err := s.source.Fetch(ctx, opts.Remote, opts.Ref, opts.WorkDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if opts.KeepClone {
			return
		}
		if err := checkout.Remove(); err != nil {
			logger.WithError(err).Warn("Failed to remove registry clone")
		}
	}()

	commit := checkout.Commit
	run.Commit = &commit
	result := &IngestResult{Commit: commit}
	if opts.KeepClone {
		result.CloneDir = checkout.Dir
	}

	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, dir := range checkout.Chains() {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, err := s.importChain(ctx, tx, dir, commit)
			if err != nil {
				var fatal *fatalTxError
				if errors.As(err, &fatal) {
					return fatal.err
				}
				result.ChainsFailed++
				logger.WithError(err).WithFields(map[string]interface{}{
					"chain":   dir.Name,
					"network": dir.Network,
				}).Warn("Skipping chain")
				continue
			}
			result.ChainsImported++
			result.EndpointsUpserted += n
		}

		pruned, err := s.chains.Prune(ctx, tx, opts.RetainCommits)
		if err != nil {
			return err
		}
		result.ChainsPruned = pruned
		return nil
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("ingest transaction", err)
	}

	run.ChainsImported = result.ChainsImported
	run.ChainsFailed = result.ChainsFailed
	run.EndpointsUpserted = result.EndpointsUpserted
	run.ChainsPruned = result.ChainsPruned

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			logger.WithError(err).Warn("Failed to invalidate query cache")
		}
	}

	return result, nil
}

// importChain stores one chain, its endpoints and their links under a
// savepoint. It returns the number of endpoints upserted.
func (s *IngestService) importChain(ctx context.Context, tx pgx.Tx, dir adapter.ChainDir, commit string) (int, error) {
	chain, doc, err := adapter.LoadChain(dir, commit)
	if err != nil {
		return 0, err
	}
	endpoints := adapter.ExtractEndpoints(doc)

	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, &fatalTxError{err: fmt.Errorf("failed to create savepoint: %w", err)}
	}

	n, err := s.writeChain(ctx, sp, chain, endpoints)
	if err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return 0, &fatalTxError{err: fmt.Errorf("failed to roll back chain %s: %w", dir.Name, rbErr)}
		}
		return 0, err
	}

	if err := sp.Commit(ctx); err != nil {
		return 0, &fatalTxError{err: fmt.Errorf("failed to release savepoint: %w", err)}
	}
	return n, nil
}

func (s *IngestService) writeChain(ctx context.Context, q storage.Querier, chain *models.Chain, endpoints []models.Endpoint) (int, error) {
	chainID, err := s.chains.Upsert(ctx, q, chain)
	if err != nil {
		return 0, err
	}

	ids, err := s.endpoints.UpsertMany(ctx, q, endpoints)
	if err != nil {
		return 0, err
	}

	if err := s.endpoints.LinkToChain(ctx, q, chainID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// fatalTxError means the enclosing transaction can no longer be used
type fatalTxError struct {
	err error
}

func (e *fatalTxError) Error() string { return e.err.Error() }
func (e *fatalTxError) Unwrap() error { return e.err }

func (s *IngestService) startRun(ctx context.Context, logger *logging.Logger, run *models.IngestRun) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Start(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record ingest run start")
	}
}

func (s *IngestService) finishRun(ctx context.Context, logger *logging.Logger, run *models.IngestRun) {
	if s.runs == nil || run.ID == uuid.Nil {
		return
	}
	if err := s.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		logger.WithError(err).Warn("Failed to record ingest run result")
	}
}
