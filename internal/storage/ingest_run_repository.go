package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IngestRunRepository keeps the ledger of hydrate runs
type IngestRunRepository struct {
	db *PostgresDB
}

// NewIngestRunRepository creates a new ingest run repository
func NewIngestRunRepository(db *PostgresDB) *IngestRunRepository {
	return &IngestRunRepository{db: db}
}

// Start records a new running ingest and fills in its id and start time
func (r *IngestRunRepository) Start(ctx context.Context, run *models.IngestRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.IngestRunning
	run.StartedAt = time.Now().UTC()

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO ingest_run (id, remote, ref, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.Remote, run.Ref, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start ingest run: %w", err)
	}
	return nil
}

// Finish stores the final status and counters of a run
func (r *IngestRunRepository) Finish(ctx context.Context, run *models.IngestRun) error {
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE ingest_run
		SET commit = $2, status = $3, chains_imported = $4, chains_failed = $5,
			endpoints_upserted = $6, chains_pruned = $7, error = $8, finished_at = $9
		WHERE id = $1
	`,
		run.ID,
		run.Commit,
		string(run.Status),
		run.ChainsImported,
		run.ChainsFailed,
		run.EndpointsUpserted,
		run.ChainsPruned,
		run.Error,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("ingest run", run.ID.String())
	}
	return nil
}

// Latest returns the most recently started run
func (r *IngestRunRepository) Latest(ctx context.Context) (*models.IngestRun, error) {
	var (
		run    models.IngestRun
		status string
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, remote, ref, commit, status, chains_imported, chains_failed,
			   endpoints_upserted, chains_pruned, error, started_at, finished_at
		FROM ingest_run
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(
		&run.ID,
		&run.Remote,
		&run.Ref,
		&run.Commit,
		&status,
		&run.ChainsImported,
		&run.ChainsFailed,
		&run.EndpointsUpserted,
		&run.ChainsPruned,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("ingest run", "latest")
		}
		return nil, fmt.Errorf("failed to get latest ingest run: %w", err)
	}
	run.Status = models.IngestRunStatus(status)

	return &run, nil
}
