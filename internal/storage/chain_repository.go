package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/types"
	"github.com/jackc/pgx/v5"
)

// ChainRepository handles chain data persistence
type ChainRepository struct {
	db *PostgresDB
}

// NewChainRepository creates a new chain repository
func NewChainRepository(db *PostgresDB) *ChainRepository {
	return &ChainRepository{db: db}
}

// Upsert stores one chain import and returns its row id.
// Re-importing the same (name, network, commit) touches updated_at so a
// row is always returned.
func (r *ChainRepository) Upsert(ctx context.Context, q Querier, chain *models.Chain) (int64, error) {
	assetData := chain.AssetData
	if len(assetData) == 0 {
		assetData = []byte("{}")
	}

	query := `
		INSERT INTO chain (name, network, commit, chain_data, asset_data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, network, commit) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := q.QueryRow(ctx, query,
		chain.Name,
		string(chain.Network),
		chain.Commit,
		string(chain.ChainData),
		string(assetData),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert chain %s %s: %w", chain.Name, chain.Network, err)
	}

	chain.ID = id
	return id, nil
}

// CommitStats returns, per distinct commit, the newest created_at of its rows
func (r *ChainRepository) CommitStats(ctx context.Context, q Querier) ([]models.CommitStat, error) {
	rows, err := q.Query(ctx, `SELECT commit, MAX(created_at) AS last_seen FROM chain GROUP BY commit`)
	if err != nil {
		return nil, fmt.Errorf("failed to query commit stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.CommitStat])
	if err != nil {
		return nil, fmt.Errorf("failed to scan commit stats: %w", err)
	}
	return stats, nil
}

// RetainedCommits picks the keep most recently seen commits.
// Ties on LastSeen are broken by commit string so the choice is deterministic.
func RetainedCommits(stats []models.CommitStat, keep int) []string {
	if keep <= 0 {
		return nil
	}

	sorted := make([]models.CommitStat, len(stats))
	copy(sorted, stats)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].LastSeen.Equal(sorted[j].LastSeen) {
			return sorted[i].LastSeen.After(sorted[j].LastSeen)
		}
		return sorted[i].Commit < sorted[j].Commit
	})

	if len(sorted) > keep {
		sorted = sorted[:keep]
	}

	commits := make([]string, len(sorted))
	for i, s := range sorted {
		commits[i] = s.Commit
	}
	return commits
}

// Prune deletes chain rows of every commit outside the keep most recent ones.
// Join rows cascade; endpoints are left in place.
func (r *ChainRepository) Prune(ctx context.Context, q Querier, keep int) (int64, error) {
	if keep < 1 {
		return 0, apperrors.NewInvalidParameterError("keep", "must be at least 1")
	}

	stats, err := r.CommitStats(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(stats) <= keep {
		return 0, nil
	}

	retained := RetainedCommits(stats, keep)
	tag, err := q.Exec(ctx, `DELETE FROM chain WHERE NOT (commit = ANY($1::text[]))`, retained)
	if err != nil {
		return 0, fmt.Errorf("failed to prune chains: %w", err)
	}

	return tag.RowsAffected(), nil
}

// LatestByName returns the most recent import of a chain
func (r *ChainRepository) LatestByName(ctx context.Context, network types.Network, name string) (*models.Chain, error) {
	query := `
		SELECT id, name, network, commit, chain_data, asset_data, created_at, updated_at
		FROM chain
		WHERE name = $1 AND network = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var (
		chain   models.Chain
		netName string
	)
	err := r.db.Pool().QueryRow(ctx, query, name, string(network)).Scan(
		&chain.ID,
		&chain.Name,
		&netName,
		&chain.Commit,
		&chain.ChainData,
		&chain.AssetData,
		&chain.CreatedAt,
		&chain.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("chain", fmt.Sprintf("%s/%s", network, name))
		}
		return nil, apperrors.NewDatabaseError("get chain", err)
	}
	chain.Network = types.Network(netName)

	return &chain, nil
}

// LatestNames returns the chain names under the most recent commit of a network
func (r *ChainRepository) LatestNames(ctx context.Context, network types.Network) (*models.ChainList, error) {
	var (
		commit    string
		createdAt time.Time
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT commit, created_at FROM chain
		WHERE network = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, string(network)).Scan(&commit, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("network", string(network))
		}
		return nil, apperrors.NewDatabaseError("list chains", err)
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT name FROM chain
		WHERE network = $1 AND commit = $2
		ORDER BY name
	`, string(network), commit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list chains", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.NewDatabaseError("list chains", err)
	}

	return &models.ChainList{
		Meta:    models.Meta{Commit: commit, UpdatedAt: createdAt},
		Network: network,
		Names:   names,
	}, nil
}
