package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EndpointRepository handles endpoint persistence and chain association
type EndpointRepository struct {
	db *PostgresDB
}

// NewEndpointRepository creates a new endpoint repository
func NewEndpointRepository(db *PostgresDB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

const upsertEndpointSQL = `
	INSERT INTO endpoint (address, provider, kind)
	VALUES ($1, $2, $3)
	ON CONFLICT (address, kind) DO UPDATE SET provider = EXCLUDED.provider
	RETURNING id
`

// UpsertMany inserts endpoints keyed by (address, kind) and returns their ids
// in input order. An existing row only has its provider replaced.
func (r *EndpointRepository) UpsertMany(ctx context.Context, q Querier, endpoints []models.Endpoint) ([]int64, error) {
	if len(endpoints) == 0 {
		return nil, nil
	}

	// One statement per endpoint: a single multi-row upsert fails when the
	// same (address, kind) appears twice in one document.
	batch := &pgx.Batch{}
	for _, e := range endpoints {
		provider := e.Provider
		if provider == "" {
			provider = models.DefaultProvider
		}
		batch.Queue(upsertEndpointSQL, e.Address, provider, string(e.Kind))
	}

	br := q.SendBatch(ctx, batch)
	defer func() {
		_ = br.Close()
	}()

	ids := make([]int64, 0, len(endpoints))
	for _, e := range endpoints {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to upsert endpoint %s (%s): %w", e.Address, e.Kind, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// LinkToChain associates endpoints with a chain row; existing pairs are ignored
func (r *EndpointRepository) LinkToChain(ctx context.Context, q Querier, chainID int64, endpointIDs []int64) error {
	if len(endpointIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO chain_endpoint (chain_id, endpoint_id)
		SELECT DISTINCT $1::bigint, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`
	if _, err := q.Exec(ctx, query, chainID, endpointIDs); err != nil {
		return fmt.Errorf("failed to link endpoints to chain %d: %w", chainID, err)
	}
	return nil
}

func kindStrings(kinds []types.EndpointKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// ForLatestChain returns the endpoints linked to the most recent import of a chain
func (r *EndpointRepository) ForLatestChain(ctx context.Context, network types.Network, name string, kinds []types.EndpointKind, aliveOnly bool) ([]models.ChainEndpoint, error) {
	query := `
		WITH recent AS (
			SELECT id, name, network, commit, created_at FROM chain
			WHERE name = $1 AND network = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		SELECT e.id, e.address, e.provider, e.kind, e.is_alive, e.checked_at, e.created_at,
			   recent.name AS chain_name, recent.network, recent.commit, recent.created_at AS chain_created_at
		FROM recent
		JOIN chain_endpoint ce ON ce.chain_id = recent.id
		JOIN endpoint e ON e.id = ce.endpoint_id
		WHERE (cardinality($3::text[]) = 0 OR e.kind = ANY($3::text[]))
		  AND (NOT $4::boolean OR e.is_alive)
		ORDER BY e.kind, e.address
	`

	rows, err := r.db.Pool().Query(ctx, query, name, string(network), kindStrings(kinds), aliveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain endpoints: %w", err)
	}

	return collectChainEndpoints(rows)
}

// RecentForProbe returns the distinct endpoints linked to chains of the most
// recent commit, optionally narrowed by network, chain name and kind.
func (r *EndpointRepository) RecentForProbe(ctx context.Context, filter models.EndpointFilter) ([]models.Endpoint, error) {
	var network *string
	if filter.Network != nil {
		n := string(*filter.Network)
		network = &n
	}

	query := `
		WITH recent_commit AS (
			SELECT commit FROM chain ORDER BY created_at DESC, id DESC LIMIT 1
		)
		SELECT DISTINCT e.id, e.address, e.provider, e.kind, e.is_alive, e.checked_at, e.created_at
		FROM endpoint e
		JOIN chain_endpoint ce ON ce.endpoint_id = e.id
		JOIN chain c ON c.id = ce.chain_id
		WHERE c.commit = (SELECT commit FROM recent_commit)
		  AND ($1::text IS NULL OR c.network = $1::text)
		  AND ($2::text = '' OR c.name = $2::text)
		  AND (cardinality($3::text[]) = 0 OR e.kind = ANY($3::text[]))
		  AND (NOT $4::boolean OR e.is_alive)
		ORDER BY e.id
	`

	rows, err := r.db.Pool().Query(ctx, query, network, filter.ChainName, kindStrings(filter.Kinds), filter.AliveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints for probing: %w", err)
	}

	endpoints, err := pgx.CollectRows(rows, scanEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to scan endpoints: %w", err)
	}
	return endpoints, nil
}

// UpdateLiveness records one probe verdict on a connection of its own.
// An older verdict never overwrites a newer one.
func (r *EndpointRepository) UpdateLiveness(ctx context.Context, result models.LivenessResult) error {
	return r.db.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE endpoint SET is_alive = $2, checked_at = $3
			WHERE id = $1 AND (checked_at IS NULL OR checked_at <= $3)
		`, result.EndpointID, result.IsAlive, result.CheckedAt)
		if err != nil {
			return fmt.Errorf("failed to update liveness of endpoint %d: %w", result.EndpointID, err)
		}
		return nil
	})
}

// Get returns a single endpoint by id
func (r *EndpointRepository) Get(ctx context.Context, id int64) (*models.Endpoint, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, address, provider, kind, is_alive, checked_at, created_at
		FROM endpoint WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}

	endpoint, err := pgx.CollectExactlyOneRow(rows, scanEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint %d: %w", id, err)
	}
	return &endpoint, nil
}

func scanEndpoint(row pgx.CollectableRow) (models.Endpoint, error) {
	var (
		e         models.Endpoint
		kind      string
		checkedAt *time.Time
	)
	err := row.Scan(&e.ID, &e.Address, &e.Provider, &kind, &e.IsAlive, &checkedAt, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.Kind = types.EndpointKind(kind)
	e.CheckedAt = checkedAt
	return e, nil
}

func collectChainEndpoints(rows pgx.Rows) ([]models.ChainEndpoint, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ChainEndpoint, error) {
		var (
			ce      models.ChainEndpoint
			kind    string
			network string
		)
		err := row.Scan(
			&ce.ID, &ce.Address, &ce.Provider, &kind, &ce.IsAlive, &ce.CheckedAt, &ce.CreatedAt,
			&ce.ChainName, &network, &ce.Commit, &ce.ChainAt,
		)
		ce.Kind = types.EndpointKind(kind)
		ce.Network = types.Network(network)
		return ce, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chain endpoints: %w", err)
	}
	return out, nil
}
