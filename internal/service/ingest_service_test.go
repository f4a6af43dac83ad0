package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chain-registry/internal/adapter"
	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/storage"
	"github.com/chain-registry/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cosmoshubChainJSON has 7 seeds and 3 persistent peers
func cosmoshubChainJSON() string {
	var seeds, peers []string
	for i := 0; i < 7; i++ {
		seeds = append(seeds, fmt.Sprintf(`{"id":"seed%d","address":"seed%d.cosmos.example:26656","provider":"p%d"}`, i, i, i))
	}
	for i := 0; i < 3; i++ {
		peers = append(peers, fmt.Sprintf(`{"id":"peer%d","address":"peer%d.cosmos.example:26656"}`, i, i))
	}
	return fmt.Sprintf(`{"chain_id":"cosmoshub-4","peers":{"seeds":[%s],"persistent_peers":[%s]}}`,
		strings.Join(seeds, ","), strings.Join(peers, ","))
}

// registryFixture lays out a registry checkout on disk
func registryFixture(t *testing.T, commit string) *adapter.Checkout {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("cosmoshub/chain.json", cosmoshubChainJSON())
	write("cosmoshub/assetlist.json", `{"chain_name":"cosmoshub","assets":[]}`)
	write("broken/chain.json", `{"chain_id":`)
	write("testnets/theta/chain.json", `{"chain_id":"theta-testnet-001","peers":{"seeds":[{"id":"t","address":"theta.example:26656"}]}}`)

	mainnets, testnets, err := adapter.DiscoverChains(root)
	require.NoError(t, err)
	return &adapter.Checkout{Dir: root, Commit: commit, Mainnets: mainnets, Testnets: testnets, Owned: true}
}

type fakeSource struct {
	checkout *adapter.Checkout
	err      error
	calls    int
}

func (f *fakeSource) Fetch(ctx context.Context, remote, ref, dir string) (*adapter.Checkout, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.checkout, nil
}

// fakeTx records savepoint use; the writers below never touch it
type fakeTx struct {
	pgx.Tx
	parent     *fakeTx
	savepoints int
	rollbacks  int
	commits    int
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	f.savepoints++
	return &fakeTx{parent: f}, nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.parent != nil {
		f.parent.commits++
	}
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.parent != nil {
		f.parent.rollbacks++
	}
	return nil
}

type fakeTxRunner struct {
	tx    *fakeTx
	calls int
	err   error
}

func (f *fakeTxRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	f.calls++
	f.tx = &fakeTx{}
	if err := fn(f.tx); err != nil {
		return err
	}
	return f.err
}

type fakeChainWriter struct {
	stored []models.Chain
	failOn string
	keep   int
}

func (f *fakeChainWriter) Upsert(ctx context.Context, q storage.Querier, chain *models.Chain) (int64, error) {
	if chain.Name == f.failOn {
		return 0, errors.New("check constraint violated")
	}
	f.stored = append(f.stored, *chain)
	return int64(len(f.stored)), nil
}

func (f *fakeChainWriter) Prune(ctx context.Context, q storage.Querier, keep int) (int64, error) {
	f.keep = keep
	return 2, nil
}

type fakeEndpointWriter struct {
	upserted []models.Endpoint
	links    map[int64][]int64
}

func (f *fakeEndpointWriter) UpsertMany(ctx context.Context, q storage.Querier, endpoints []models.Endpoint) ([]int64, error) {
	ids := make([]int64, len(endpoints))
	for i, e := range endpoints {
		f.upserted = append(f.upserted, e)
		ids[i] = int64(len(f.upserted))
	}
	return ids, nil
}

func (f *fakeEndpointWriter) LinkToChain(ctx context.Context, q storage.Querier, chainID int64, ids []int64) error {
	if f.links == nil {
		f.links = map[int64][]int64{}
	}
	f.links[chainID] = append(f.links[chainID], ids...)
	return nil
}

type fakeLedger struct {
	started  int
	finished []models.IngestRun
}

func (f *fakeLedger) Start(ctx context.Context, run *models.IngestRun) error {
	f.started++
	run.ID = [16]byte{1}
	return nil
}

func (f *fakeLedger) Finish(ctx context.Context, run *models.IngestRun) error {
	f.finished = append(f.finished, *run)
	return nil
}

type fakeFullInvalidator struct{ calls int }

func (f *fakeFullInvalidator) InvalidateAll(ctx context.Context) error {
	f.calls++
	return nil
}

type ingestHarness struct {
	source    *fakeSource
	db        *fakeTxRunner
	chains    *fakeChainWriter
	endpoints *fakeEndpointWriter
	ledger    *fakeLedger
	cache     *fakeFullInvalidator
	svc       *IngestService
}

func newIngestHarness(t *testing.T) *ingestHarness {
	h := &ingestHarness{
		source:    &fakeSource{checkout: registryFixture(t, "abc123")},
		db:        &fakeTxRunner{},
		chains:    &fakeChainWriter{},
		endpoints: &fakeEndpointWriter{},
		ledger:    &fakeLedger{},
		cache:     &fakeFullInvalidator{},
	}
	h.svc = NewIngestService(h.source, h.db, h.chains, h.endpoints, h.ledger, h.cache)
	return h
}

func defaultIngestOptions() IngestOptions {
	return IngestOptions{Remote: "https://example.com/registry", Ref: "master", RetainCommits: 5}
}

func TestIngestService_Ingest(t *testing.T) {
	h := newIngestHarness(t)

	result, err := h.svc.Ingest(context.Background(), defaultIngestOptions())
	require.NoError(t, err)

	assert.Equal(t, "abc123", result.Commit)
	assert.Equal(t, 2, result.ChainsImported)
	assert.Equal(t, 1, result.ChainsFailed, "broken chain.json is skipped")
	assert.Equal(t, 11, result.EndpointsUpserted)
	assert.Equal(t, int64(2), result.ChainsPruned)
	assert.Equal(t, 5, h.chains.keep)

	require.Len(t, h.chains.stored, 2)
	assert.Equal(t, "cosmoshub", h.chains.stored[0].Name)
	assert.Equal(t, types.NetworkMainnet, h.chains.stored[0].Network)
	assert.Equal(t, "theta", h.chains.stored[1].Name)
	assert.Equal(t, types.NetworkTestnet, h.chains.stored[1].Network)
	assert.Len(t, h.endpoints.links[1], 10)

	assert.Equal(t, 2, h.db.tx.savepoints)
	assert.Equal(t, 2, h.db.tx.commits)
	assert.Equal(t, 1, h.cache.calls)

	require.Len(t, h.ledger.finished, 1)
	assert.Equal(t, models.IngestSucceeded, h.ledger.finished[0].Status)
	assert.Equal(t, 2, h.ledger.finished[0].ChainsImported)

	_, err = os.Stat(h.source.checkout.Dir)
	assert.True(t, os.IsNotExist(err), "clone is removed unless kept")
}

func TestIngestService_ChainFailureRollsBackToSavepoint(t *testing.T) {
	h := newIngestHarness(t)
	h.chains.failOn = "cosmoshub"

	result, err := h.svc.Ingest(context.Background(), defaultIngestOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChainsImported)
	assert.Equal(t, 2, result.ChainsFailed)
	assert.Equal(t, 1, h.db.tx.rollbacks)
	assert.Equal(t, 1, h.db.tx.commits)
}

func TestIngestService_KeepClone(t *testing.T) {
	h := newIngestHarness(t)
	opts := defaultIngestOptions()
	opts.KeepClone = true

	result, err := h.svc.Ingest(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, h.source.checkout.Dir, result.CloneDir)

	_, err = os.Stat(filepath.Join(result.CloneDir, "cosmoshub", "chain.json"))
	assert.NoError(t, err)
}

func TestIngestService_SourceFailureWritesNothing(t *testing.T) {
	h := newIngestHarness(t)
	h.source.err = apperrors.NewSourceError("https://example.com/registry", "master", errors.New("exit status 128"))

	_, err := h.svc.Ingest(context.Background(), defaultIngestOptions())
	require.Error(t, err)
	assert.Equal(t, apperrors.CategorySource, apperrors.Categorize(err).Category)

	assert.Zero(t, h.db.calls)
	assert.Zero(t, h.cache.calls)
	require.Len(t, h.ledger.finished, 1)
	assert.Equal(t, models.IngestFailed, h.ledger.finished[0].Status)
	require.NotNil(t, h.ledger.finished[0].Error)
}

func TestIngestService_CommitFailureIsFatal(t *testing.T) {
	h := newIngestHarness(t)
	h.db.err = errors.New("could not serialize access")

	_, err := h.svc.Ingest(context.Background(), defaultIngestOptions())
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryDatabase, apperrors.Categorize(err).Category)
	assert.Zero(t, h.cache.calls)
}

func TestIngestService_RejectsBadOptions(t *testing.T) {
	h := newIngestHarness(t)

	opts := defaultIngestOptions()
	opts.RetainCommits = 0
	_, err := h.svc.Ingest(context.Background(), opts)
	assert.True(t, apperrors.IsUserError(err))

	opts = defaultIngestOptions()
	opts.Ref = ""
	_, err = h.svc.Ingest(context.Background(), opts)
	assert.True(t, apperrors.IsUserError(err))

	assert.Zero(t, h.source.calls)
}
