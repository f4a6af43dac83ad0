package service

import (
	"context"
	"time"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/storage"
	"github.com/chain-registry/internal/types"
	"golang.org/x/sync/singleflight"
)

// ChainReader reads the most recent chain imports
type ChainReader interface {
	LatestByName(ctx context.Context, network types.Network, name string) (*models.Chain, error)
	LatestNames(ctx context.Context, network types.Network) (*models.ChainList, error)
}

// EndpointReader reads the endpoints linked to a chain
type EndpointReader interface {
	ForLatestChain(ctx context.Context, network types.Network, name string, kinds []types.EndpointKind, aliveOnly bool) ([]models.ChainEndpoint, error)
}

var (
	peerKinds = []types.EndpointKind{types.KindSeed, types.KindPeer}
	apiKinds  = []types.EndpointKind{types.KindRPC, types.KindREST, types.KindGRPC}
)

// QueryService serves the read paths of the HTTP layer, scoped to the most
// recent commit of each network. Results are cached when a cache is given.
type QueryService struct {
	chains      ChainReader
	endpoints   EndpointReader
	cache       *storage.CacheService
	perfMonitor *PerformanceMonitor
	inflight    singleflight.Group
	loadTimeout time.Duration
}

// defaultLoadTimeout bounds a shared database load, which outlives the
// request that started it
const defaultLoadTimeout = 30 * time.Second

// NewQueryService creates a new query service; cache may be nil
func NewQueryService(chains ChainReader, endpoints EndpointReader, cache *storage.CacheService) *QueryService {
	return &QueryService{
		chains:      chains,
		endpoints:   endpoints,
		cache:       cache,
		perfMonitor: NewPerformanceMonitor(),
		loadTimeout: defaultLoadTimeout,
	}
}

// GetChain returns the chain and asset documents of a chain's most recent import
func (s *QueryService) GetChain(ctx context.Context, network types.Network, name string) (*models.ChainView, error) {
	if name == "" {
		return nil, apperrors.NewInvalidParameterError("chain", "must not be empty")
	}

	return cached(ctx, s, s.cacheKey(func(c *storage.CacheService) string { return c.ChainKey(network, name) }),
		func(ctx context.Context) (*models.ChainView, error) {
			chain, err := s.chains.LatestByName(ctx, network, name)
			if err != nil {
				return nil, err
			}
			return &models.ChainView{
				Meta:      models.Meta{Commit: chain.Commit, UpdatedAt: chain.CreatedAt},
				Name:      chain.Name,
				Network:   chain.Network,
				ChainData: chain.ChainData,
				AssetData: chain.AssetData,
			}, nil
		})
}

// ListChains returns the chain names of a network's most recent commit
func (s *QueryService) ListChains(ctx context.Context, network types.Network) (*models.ChainList, error) {
	return cached(ctx, s, s.cacheKey(func(c *storage.CacheService) string { return c.ChainListKey(network) }),
		func(ctx context.Context) (*models.ChainList, error) {
			list, err := s.chains.LatestNames(ctx, network)
			if err != nil {
				return nil, err
			}
			if len(list.Names) == 0 {
				return nil, apperrors.NewNotFoundError("network", string(network))
			}
			return list, nil
		})
}

// ListPeers returns the seeds and persistent peers of a chain's most recent
// import. Only live peers are listed unless includeAll is set; an empty
// result is NotFound.
func (s *QueryService) ListPeers(ctx context.Context, network types.Network, name string, includeAll bool) (*models.PeerList, error) {
	return cached(ctx, s, s.cacheKey(func(c *storage.CacheService) string { return c.PeersKey(network, name, includeAll) }),
		func(ctx context.Context) (*models.PeerList, error) {
			rows, err := s.endpoints.ForLatestChain(ctx, network, name, peerKinds, !includeAll)
			if err != nil {
				return nil, apperrors.NewDatabaseError("list peers", err)
			}
			if len(rows) == 0 {
				return nil, apperrors.NewNotFoundError("peers", string(network)+"/"+name)
			}

			list := &models.PeerList{Meta: metaOf(rows), Seeds: []string{}, Persistent: []string{}}
			for _, r := range rows {
				switch r.Kind {
				case types.KindSeed:
					list.Seeds = append(list.Seeds, r.Address)
				case types.KindPeer:
					list.Persistent = append(list.Persistent, r.Address)
				}
			}
			return list, nil
		})
}

// ListAPIs returns the rpc, rest and grpc endpoints of a chain's most recent
// import, with the same liveness filter as ListPeers.
func (s *QueryService) ListAPIs(ctx context.Context, network types.Network, name string, includeAll bool) (*models.APIList, error) {
	return cached(ctx, s, s.cacheKey(func(c *storage.CacheService) string { return c.APIsKey(network, name, includeAll) }),
		func(ctx context.Context) (*models.APIList, error) {
			rows, err := s.endpoints.ForLatestChain(ctx, network, name, apiKinds, !includeAll)
			if err != nil {
				return nil, apperrors.NewDatabaseError("list apis", err)
			}
			if len(rows) == 0 {
				return nil, apperrors.NewNotFoundError("apis", string(network)+"/"+name)
			}

			list := &models.APIList{Meta: metaOf(rows), RPC: []string{}, REST: []string{}, GRPC: []string{}}
			for _, r := range rows {
				switch r.Kind {
				case types.KindRPC:
					list.RPC = append(list.RPC, r.Address)
				case types.KindREST:
					list.REST = append(list.REST, r.Address)
				case types.KindGRPC:
					list.GRPC = append(list.GRPC, r.Address)
				}
			}
			return list, nil
		})
}

// Stats returns query latency and cache statistics
func (s *QueryService) Stats() *PerformanceStats {
	return s.perfMonitor.GetStats()
}

func metaOf(rows []models.ChainEndpoint) models.Meta {
	return models.Meta{Commit: rows[0].Commit, UpdatedAt: rows[0].ChainAt}
}

func (s *QueryService) cacheKey(fn func(c *storage.CacheService) string) string {
	if s.cache == nil {
		return ""
	}
	return fn(s.cache)
}

// cached serves key from the cache or calls load and stores its result.
// Cache failures are logged and fall through to the database. An empty key
// means no cache is configured.
//
// Concurrent misses on one key share a single load. The shared load runs
// detached from any one caller's cancellation, and each caller stops waiting
// when its own context ends. A result is only stored if no invalidation
// happened while it was loading.
func cached[T any](ctx context.Context, s *QueryService, key string, load func(ctx context.Context) (*T, error)) (*T, error) {
	start := time.Now()
	logger := logging.FromContext(ctx)

	if key == "" {
		result, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.perfMonitor.RecordQuery(time.Since(start), false)
		return result, nil
	}

	var hit T
	found, err := s.cache.Get(ctx, key, &hit)
	if err != nil {
		logger.WithError(err).WithField("key", key).Warn("Cache read failed, querying database")
	} else if found {
		s.perfMonitor.RecordQuery(time.Since(start), true)
		return &hit, nil
	}

	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		generation, genErr := s.cache.Generation(loadCtx)
		result, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if genErr != nil {
			logger.WithError(genErr).WithField("key", key).Warn("Cache generation unavailable, not caching result")
			return result, nil
		}
		if _, err := s.cache.SetIfGeneration(loadCtx, key, result, generation); err != nil {
			logger.WithError(err).WithField("key", key).Warn("Failed to cache query result")
		}
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s.perfMonitor.RecordQuery(time.Since(start), false)
		return res.Val.(*T), nil
	}
}
