// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/service"
	"github.com/chain-registry/internal/types"
	"github.com/gorilla/mux"
)

// QueryServiceInterface defines the read operations served over HTTP
type QueryServiceInterface interface {
	GetChain(ctx context.Context, network types.Network, name string) (*models.ChainView, error)
	ListChains(ctx context.Context, network types.Network) (*models.ChainList, error)
	ListPeers(ctx context.Context, network types.Network, name string, includeAll bool) (*models.PeerList, error)
	ListAPIs(ctx context.Context, network types.Network, name string, includeAll bool) (*models.APIList, error)
	Stats() *service.PerformanceStats
}

// IngestRunReader reads the ingest run ledger
type IngestRunReader interface {
	Latest(ctx context.Context) (*models.IngestRun, error)
}

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	queryService QueryServiceInterface
	ingestRuns   IngestRunReader
	dependencies map[string]Pinger
	config       *ServerConfig

	rateLimiter  *RateLimiter
	janitorCtx   context.Context
	stopJanitor  context.CancelFunc
	startJanitor sync.Once
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int // per client
	Burst             int
	TrustProxy        bool // key clients by X-Forwarded-For
}

// NewServer creates a new API server instance. dependencies are pinged by
// /health and may be empty.
func NewServer(config *ServerConfig, queryService QueryServiceInterface, dependencies map[string]Pinger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		queryService: queryService,
		dependencies: dependencies,
		config:       config,
		rateLimiter:  NewRateLimiter(config.RequestsPerSecond, config.Burst).TrustProxy(config.TrustProxy),
	}
	s.janitorCtx, s.stopJanitor = context.WithCancel(context.Background())

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(s.rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/ingest/latest", s.handleLatestIngest).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/{network}", s.handleListChains).Methods("GET")
	v1.HandleFunc("/{network}/chains", s.handleListChains).Methods("GET")
	v1.HandleFunc("/{network}/{chain}", s.handleGetChain).Methods("GET")
	v1.HandleFunc("/{network}/{chain}/assetlist", s.handleGetAssetList).Methods("GET")

	v1.HandleFunc("/{network}/{chain}/peers", s.handleListPeers).Methods("GET")
	v1.HandleFunc("/{network}/{chain}/peers/seed_string", s.handleSeedString).Methods("GET")
	v1.HandleFunc("/{network}/{chain}/peers/persistent_peer_string", s.handlePersistentPeerString).Methods("GET")

	v1.HandleFunc("/{network}/{chain}/apis", s.handleListAPIs).Methods("GET")
}

// handleHealth reports healthy when every dependency answers a ping
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.dependencies))
	for name, dep := range s.dependencies {
		if err := dep.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).WithField("dependency", name).Warn("Health check failed")
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{
		"status":  "healthy",
		"service": "chain-registry",
		"checks":  checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	respondJSON(w, status, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.queryService.Stats())
}

// WithIngestRuns enables /ingest/latest
func (s *Server) WithIngestRuns(runs IngestRunReader) *Server {
	s.ingestRuns = runs
	return s
}

func (s *Server) handleLatestIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestRuns == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "ingest history is not available", nil)
		return
	}
	run, err := s.ingestRuns.Latest(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and the rate limiter janitor.
func (s *Server) Start() error {
	s.startJanitor.Do(func() {
		go s.rateLimiter.RunJanitor(s.janitorCtx, janitorInterval, clientIdleTTL)
	})
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	s.stopJanitor()
	return s.httpServer.Shutdown(ctx)
}
