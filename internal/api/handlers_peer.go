package api

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/models"
	"github.com/gorilla/mux"
)

// PeerResult is the result of /peers
type PeerResult struct {
	Seeds      []string `json:"seeds"`
	Persistent []string `json:"persistent"`
}

// APIResult is the result of /apis
type APIResult struct {
	RPC  []string `json:"rpc"`
	REST []string `json:"rest"`
	GRPC []string `json:"grpc"`
}

// includeAll parses the optional include_all query parameter
func includeAll(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("include_all")
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewInvalidParameterError("include_all", "must be true or false")
	}
	return v, nil
}

func (s *Server) peers(r *http.Request) (*models.PeerList, error) {
	network, err := networkVar(r)
	if err != nil {
		return nil, err
	}
	all, err := includeAll(r)
	if err != nil {
		return nil, err
	}
	return s.queryService.ListPeers(r.Context(), network, mux.Vars(r)["chain"], all)
}

// handleListPeers handles GET /v1/{network}/{chain}/peers
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	list, err := s.peers(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Meta:   list.Meta,
		Result: PeerResult{Seeds: list.Seeds, Persistent: list.Persistent},
	})
}

// handleSeedString answers with the seeds joined for a node config file
func (s *Server) handleSeedString(w http.ResponseWriter, r *http.Request) {
	list, err := s.peers(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondText(w, strings.Join(list.Seeds, ","))
}

// handlePersistentPeerString answers with the persistent peers joined for a node config file
func (s *Server) handlePersistentPeerString(w http.ResponseWriter, r *http.Request) {
	list, err := s.peers(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondText(w, strings.Join(list.Persistent, ","))
}

// handleListAPIs handles GET /v1/{network}/{chain}/apis
func (s *Server) handleListAPIs(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	all, err := includeAll(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	list, err := s.queryService.ListAPIs(r.Context(), network, mux.Vars(r)["chain"], all)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Meta:   list.Meta,
		Result: APIResult{RPC: list.RPC, REST: list.REST, GRPC: list.GRPC},
	})
}

func respondText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
