package api

import (
	"fmt"
	"net/http"

	"github.com/chain-registry/internal/types"
	"github.com/gorilla/mux"
)

// ChainListItem is one entry of /v1/{network}/chains
type ChainListItem struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// networkVar reads and validates the {network} path segment
func networkVar(r *http.Request) (types.Network, error) {
	return types.ParseNetwork(mux.Vars(r)["network"])
}

// handleListChains handles GET /v1/{network} and /v1/{network}/chains
func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	list, err := s.queryService.ListChains(r.Context(), network)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	items := make([]ChainListItem, 0, len(list.Names))
	for _, name := range list.Names {
		items = append(items, ChainListItem{
			Name: name,
			Path: fmt.Sprintf("/v1/%s/%s", network, name),
		})
	}

	respondJSON(w, http.StatusOK, Response{Meta: list.Meta, Result: items})
}

// handleGetChain handles GET /v1/{network}/{chain}
func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	view, err := s.queryService.GetChain(r.Context(), network, mux.Vars(r)["chain"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{Meta: view.Meta, Result: view.ChainData})
}

// handleGetAssetList handles GET /v1/{network}/{chain}/assetlist
func (s *Server) handleGetAssetList(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	view, err := s.queryService.GetChain(r.Context(), network, mux.Vars(r)["chain"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{Meta: view.Meta, Result: view.AssetData})
}
