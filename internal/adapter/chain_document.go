package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/types"
)

const (
	chainFile     = "chain.json"
	assetListFile = "assetlist.json"
)

// PeerEntry is one element of peers.seeds or peers.persistent_peers
type PeerEntry struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Provider string `json:"provider,omitempty"`
}

// APIEntry is one element of apis.rpc, apis.rest or apis.grpc
type APIEntry struct {
	Address  string `json:"address"`
	Provider string `json:"provider,omitempty"`
}

// ChainDocument is the part of chain.json the pipeline reads.
// The full document is stored verbatim alongside it.
type ChainDocument struct {
	ChainID         string
	Seeds           []PeerEntry
	PersistentPeers []PeerEntry
	RPC             []APIEntry
	REST            []APIEntry
	GRPC            []APIEntry
}

var errNotObject = errors.New("document is not a JSON object")

// ParseChainDocument parses chain.json. The document must be a JSON object.
// Anything below the top level is read leniently: a chain_id that is not a
// string, a peers or apis section that is not an object, a list that is not
// an array, and entries that do not decode are all ignored.
func ParseChainDocument(data []byte) (*ChainDocument, error) {
	if !isJSONObject(data) {
		return nil, errNotObject
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	doc := &ChainDocument{}
	_ = json.Unmarshal(top["chain_id"], &doc.ChainID)

	peers := decodeSection(top["peers"])
	apis := decodeSection(top["apis"])
	list := func(kind types.EndpointKind) []json.RawMessage {
		section := apis
		if kind.IsPeer() {
			section = peers
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(section[kind.Field()], &entries); err != nil {
			return nil
		}
		return entries
	}

	doc.Seeds = decodeEntries[PeerEntry](list(types.KindSeed))
	doc.PersistentPeers = decodeEntries[PeerEntry](list(types.KindPeer))
	doc.RPC = decodeEntries[APIEntry](list(types.KindRPC))
	doc.REST = decodeEntries[APIEntry](list(types.KindREST))
	doc.GRPC = decodeEntries[APIEntry](list(types.KindGRPC))
	return doc, nil
}

func decodeSection(raw json.RawMessage) map[string]json.RawMessage {
	var section map[string]json.RawMessage
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil
	}
	return section
}

func decodeEntries[T any](raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var entry T
		if err := json.Unmarshal(r, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func isJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// DeriveAddress builds the canonical peer address "<node id>@<host:port>"
func DeriveAddress(nodeID, address string) string {
	return nodeID + "@" + address
}

// ExtractEndpoints turns the peers and apis of a chain document into
// endpoints. Peers missing an id or address and apis missing an address
// are skipped; a missing provider becomes models.DefaultProvider.
func ExtractEndpoints(doc *ChainDocument) []models.Endpoint {
	var out []models.Endpoint

	addPeers := func(entries []PeerEntry, kind types.EndpointKind) {
		for _, p := range entries {
			if p.ID == "" || p.Address == "" {
				continue
			}
			out = append(out, models.Endpoint{
				Address:  DeriveAddress(p.ID, p.Address),
				Provider: providerOrDefault(p.Provider),
				Kind:     kind,
			})
		}
	}
	addAPIs := func(entries []APIEntry, kind types.EndpointKind) {
		for _, a := range entries {
			if a.Address == "" {
				continue
			}
			out = append(out, models.Endpoint{
				Address:  a.Address,
				Provider: providerOrDefault(a.Provider),
				Kind:     kind,
			})
		}
	}

	addPeers(doc.Seeds, types.KindSeed)
	addPeers(doc.PersistentPeers, types.KindPeer)
	addAPIs(doc.RPC, types.KindRPC)
	addAPIs(doc.REST, types.KindREST)
	addAPIs(doc.GRPC, types.KindGRPC)

	return out
}

func providerOrDefault(provider string) string {
	if provider == "" {
		return models.DefaultProvider
	}
	return provider
}

// LoadChain reads chain.json (required) and assetlist.json (optional, "{}"
// when absent) from a chain directory.
func LoadChain(dir ChainDir, commit string) (*models.Chain, *ChainDocument, error) {
	chainData, err := os.ReadFile(filepath.Join(dir.Path, chainFile))
	if err != nil {
		return nil, nil, apperrors.NewMalformedDocumentError(dir.Name, dir.Network, chainFile, err)
	}

	doc, err := ParseChainDocument(chainData)
	if err != nil {
		return nil, nil, apperrors.NewMalformedDocumentError(dir.Name, dir.Network, chainFile, err)
	}

	assetData, err := os.ReadFile(filepath.Join(dir.Path, assetListFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		assetData = []byte("{}")
	case err != nil:
		return nil, nil, apperrors.NewMalformedDocumentError(dir.Name, dir.Network, assetListFile, err)
	case !json.Valid(assetData):
		return nil, nil, apperrors.NewMalformedDocumentError(dir.Name, dir.Network, assetListFile,
			fmt.Errorf("invalid JSON"))
	}

	return &models.Chain{
		Name:      dir.Name,
		Network:   dir.Network,
		Commit:    commit,
		ChainData: json.RawMessage(bytes.TrimSpace(chainData)),
		AssetData: json.RawMessage(bytes.TrimSpace(assetData)),
	}, doc, nil
}
