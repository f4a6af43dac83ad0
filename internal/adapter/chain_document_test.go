package adapter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/models"
	"github.com/chain-registry/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cosmoshubJSON = `{
  "chain_name": "cosmoshub",
  "chain_id": "cosmoshub-4",
  "peers": {
    "seeds": [
      {"id": "s1", "address": "seed1.example.com:26656", "provider": "Polkachu"},
      {"id": "s2", "address": "seed2.example.com:26656"},
      {"address": "missing-id.example.com:26656"},
      {"id": "s3"},
      "not an object"
    ],
    "persistent_peers": [
      {"id": "p1", "address": "10.0.0.1:26656"}
    ]
  },
  "apis": {
    "rpc": [{"address": "https://rpc.example.com", "provider": "Lava"}],
    "rest": [{"address": ""}],
    "grpc": [{"address": "grpc.example.com:443"}]
  }
}`

func TestParseChainDocument(t *testing.T) {
	doc, err := ParseChainDocument([]byte(cosmoshubJSON))
	require.NoError(t, err)

	assert.Equal(t, "cosmoshub-4", doc.ChainID)
	assert.Len(t, doc.Seeds, 4, "the non-object entry is dropped")
	assert.Len(t, doc.PersistentPeers, 1)
	assert.Len(t, doc.RPC, 1)
}

func TestParseChainDocument_RejectsNonObjects(t *testing.T) {
	for _, input := range []string{``, `[]`, `"cosmoshub"`, `null`, `{"chain_id":`} {
		_, err := ParseChainDocument([]byte(input))
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseChainDocument_NoPeers(t *testing.T) {
	doc, err := ParseChainDocument([]byte(`{"chain_id":"x-1"}`))
	require.NoError(t, err)
	assert.Empty(t, ExtractEndpoints(doc))
}

func TestParseChainDocument_UnexpectedShapes(t *testing.T) {
	t.Run("numeric chain_id", func(t *testing.T) {
		doc, err := ParseChainDocument([]byte(`{"chain_id":7,"peers":{"seeds":[{"id":"s1","address":"a:1"}]}}`))
		require.NoError(t, err)
		assert.Empty(t, doc.ChainID)
		assert.Len(t, doc.Seeds, 1)
	})

	t.Run("seeds is an object", func(t *testing.T) {
		doc, err := ParseChainDocument([]byte(`{
			"chain_id": "x-1",
			"peers": {
				"seeds": {"id": "s1", "address": "a:1"},
				"persistent_peers": [{"id": "p1", "address": "b:1"}]
			}
		}`))
		require.NoError(t, err)
		assert.Empty(t, doc.Seeds)
		assert.Equal(t, []models.Endpoint{
			{Address: "p1@b:1", Provider: models.DefaultProvider, Kind: types.KindPeer},
		}, ExtractEndpoints(doc))
	})

	t.Run("peers is an array", func(t *testing.T) {
		doc, err := ParseChainDocument([]byte(`{
			"chain_id": "x-1",
			"peers": [],
			"apis": {"rpc": [{"address": "https://rpc.x"}], "rest": "nope"}
		}`))
		require.NoError(t, err)
		assert.Empty(t, doc.Seeds)
		assert.Empty(t, doc.PersistentPeers)
		assert.Len(t, doc.RPC, 1)
		assert.Empty(t, doc.REST)
	})
}

func TestLoadChain_KeepsChainWithOddPeers(t *testing.T) {
	dir := writeChain(t, t.TempDir(), "odd", `{"chain_id":7,"peers":[]}`, "")
	chain, doc, err := LoadChain(dir, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "odd", chain.Name)
	assert.JSONEq(t, `{"chain_id":7,"peers":[]}`, string(chain.ChainData))
	assert.Empty(t, ExtractEndpoints(doc))
}

func TestExtractEndpoints(t *testing.T) {
	doc, err := ParseChainDocument([]byte(cosmoshubJSON))
	require.NoError(t, err)

	endpoints := ExtractEndpoints(doc)
	assert.Equal(t, []models.Endpoint{
		{Address: "s1@seed1.example.com:26656", Provider: "Polkachu", Kind: types.KindSeed},
		{Address: "s2@seed2.example.com:26656", Provider: models.DefaultProvider, Kind: types.KindSeed},
		{Address: "p1@10.0.0.1:26656", Provider: models.DefaultProvider, Kind: types.KindPeer},
		{Address: "https://rpc.example.com", Provider: "Lava", Kind: types.KindRPC},
		{Address: "grpc.example.com:443", Provider: models.DefaultProvider, Kind: types.KindGRPC},
	}, endpoints)
}

func TestDeriveAddressProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("address is id@address and re-derivation is stable", prop.ForAll(
		func(id, addr string) bool {
			a := DeriveAddress(id, addr)
			return a == id+"@"+addr && a == DeriveAddress(id, addr)
		},
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.Property("the node id is recoverable when it has no @", prop.ForAll(
		func(id, addr string) bool {
			a := DeriveAddress(id, addr)
			i := strings.Index(a, "@")
			return a[:i] == id && a[i+1:] == addr
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func writeChain(t *testing.T, root, name, chainJSON, assetJSON string) ChainDir {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if chainJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chain.json"), []byte(chainJSON), 0o644))
	}
	if assetJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "assetlist.json"), []byte(assetJSON), 0o644))
	}
	return ChainDir{Name: name, Network: types.NetworkMainnet, Path: dir}
}

func TestLoadChain(t *testing.T) {
	root := t.TempDir()

	t.Run("asset list defaults to an empty object", func(t *testing.T) {
		dir := writeChain(t, root, "cosmoshub", `{"chain_id":"cosmoshub-4"}`, "")
		chain, doc, err := LoadChain(dir, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "cosmoshub", chain.Name)
		assert.Equal(t, "abc123", chain.Commit)
		assert.JSONEq(t, `{}`, string(chain.AssetData))
		assert.Equal(t, "cosmoshub-4", doc.ChainID)
	})

	t.Run("asset list is stored verbatim", func(t *testing.T) {
		dir := writeChain(t, root, "osmosis", `{"chain_id":"osmosis-1"}`, `{"stub":"data"}`)
		chain, _, err := LoadChain(dir, "abc123")
		require.NoError(t, err)
		assert.JSONEq(t, `{"stub":"data"}`, string(chain.AssetData))
	})

	t.Run("missing chain.json", func(t *testing.T) {
		dir := writeChain(t, root, "empty", "", "")
		_, _, err := LoadChain(dir, "abc123")
		assert.True(t, apperrors.IsUserError(err))
	})

	t.Run("malformed chain.json", func(t *testing.T) {
		dir := writeChain(t, root, "broken", `{"chain_id":`, "")
		_, _, err := LoadChain(dir, "abc123")
		assert.True(t, apperrors.IsUserError(err))
	})

	t.Run("malformed assetlist.json", func(t *testing.T) {
		dir := writeChain(t, root, "badassets", `{"chain_id":"x"}`, `{nope`)
		_, _, err := LoadChain(dir, "abc123")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "assetlist.json")
	})
}
