package models

import (
	"encoding/json"
	"time"

	"github.com/chain-registry/internal/types"
)

// Chain is one chain directory imported at a specific registry commit.
// One row per (name, network, commit).
type Chain struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Network   types.Network   `json:"network" db:"network"`
	Commit    string          `json:"commit" db:"commit"`
	ChainData json.RawMessage `json:"chainData" db:"chain_data"`
	AssetData json.RawMessage `json:"assetData" db:"asset_data"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// Meta describes which import a query result came from
type Meta struct {
	Commit    string    `json:"commit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainView is the most recent import of a single chain
type ChainView struct {
	Meta      Meta            `json:"meta"`
	Name      string          `json:"name"`
	Network   types.Network   `json:"network"`
	ChainData json.RawMessage `json:"chainData"`
	AssetData json.RawMessage `json:"assetData"`
}

// ChainList holds the chain names of a network's most recent commit
type ChainList struct {
	Meta    Meta          `json:"meta"`
	Network types.Network `json:"network"`
	Names   []string      `json:"names"`
}

// CommitStat is the newest created_at seen for a commit, used by retention
type CommitStat struct {
	Commit   string    `db:"commit"`
	LastSeen time.Time `db:"last_seen"`
}
