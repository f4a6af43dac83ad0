package models

import (
	"time"

	"github.com/chain-registry/internal/types"
)

// DefaultProvider labels endpoints whose provider is not listed upstream
const DefaultProvider = "Unknown"

// Endpoint is a network-reachable address offering one service kind.
// Identity is (address, kind); only provider and liveness change after insert.
type Endpoint struct {
	ID        int64              `json:"id" db:"id"`
	Address   string             `json:"address" db:"address"`
	Provider  string             `json:"provider" db:"provider"`
	Kind      types.EndpointKind `json:"kind" db:"kind"`
	IsAlive   bool               `json:"isAlive" db:"is_alive"`
	CheckedAt *time.Time         `json:"checkedAt,omitempty" db:"checked_at"`
	CreatedAt time.Time          `json:"createdAt" db:"created_at"`
}

// ChainEndpoint is an endpoint as seen through the chain row it is linked to
type ChainEndpoint struct {
	Endpoint
	ChainName string        `json:"chainName" db:"chain_name"`
	Network   types.Network `json:"network" db:"network"`
	Commit    string        `json:"commit" db:"commit"`
	ChainAt   time.Time     `json:"chainAt" db:"chain_created_at"`
}

// EndpointFilter narrows the endpoints considered by a query or probe run
type EndpointFilter struct {
	Network   *types.Network
	ChainName string
	Kinds     []types.EndpointKind
	AliveOnly bool
}

// PeerList is the seed and persistent peer addresses of a chain
type PeerList struct {
	Meta       Meta     `json:"meta"`
	Seeds      []string `json:"seeds"`
	Persistent []string `json:"persistent"`
}

// APIList is the rpc, rest and grpc addresses of a chain
type APIList struct {
	Meta Meta     `json:"meta"`
	RPC  []string `json:"rpc"`
	REST []string `json:"rest"`
	GRPC []string `json:"grpc"`
}

// LivenessResult is the outcome of one endpoint probe
type LivenessResult struct {
	EndpointID int64
	IsAlive    bool
	CheckedAt  time.Time
}
