// Package types provides common type definitions for the chain registry system.
package types

import (
	"fmt"
	"strings"
)

// Network represents a chain registry network label
type Network string

const (
	// NetworkMainnet represents chains listed at the registry root
	NetworkMainnet Network = "mainnet"
	// NetworkTestnet represents chains listed under testnets/
	NetworkTestnet Network = "testnet"
)

// Networks lists every supported network in ingestion order
var Networks = []Network{NetworkMainnet, NetworkTestnet}

// ParseNetwork validates a raw network label
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkMainnet:
		return NetworkMainnet, nil
	case NetworkTestnet:
		return NetworkTestnet, nil
	default:
		return "", &ServiceError{
			Code:    "INVALID_NETWORK",
			Message: fmt.Sprintf("invalid network %q: must be mainnet or testnet", s),
			Details: map[string]interface{}{"network": s},
		}
	}
}

// String implements fmt.Stringer
func (n Network) String() string {
	return string(n)
}

// EndpointKind represents the service an endpoint offers
type EndpointKind string

const (
	// KindPeer is a persistent peer
	KindPeer EndpointKind = "peer"
	// KindSeed is a seed node
	KindSeed EndpointKind = "seed"
	// KindRPC is a Tendermint RPC endpoint
	KindRPC EndpointKind = "rpc"
	// KindREST is an LCD/REST endpoint
	KindREST EndpointKind = "rest"
	// KindGRPC is a gRPC endpoint
	KindGRPC EndpointKind = "grpc"
)

// EndpointKinds lists every endpoint kind
var EndpointKinds = []EndpointKind{KindPeer, KindSeed, KindRPC, KindREST, KindGRPC}

// ParseEndpointKind validates a raw endpoint kind read from storage
func ParseEndpointKind(s string) (EndpointKind, error) {
	for _, k := range EndpointKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown endpoint kind %q", s)
}

// Field returns the chain.json key holding endpoints of this kind.
// Peer kinds live under "peers", API kinds under "apis".
func (k EndpointKind) Field() string {
	switch k {
	case KindPeer:
		return "persistent_peers"
	case KindSeed:
		return "seeds"
	default:
		return string(k)
	}
}

// IsPeer reports whether the kind is a p2p peer (seed or persistent)
func (k EndpointKind) IsPeer() bool {
	return k == KindPeer || k == KindSeed
}

// String implements fmt.Stringer
func (k EndpointKind) String() string {
	return string(k)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
