package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParseNetworkProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("only mainnet and testnet are accepted", prop.ForAll(
		func(s string) bool {
			n, err := ParseNetwork(s)
			norm := strings.ToLower(strings.TrimSpace(s))
			if norm == "mainnet" || norm == "testnet" {
				return err == nil && string(n) == norm
			}
			return err != nil && n == ""
		},
		gen.OneGenOf(gen.AnyString(), gen.OneConstOf("mainnet", "testnet", "MAINNET", " testnet")),
	))

	properties.Property("endpoint kinds round-trip through their string form", prop.ForAll(
		func(k EndpointKind) bool {
			got, err := ParseEndpointKind(k.String())
			return err == nil && got == k
		},
		gen.OneConstOf(KindPeer, KindSeed, KindRPC, KindREST, KindGRPC),
	))

	properties.TestingRun(t)
}
