package config

import "github.com/goccy/go-json"

// marshalStable serializes cfg deterministically. Map keys (tiers) are
// sorted by the JSON encoder, so two structurally identical configs
// always hash the same regardless of map iteration order.
func marshalStable(cfg *RoutingConfig) ([]byte, error) {
	return json.Marshal(cfg)
}
