package router

import (
	"hash/fnv"
	"math/rand/v2"
)

// rng abstracts the random source behind glm-5 staged rollout and trace
// sampling decisions, so dry-run/simulation paths can be made
// deterministic without threading a seed through every call site.
type rng interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

// prodRNG delegates to the process-wide math/rand/v2 source.
type prodRNG struct{}

func (prodRNG) Float64() float64 { return rand.Float64() }

// seededRNG is deterministic given a seed derived from request features,
// used whenever a decision is computed in dry-run so repeated explain/
// simulate calls for the same request are reproducible.
type seededRNG struct {
	r *rand.Rand
}

func newSeededRNG(seed uint64) seededRNG {
	return seededRNG{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s seededRNG) Float64() float64 { return s.r.Float64() }

// featureSeed hashes a feature vector into a stable uint64 seed, so the
// same request shape always produces the same dry-run coin flips.
func featureSeed(fv FeatureVector) uint64 {
	h := fnv.New64a()
	h.Write([]byte(fv.Model))
	if fv.MaxTokens != nil {
		h.Write([]byte{byte(*fv.MaxTokens), byte(*fv.MaxTokens >> 8), byte(*fv.MaxTokens >> 16)})
	}
	h.Write([]byte{byte(fv.MessageCount), byte(fv.SystemLength)})
	if fv.HasTools {
		h.Write([]byte{1})
	}
	if fv.HasVision {
		h.Write([]byte{1})
	}
	return h.Sum64()
}

// pickRNG returns the seeded RNG for every dry-run context (simulation
// modes included) and the production RNG otherwise.
func pickRNG(ctx RequestContext) rng {
	if ctx.DryRun {
		return newSeededRNG(featureSeed(ctx.Features))
	}
	return prodRNG{}
}
