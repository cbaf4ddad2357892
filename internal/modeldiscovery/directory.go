// Package modeldiscovery models the external model metadata directory:
// an asynchronous lookup service the routing core queries for a model's
// concurrency limit, context window, and pricing, fronted by a
// synchronous warm cache so the request path never blocks on a cold
// lookup for long.
package modeldiscovery

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// ModelMetadata is what the directory knows about a model id.
type ModelMetadata struct {
	ModelID          string
	MaxConcurrency   int
	ContextLength    int // 0 or negative means unknown/unbounded
	InputCostPerM    float64
	OutputCostPerM   float64
}

// CostPerMillion is the combined input+output cost per million tokens,
// used by the pool selector's throughput/pool/balanced tiebreaks.
func (m ModelMetadata) CostPerMillion() float64 {
	return m.InputCostPerM + m.OutputCostPerM
}

// Source is the async backend lookup the warm cache fronts. A production
// implementation would call out to the model registry service; it is
// out of scope for this module, which only defines the boundary.
type Source interface {
	FetchModel(ctx context.Context, modelID string) (ModelMetadata, error)
}

// Directory is a synchronous, TTL-expiring read-through cache in front of
// Source, matching the teacher's use of github.com/patrickmn/go-cache as
// a process-local warm cache (internal/secret/cache.go,
// internal/cache/semantic/cache.go).
type Directory struct {
	source Source
	warm   *cache.Cache
}

// NewDirectory builds a Directory with the given TTL and cleanup
// interval for warm entries.
func NewDirectory(source Source, ttl, cleanupInterval time.Duration) *Directory {
	return &Directory{
		source: source,
		warm:   cache.New(ttl, cleanupInterval),
	}
}

// GetModel returns metadata for modelID, serving from the warm cache when
// possible. A cache hit never touches ctx or blocks; a miss makes one
// bounded async call to source and populates the cache for subsequent
// requests.
func (d *Directory) GetModel(ctx context.Context, modelID string) (ModelMetadata, bool) {
	if v, ok := d.warm.Get(modelID); ok {
		return v.(ModelMetadata), true
	}
	if d.source == nil {
		return ModelMetadata{}, false
	}
	meta, err := d.source.FetchModel(ctx, modelID)
	if err != nil {
		return ModelMetadata{}, false
	}
	d.warm.SetDefault(modelID, meta)
	return meta, true
}

// Put seeds or overwrites warm cache entries directly — used by tests and
// by an operator-facing admin refresh endpoint (out of scope here) that
// pushes freshly fetched metadata without waiting on a cache miss.
func (d *Directory) Put(meta ModelMetadata) {
	d.warm.SetDefault(meta.ModelID, meta)
}

// StaticSource is a Source backed by a fixed in-memory map, used in tests
// and for simulation modes that need deterministic metadata without a
// real directory service.
type StaticSource struct {
	Models map[string]ModelMetadata
}

func (s StaticSource) FetchModel(_ context.Context, modelID string) (ModelMetadata, error) {
	if m, ok := s.Models[modelID]; ok {
		return m, nil
	}
	return ModelMetadata{}, errModelUnknown
}

var errModelUnknown = modelUnknownError{}

type modelUnknownError struct{}

func (modelUnknownError) Error() string { return "model unknown to discovery source" }
