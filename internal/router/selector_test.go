package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/modeldiscovery"
)

type fixedRNG struct{ v float64 }

func (f fixedRNG) Float64() float64 { return f.v }

func newTestSelectorDeps(t *testing.T, models map[string]modeldiscovery.ModelMetadata) selectorDeps {
	t.Helper()
	discovery := modeldiscovery.NewDirectory(modeldiscovery.StaticSource{}, time.Minute, time.Minute)
	for _, m := range models {
		discovery.Put(m)
	}
	return selectorDeps{
		discovery:             discovery,
		cooldowns:             newCooldownLedger(testCooldownConfig()),
		penalties:             newPenaltyWindow(testPenaltyConfig()),
		inFlight:              newInFlightAccountant(),
		concurrencyMultiplier: 1.0,
		pool429:               testPenaltyConfig(),
		glm5:                  config.GLM5Config{},
	}
}

func TestSelectFromPool_QualityStrategyPicksFirstAvailable(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6":      {ModelID: "glm-4.6", MaxConcurrency: 10, ContextLength: 128000},
		"glm-4-flash":  {ModelID: "glm-4-flash", MaxConcurrency: 10, ContextLength: 128000},
	})
	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyQuality,
		[]string{"glm-4.6", "glm-4-flash"}, nil, 100, fixedRNG{v: 0.5})
	require.Equal(t, "glm-4.6", result.Model)
}

func TestSelectFromPool_SkipsCooledCandidate(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6":     {ModelID: "glm-4.6", MaxConcurrency: 10, ContextLength: 128000},
		"glm-4-flash": {ModelID: "glm-4-flash", MaxConcurrency: 10, ContextLength: 128000},
	})
	deps.cooldowns.record("glm-4.6", 5000, false)

	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyQuality,
		[]string{"glm-4.6", "glm-4-flash"}, nil, 100, fixedRNG{v: 0.5})
	require.Equal(t, "glm-4-flash", result.Model)
	require.Equal(t, 1, result.FallbackCount[ReasonCooldown])
}

func TestSelectFromPool_SkipsAttemptedCandidate(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6":     {ModelID: "glm-4.6", MaxConcurrency: 10, ContextLength: 128000},
		"glm-4-flash": {ModelID: "glm-4-flash", MaxConcurrency: 10, ContextLength: 128000},
	})
	attempted := map[string]struct{}{"glm-4.6": {}}

	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyQuality,
		[]string{"glm-4.6", "glm-4-flash"}, attempted, 100, fixedRNG{v: 0.5})
	require.Equal(t, "glm-4-flash", result.Model)
	require.Equal(t, 1, result.FallbackCount[ReasonNotInCandidates])
}

func TestSelectFromPool_SkipsAtCapacity(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6": {ModelID: "glm-4.6", MaxConcurrency: 1, ContextLength: 128000},
	})
	deps.inFlight.tryAcquire("glm-4.6", 1)

	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyQuality,
		[]string{"glm-4.6"}, nil, 100, fixedRNG{v: 0.5})
	require.Equal(t, "", result.Model)
	require.Equal(t, 1, result.FallbackCount[ReasonAtCapacity])
}

func TestSelectFromPool_SkipsContextOverflow(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6": {ModelID: "glm-4.6", MaxConcurrency: 10, ContextLength: 1000},
	})

	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyQuality,
		[]string{"glm-4.6"}, nil, 5000, fixedRNG{v: 0.5})
	require.Equal(t, "", result.Model)
	require.Equal(t, 1, result.FallbackCount[ReasonContextOverflow])
}

func TestSelectFromPool_TierExhaustedWhenNoneLive(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6": {ModelID: "glm-4.6", MaxConcurrency: 10, ContextLength: 128000},
	})
	deps.cooldowns.record("glm-4.6", 5000, false)

	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyQuality,
		[]string{"glm-4.6"}, nil, 100, fixedRNG{v: 0.5})
	require.Equal(t, "", result.Model)
	require.Equal(t, 1, result.FallbackCount[ReasonTierExhausted])
}

func TestSelectFromPool_ThroughputStrategyPrefersMoreAvailable(t *testing.T) {
	deps := newTestSelectorDeps(t, map[string]modeldiscovery.ModelMetadata{
		"glm-4.6":     {ModelID: "glm-4.6", MaxConcurrency: 2, ContextLength: 128000},
		"glm-4-flash": {ModelID: "glm-4-flash", MaxConcurrency: 10, ContextLength: 128000},
	})
	result := selectFromPool(context.Background(), deps, config.TierHeavy, config.StrategyThroughput,
		[]string{"glm-4.6", "glm-4-flash"}, nil, 100, fixedRNG{v: 0.5})
	require.Equal(t, "glm-4-flash", result.Model)
}

func TestApplyGLM5Hook_DisabledPinsScoreToNegativeInf(t *testing.T) {
	live := []liveCandidate{
		{ScoredCandidate: ScoredCandidate{Model: "glm-5", Position: 0}},
		{ScoredCandidate: ScoredCandidate{Model: "glm-4.6", Position: 1}},
	}
	eligible, shadow := applyGLM5Hook(config.TierHeavy, config.GLM5Config{Enabled: false}, live, fixedRNG{v: 0.1})
	require.False(t, eligible)
	require.False(t, shadow)
	require.True(t, live[0].forced)
}

func TestApplyGLM5Hook_RollBelowThresholdForcesActive(t *testing.T) {
	live := []liveCandidate{
		{ScoredCandidate: ScoredCandidate{Model: "glm-5", Position: 0}},
	}
	eligible, shadow := applyGLM5Hook(config.TierHeavy, config.GLM5Config{Enabled: true, PreferencePercent: 50}, live, fixedRNG{v: 0.1})
	require.True(t, eligible)
	require.False(t, shadow)
	require.True(t, live[0].forced)
	require.Equal(t, -1, live[0].Position)
}

func TestApplyGLM5Hook_RollAboveThresholdIsShadow(t *testing.T) {
	live := []liveCandidate{
		{ScoredCandidate: ScoredCandidate{Model: "glm-5", Position: 0}},
	}
	eligible, shadow := applyGLM5Hook(config.TierHeavy, config.GLM5Config{Enabled: true, PreferencePercent: 50}, live, fixedRNG{v: 0.9})
	require.True(t, eligible)
	require.True(t, shadow)
	require.False(t, live[0].forced)
}

func TestApplyGLM5Hook_OnlyAppliesToHeavyTier(t *testing.T) {
	live := []liveCandidate{
		{ScoredCandidate: ScoredCandidate{Model: "glm-5", Position: 0}},
	}
	eligible, shadow := applyGLM5Hook(config.TierMedium, config.GLM5Config{Enabled: true, PreferencePercent: 100}, live, fixedRNG{v: 0.0})
	require.False(t, eligible)
	require.False(t, shadow)
	require.False(t, live[0].forced)
}

func TestRankLess_TiebreaksByCostThenModel(t *testing.T) {
	a := ScoredCandidate{Model: "glm-4.6", Score: 1.0, Cost: 2.0}
	b := ScoredCandidate{Model: "glm-4-flash", Score: 1.0, Cost: 1.0}
	require.False(t, rankLess(config.StrategyQuality, a, b))
	require.True(t, rankLess(config.StrategyQuality, b, a))
}
