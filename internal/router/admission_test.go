package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

func testAdmissionConfig() *config.RoutingConfig {
	return &config.RoutingConfig{
		Enabled: true,
		Tiers: map[config.Tier]config.TierConfig{
			config.TierHeavy:  {Models: []string{"glm-4.6", "glm-4.6-backup"}, Strategy: config.StrategyQuality},
			config.TierMedium: {Models: []string{"glm-4"}, Strategy: config.StrategyQuality},
		},
		Rules: []config.Rule{
			{Match: config.RuleMatch{Model: "*"}, Tier: config.TierHeavy},
		},
	}
}

func TestPeekAdmissionHold_NilWhenAnyCandidateAvailable(t *testing.T) {
	cfg := testAdmissionConfig()
	overrides := newOverrideStore("", 0, false)
	cooldowns := newCooldownLedger(testCooldownConfig())

	reqCtx := RequestContext{Features: FeatureVector{Model: "glm-4.6"}}
	hold := peekAdmissionHold(cfg, overrides, cooldowns, reqCtx, reqCtx.Features)
	require.Nil(t, hold)
}

func TestPeekAdmissionHold_ReturnsHoldWhenAllCandidatesCooled(t *testing.T) {
	cfg := testAdmissionConfig()
	overrides := newOverrideStore("", 0, false)
	cooldowns := newCooldownLedger(testCooldownConfig())
	cooldowns.record("glm-4.6", 5000, false)
	cooldowns.record("glm-4.6-backup", 5000, false)

	reqCtx := RequestContext{Features: FeatureVector{Model: "glm-4.6"}}
	hold := peekAdmissionHold(cfg, overrides, cooldowns, reqCtx, reqCtx.Features)
	require.NotNil(t, hold)
	require.True(t, hold.AllCooled)
	require.Equal(t, config.TierHeavy, hold.Tier)
}

func TestPeekAdmissionHold_NeverMutatesCooldownState(t *testing.T) {
	cfg := testAdmissionConfig()
	overrides := newOverrideStore("", 0, false)
	cooldowns := newCooldownLedger(testCooldownConfig())
	cooldowns.record("glm-4.6", 5000, false)
	cooldowns.record("glm-4.6-backup", 5000, false)

	before := cooldowns.remaining("glm-4.6")
	reqCtx := RequestContext{Features: FeatureVector{Model: "glm-4.6"}}
	peekAdmissionHold(cfg, overrides, cooldowns, reqCtx, reqCtx.Features)
	after := cooldowns.remaining("glm-4.6")
	require.Equal(t, before, after)
}

func TestPeekAdmissionHold_NilWhenOverrideWouldWin(t *testing.T) {
	cfg := testAdmissionConfig()
	overrides := newOverrideStore("", 0, false)
	cooldowns := newCooldownLedger(testCooldownConfig())
	cooldowns.record("glm-4.6", 5000, false)
	cooldowns.record("glm-4.6-backup", 5000, false)

	reqCtx := RequestContext{Features: FeatureVector{Model: "glm-4.6"}, Override: "glm-5"}
	hold := peekAdmissionHold(cfg, overrides, cooldowns, reqCtx, reqCtx.Features)
	require.Nil(t, hold)
}
