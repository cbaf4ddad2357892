package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func TestClassify_RuleMatchWinsFirst(t *testing.T) {
	cfg := &config.RoutingConfig{
		Rules: []config.Rule{
			{Match: config.RuleMatch{Model: "claude-opus-*"}, Tier: config.TierHeavy},
			{Match: config.RuleMatch{Model: "*"}, Tier: config.TierLight},
		},
		Tiers: map[config.Tier]config.TierConfig{
			config.TierHeavy: {Models: []string{"glm-4.6"}},
			config.TierLight: {Models: []string{"glm-4-flash"}},
		},
	}

	cls := classify(cfg, FeatureVector{Model: "claude-opus-4"})
	require.True(t, cls.matched)
	require.Equal(t, config.TierHeavy, cls.Tier)
	require.Equal(t, SourceRule, cls.Source)
}

func TestClassify_NoMatchWithoutAlwaysRoute(t *testing.T) {
	cfg := &config.RoutingConfig{
		Tiers: map[config.Tier]config.TierConfig{
			config.TierMedium: {Models: []string{"glm-4"}, ClientModelPolicy: config.PolicyRuleMatchOnly},
		},
	}
	cls := classify(cfg, FeatureVector{Model: "anything"})
	require.False(t, cls.matched)
}

func TestClassify_HeavyThresholdAnyMatchSuffices(t *testing.T) {
	cfg := &config.RoutingConfig{
		Tiers: map[config.Tier]config.TierConfig{
			config.TierHeavy: {Models: []string{"glm-4.6"}, ClientModelPolicy: config.PolicyAlwaysRoute},
		},
		Classifier: config.ClassifierConfig{
			HeavyThresholds: config.ClassifierThresholds{
				MaxTokensGte: intPtr(8000),
				HasVision:    boolPtr(true),
			},
		},
	}

	cls := classify(cfg, FeatureVector{MaxTokens: intPtr(10000)})
	require.True(t, cls.matched)
	require.Equal(t, config.TierHeavy, cls.Tier)
	require.Equal(t, UpgradeMaxTokens, cls.UpgradeReason)
}

func TestClassify_LightThresholdRequiresAllPresentPredicates(t *testing.T) {
	cfg := &config.RoutingConfig{
		Tiers: map[config.Tier]config.TierConfig{
			config.TierLight: {Models: []string{"glm-4-flash"}, ClientModelPolicy: config.PolicyAlwaysRoute},
		},
		Classifier: config.ClassifierConfig{
			LightThresholds: config.ClassifierThresholds{
				MaxTokensGte:    intPtr(0),
				MessageCountGte: intPtr(1),
			},
		},
	}

	// MaxTokens is nil, so the maxTokensGte predicate cannot hold -> not light.
	cls := classify(cfg, FeatureVector{MessageCount: 1})
	require.Equal(t, config.TierMedium, cls.Tier)
}

func TestClassify_DefaultsToMediumWhenAlwaysRouteButNoThresholdMatches(t *testing.T) {
	cfg := &config.RoutingConfig{
		Tiers: map[config.Tier]config.TierConfig{
			config.TierMedium: {Models: []string{"glm-4"}, ClientModelPolicy: config.PolicyAlwaysRoute},
		},
	}
	cls := classify(cfg, FeatureVector{MessageCount: 1})
	require.True(t, cls.matched)
	require.Equal(t, config.TierMedium, cls.Tier)
	require.Equal(t, SourceClassifier, cls.Source)
}

func TestGlobMatch(t *testing.T) {
	require.True(t, globMatch("*", "anything"))
	require.True(t, globMatch("claude-opus-*", "claude-opus-4"))
	require.False(t, globMatch("claude-opus-*", "claude-sonnet-4"))
	require.True(t, globMatch("glm-4", "glm-4"))
	require.False(t, globMatch("glm-4", "glm-5"))
}

func TestComplexityScore_CapsAt100(t *testing.T) {
	thresholds := config.ClassifierThresholds{
		MaxTokensGte:    intPtr(100),
		MessageCountGte: intPtr(10),
		SystemLengthGte: intPtr(50),
		HasTools:        boolPtr(true),
		HasVision:       boolPtr(true),
	}
	fv := FeatureVector{
		MaxTokens:    intPtr(1000),
		MessageCount: 100,
		SystemLength: 500,
		HasTools:     true,
		HasVision:    true,
	}
	require.Equal(t, 100, complexityScore(thresholds, fv))
}
