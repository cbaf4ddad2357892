package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeYAML_V2ShapePassesThrough(t *testing.T) {
	raw := []byte(`
version: "1.0"
enabled: true
tiers:
  heavy:
    models: ["glm-4.6", "glm-4.6-backup"]
    strategy: quality
`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	require.False(t, result.Migrated)
	require.Equal(t, CurrentVersion, result.Config.Version)

	tier := result.Config.Tiers[TierHeavy]
	require.Equal(t, []string{"glm-4.6", "glm-4.6-backup"}, tier.Models)
	require.Equal(t, StrategyQuality, tier.Strategy)
}

func TestNormalizeYAML_V1ShapeMigratesToModelsList(t *testing.T) {
	raw := []byte(`
enabled: true
tiers:
  medium:
    targetModel: glm-4
    fallbackModels: ["glm-4-flash"]
`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	require.True(t, result.Migrated)

	tier := result.Config.Tiers[TierMedium]
	require.Equal(t, []string{"glm-4", "glm-4-flash"}, tier.Models)
	require.Equal(t, StrategyBalanced, tier.Strategy)
}

func TestNormalizeYAML_V1FailoverModelBecomesSecondEntry(t *testing.T) {
	raw := []byte(`
tiers:
  light:
    targetModel: glm-4-flash
    failoverModel: glm-4
`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	tier := result.Config.Tiers[TierLight]
	require.Equal(t, []string{"glm-4-flash", "glm-4"}, tier.Models)
}

func TestNormalizeYAML_DuplicateModelsAreDeduped(t *testing.T) {
	raw := []byte(`
tiers:
  medium:
    models: ["glm-4", "glm-4", "glm-4-flash"]
    strategy: quality
`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	tier := result.Config.Tiers[TierMedium]
	require.Equal(t, []string{"glm-4", "glm-4-flash"}, tier.Models)
}

func TestNormalizeYAML_InvalidStrategyCoercedToBalancedWithWarning(t *testing.T) {
	raw := []byte(`
tiers:
  medium:
    models: ["glm-4"]
    strategy: bogus
`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	tier := result.Config.Tiers[TierMedium]
	require.Equal(t, StrategyBalanced, tier.Strategy)
	require.True(t, result.Migrated)
	require.NotEmpty(t, result.Warnings)
}

func TestNormalizeYAML_TooManyModelsTruncatedWithWarning(t *testing.T) {
	models := make([]string, MaxModelsPerTier+3)
	for i := range models {
		models[i] = string(rune('a' + i))
	}
	doc := rawDocument{
		Tiers: map[Tier]map[string]any{
			TierMedium: {"models": toAnySlice(models), "strategy": "quality"},
		},
	}
	tier, _, warnings := normalizeTier(TierMedium, doc.Tiers[TierMedium])
	require.NotNil(t, tier)
	require.Len(t, tier.Models, MaxModelsPerTier)
	require.NotEmpty(t, warnings)
}

func TestNormalizeYAML_EmptyTierIsDroppedWithWarning(t *testing.T) {
	raw := []byte(`
tiers:
  medium:
    models: []
    strategy: quality
`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	_, ok := result.Config.Tiers[TierMedium]
	require.False(t, ok)
	require.NotEmpty(t, result.Warnings)
}

func TestNormalizeYAML_MalformedDocumentReturnsError(t *testing.T) {
	_, err := NormalizeYAML([]byte("not: [valid: yaml"))
	require.Error(t, err)
}

func TestNormalizeJSON_V2ShapePassesThrough(t *testing.T) {
	raw := []byte(`{"enabled": true, "tiers": {"light": {"models": ["glm-4-flash"], "strategy": "pool"}}}`)
	result, err := NormalizeJSON(raw)
	require.NoError(t, err)
	tier := result.Config.Tiers[TierLight]
	require.Equal(t, []string{"glm-4-flash"}, tier.Models)
	require.Equal(t, StrategyPool, tier.Strategy)
}

func TestNormalizeYAML_TracePayloadSizeClampedToDefault(t *testing.T) {
	raw := []byte(`tiers: {}`)
	result, err := NormalizeYAML(raw)
	require.NoError(t, err)
	require.Equal(t, DefaultTracePayloadSize, result.Config.Trace.MaxPayloadSize)
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
