package config

import (
	"fmt"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// NormalizeResult is the outcome of normalizing an operator-supplied
// configuration document into the canonical v2 shape.
type NormalizeResult struct {
	Config   *RoutingConfig
	Migrated bool
	Warnings []string
}

// rawDocument is the loosely-typed shape Normalize accepts: either v1 or
// v2 tiers, keyed by tier name, plus the rest of RoutingConfig's fields
// which are shape-stable across versions.
type rawDocument struct {
	Version           string                   `yaml:"version" json:"version"`
	Enabled           bool                     `yaml:"enabled" json:"enabled"`
	ShadowMode        bool                     `yaml:"shadowMode" json:"shadowMode"`
	DefaultModel      string                   `yaml:"defaultModel,omitempty" json:"defaultModel,omitempty"`
	Tiers             map[Tier]map[string]any  `yaml:"tiers" json:"tiers"`
	Rules             []Rule                   `yaml:"rules,omitempty" json:"rules,omitempty"`
	Classifier        ClassifierConfig         `yaml:"classifier" json:"classifier"`
	Cooldown          CooldownConfig           `yaml:"cooldown" json:"cooldown"`
	Failover          FailoverConfig           `yaml:"failover" json:"failover"`
	Pool429Penalty    Pool429PenaltyConfig     `yaml:"pool429Penalty" json:"pool429Penalty"`
	GLM5              GLM5Config               `yaml:"glm5" json:"glm5"`
	ComplexityUpgrade ComplexityUpgradeConfig  `yaml:"complexityUpgrade" json:"complexityUpgrade"`
	Trace             TraceConfig              `yaml:"trace" json:"trace"`
}

// NormalizeYAML normalizes a YAML-encoded configuration document, as
// loaded from the operator's config file on disk.
func NormalizeYAML(raw []byte) (NormalizeResult, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return NormalizeResult{}, fmt.Errorf("parse config yaml: %w", err)
	}
	return normalizeDocument(doc), nil
}

// NormalizeJSON normalizes a JSON-encoded configuration document, as
// submitted through an admin update API.
func NormalizeJSON(raw []byte) (NormalizeResult, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return NormalizeResult{}, fmt.Errorf("parse config json: %w", err)
	}
	return normalizeDocument(doc), nil
}

func normalizeDocument(doc rawDocument) NormalizeResult {
	result := NormalizeResult{
		Config: &RoutingConfig{
			Version:           CurrentVersion,
			Enabled:           doc.Enabled,
			ShadowMode:        doc.ShadowMode,
			DefaultModel:      doc.DefaultModel,
			Tiers:             make(map[Tier]TierConfig, len(doc.Tiers)),
			Rules:             doc.Rules,
			Classifier:        doc.Classifier,
			Cooldown:          doc.Cooldown,
			Failover:          doc.Failover,
			Pool429Penalty:    doc.Pool429Penalty,
			GLM5:              doc.GLM5,
			ComplexityUpgrade: doc.ComplexityUpgrade,
			Trace:             doc.Trace,
		},
	}
	result.Config.Trace.MaxPayloadSize = ClampPayloadSize(result.Config.Trace.MaxPayloadSize)

	for tierName, raw := range doc.Tiers {
		tier, migrated, warnings := normalizeTier(tierName, raw)
		result.Warnings = append(result.Warnings, warnings...)
		if migrated {
			result.Migrated = true
		}
		if tier == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("tier %q: no resolvable model, dropped", tierName))
			continue
		}
		result.Config.Tiers[tierName] = *tier
	}

	return result
}

// normalizeTier normalizes a single tier's raw map into a TierConfig. It
// first tries the v2 shape (models + strategy); if models is empty it
// falls back to the v1 shape (targetModel/fallbackModels/failoverModel).
func normalizeTier(name Tier, raw map[string]any) (*TierConfig, bool, []string) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false, nil
	}

	var v2 TierConfig
	_ = json.Unmarshal(encoded, &v2)

	var warnings []string

	if len(v2.Models) > 0 {
		models := dedupeNonEmpty(v2.Models)
		if len(models) == 0 {
			return nil, false, warnings
		}
		if len(models) > MaxModelsPerTier {
			warnings = append(warnings, fmt.Sprintf("tier %q: models truncated to %d entries", name, MaxModelsPerTier))
			models = models[:MaxModelsPerTier]
		}
		strategy := v2.Strategy
		migrated := false
		if strategy == "" {
			strategy = StrategyBalanced
		} else if !ValidStrategy(strategy) {
			warnings = append(warnings, fmt.Sprintf("tier %q: invalid strategy %q coerced to balanced", name, strategy))
			strategy = StrategyBalanced
			migrated = true
		}
		return &TierConfig{
			Models:            models,
			Strategy:          strategy,
			Label:             v2.Label,
			ClientModelPolicy: v2.ClientModelPolicy,
		}, migrated, warnings
	}

	var v1 legacyTierConfig
	if err := json.Unmarshal(encoded, &v1); err != nil {
		return nil, false, warnings
	}

	models := []string{v1.TargetModel}
	switch {
	case len(v1.FallbackModels) > 0:
		models = append(models, v1.FallbackModels...)
	case v1.FailoverModel != "":
		models = append(models, v1.FailoverModel)
	}
	models = dedupeNonEmpty(models)
	if len(models) == 0 {
		return nil, true, warnings
	}
	if len(models) > MaxModelsPerTier {
		warnings = append(warnings, fmt.Sprintf("tier %q: models truncated to %d entries", name, MaxModelsPerTier))
		models = models[:MaxModelsPerTier]
	}

	return &TierConfig{
		Models:   models,
		Strategy: StrategyBalanced,
	}, true, warnings
}

// dedupeNonEmpty filters out empty strings and duplicate entries,
// preserving first-occurrence order.
func dedupeNonEmpty(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
