package config

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ValidateResult is the outcome of validating a configuration update.
type ValidateResult struct {
	Valid    bool
	Error    string
	Warnings []string
}

// metaOnlyKeys are rejected in a runtime update document; they belong to
// the process's bootstrap configuration (file paths, store sizing), not
// the hot-swappable RoutingConfig.
var metaOnlyKeys = map[string]struct{}{
	"persistConfigEdits": {},
	"configFile":         {},
	"overridesFile":      {},
	"maxOverrides":       {},
}

// IsMetaOnlyKey reports whether a top-level key name is a meta-only key
// rejected by runtime updateConfig calls.
func IsMetaOnlyKey(key string) bool {
	_, ok := metaOnlyKeys[key]
	return ok
}

// knownConfigKeys are the top-level RoutingConfig fields a runtime update
// document is allowed to set, keyed by their yaml/json tag name.
var knownConfigKeys = map[string]struct{}{
	"version":           {},
	"enabled":           {},
	"shadowMode":        {},
	"defaultModel":      {},
	"tiers":             {},
	"rules":             {},
	"classifier":        {},
	"cooldown":          {},
	"failover":          {},
	"pool429Penalty":    {},
	"glm5":              {},
	"complexityUpgrade": {},
	"trace":             {},
}

// ValidateUpdateDocument statically checks a raw decoded update document's
// top-level keys. It must run on the raw map before any typed
// normalization, since NormalizeYAML/NormalizeJSON decode into a typed
// struct and silently drop anything they don't recognize — by the time a
// *RoutingConfig reaches Validate, unknown and meta-only keys are already
// gone. Meta-only keys (persistConfigEdits, configFile, overridesFile,
// maxOverrides) belong to the process's bootstrap configuration and are
// rejected here even though they're legal at startup.
func ValidateUpdateDocument(raw map[string]any) ValidateResult {
	for key := range raw {
		if IsMetaOnlyKey(key) {
			return ValidateResult{Valid: false, Error: fmt.Sprintf("key %q is meta-only and cannot be set at runtime", key)}
		}
		if _, ok := knownConfigKeys[key]; !ok {
			return ValidateResult{Valid: false, Error: fmt.Sprintf("unknown config key %q", key)}
		}
	}
	return ValidateResult{Valid: true}
}

// ValidateUpdate validates a raw JSON update document end to end: it
// rejects unknown/meta-only top-level keys before normalization, then
// normalizes v1→v2 and runs the static struct validator. The returned
// NormalizeResult lets callers persist the config when Migrated is true.
func ValidateUpdate(raw []byte) (NormalizeResult, ValidateResult) {
	var rawMap map[string]any
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		return NormalizeResult{}, ValidateResult{Valid: false, Error: fmt.Sprintf("parse update document: %v", err)}
	}
	if result := ValidateUpdateDocument(rawMap); !result.Valid {
		return NormalizeResult{}, result
	}

	normalized, err := NormalizeJSON(raw)
	if err != nil {
		return NormalizeResult{}, ValidateResult{Valid: false, Error: err.Error()}
	}

	// The normalizer drops tiers it cannot resolve (e.g. an empty models
	// list), so compare against the raw document's tier names.
	if rawTiers, ok := rawMap["tiers"].(map[string]any); ok {
		for name := range rawTiers {
			if _, kept := normalized.Config.Tiers[Tier(name)]; !kept {
				return normalized, ValidateResult{Valid: false, Error: fmt.Sprintf("tier %q: no resolvable models", name)}
			}
		}
	}

	result := Validate(normalized.Config)
	if !result.Valid {
		return normalized, result
	}
	result.Warnings = append(result.Warnings, normalized.Warnings...)
	return normalized, result
}

// Validate statically checks a normalized RoutingConfig for the
// invariants in the spec: tier model-count bounds, valid strategies, and
// the rule/default-model catch-all requirement. It does not mutate cfg.
func Validate(cfg *RoutingConfig) ValidateResult {
	if cfg == nil {
		return ValidateResult{Valid: false, Error: "config is nil"}
	}

	var warnings []string

	for name, tier := range cfg.Tiers {
		if !ValidTier(name) {
			return ValidateResult{Valid: false, Error: fmt.Sprintf("unknown tier name %q", name)}
		}
		if len(tier.Models) == 0 {
			return ValidateResult{Valid: false, Error: fmt.Sprintf("tier %q: models must be non-empty", name)}
		}
		if len(tier.Models) > MaxModelsPerTier {
			return ValidateResult{Valid: false, Error: fmt.Sprintf("tier %q: models.length %d exceeds max %d", name, len(tier.Models), MaxModelsPerTier)}
		}
		if !ValidStrategy(tier.Strategy) {
			return ValidateResult{Valid: false, Error: fmt.Sprintf("tier %q: invalid strategy %q", name, tier.Strategy)}
		}
		if cfg.Failover.MaxModelSwitchesPerRequest > len(tier.Models) {
			warnings = append(warnings, fmt.Sprintf("tier %q: maxModelSwitchesPerRequest (%d) exceeds models.length (%d)", name, cfg.Failover.MaxModelSwitchesPerRequest, len(tier.Models)))
		}
	}

	if len(cfg.Rules) > 0 {
		hasCatchAll := false
		for _, r := range cfg.Rules {
			if r.Match.Model == "*" {
				hasCatchAll = true
				break
			}
		}
		if !hasCatchAll && cfg.DefaultModel == "" {
			return ValidateResult{Valid: false, Error: "rules are defined but no catch-all rule (model: \"*\") or defaultModel is set"}
		}
	}

	warnings = append(warnings, crossTierDuplicateWarnings(cfg)...)

	return ValidateResult{Valid: true, Warnings: warnings}
}

// crossTierDuplicateWarnings flags models that appear in more than one
// tier — legal, but usually an operator mistake worth surfacing.
func crossTierDuplicateWarnings(cfg *RoutingConfig) []string {
	seen := make(map[string]Tier)
	var warnings []string
	// Iterate tiers in a fixed order so warnings are deterministic.
	for _, name := range []Tier{TierLight, TierMedium, TierHeavy} {
		tier, ok := cfg.Tiers[name]
		if !ok {
			continue
		}
		for _, m := range tier.Models {
			if prior, ok := seen[m]; ok {
				warnings = append(warnings, fmt.Sprintf("model %q appears in both tier %q and tier %q", m, prior, name))
				continue
			}
			seen[m] = name
		}
	}
	return warnings
}
