package router

import (
	"strconv"
	"strings"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/pkg/types"
)

// extractFeatures derives the routing-relevant feature vector from a
// parsed request body. Pure.
func extractFeatures(req *types.MessagesRequest) FeatureVector {
	fv := FeatureVector{
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		MessageCount: len(req.Messages),
		SystemLength: len(req.SystemText()),
		Stream:       req.Stream,
	}
	if len(req.Tools) > 0 {
		fv.HasTools = true
	}
	for _, msg := range req.Messages {
		for _, block := range msg.ContentBlocks() {
			if block.Type == "image" {
				fv.HasVision = true
			}
		}
	}
	return fv
}

// classification is the outcome of classify: the resolved tier plus the
// human-readable reason and, for heuristic upgrades, the specific
// UpgradeReason.
type classification struct {
	Tier          config.Tier
	Reason        string
	Source        DecisionSource // SourceRule or SourceClassifier
	UpgradeReason UpgradeReason
	matched       bool
}

// classify implements spec.md §4.5's two-stage classification: ordered
// rule match first, falling through to the heavy/light threshold
// heuristic only if some tier declares always-route.
func classify(cfg *config.RoutingConfig, fv FeatureVector) classification {
	for _, rule := range cfg.Rules {
		if ruleMatches(rule.Match, fv) {
			return classification{
				Tier:    rule.Tier,
				Reason:  "rule: " + matchJSON(rule.Match),
				Source:  SourceRule,
				matched: true,
			}
		}
	}

	if !anyAlwaysRoute(cfg.Tiers) {
		return classification{}
	}

	if reason, upgrade, ok := matchesThresholds(cfg.Classifier.HeavyThresholds, fv, true); ok {
		return classification{
			Tier:          config.TierHeavy,
			Reason:        reason,
			Source:        SourceClassifier,
			UpgradeReason: upgrade,
			matched:       true,
		}
	}

	if reason, _, ok := matchesThresholds(cfg.Classifier.LightThresholds, fv, false); ok {
		return classification{
			Tier:    config.TierLight,
			Reason:  reason,
			Source:  SourceClassifier,
			matched: true,
		}
	}

	return classification{
		Tier:    config.TierMedium,
		Reason:  "classifier: default medium",
		Source:  SourceClassifier,
		matched: true,
	}
}

func anyAlwaysRoute(tiers map[config.Tier]config.TierConfig) bool {
	for _, t := range tiers {
		if t.ClientModelPolicy == config.PolicyAlwaysRoute {
			return true
		}
	}
	return false
}

func ruleMatches(m config.RuleMatch, fv FeatureVector) bool {
	if m.Model != "" && !globMatch(m.Model, fv.Model) {
		return false
	}
	if m.MaxTokensGte != nil {
		if fv.MaxTokens == nil || *fv.MaxTokens < *m.MaxTokensGte {
			return false
		}
	}
	if m.MessageCountGte != nil && fv.MessageCount < *m.MessageCountGte {
		return false
	}
	if m.HasTools != nil && fv.HasTools != *m.HasTools {
		return false
	}
	if m.HasVision != nil && fv.HasVision != *m.HasVision {
		return false
	}
	return true
}

// matchesThresholds evaluates one side of the classifier heuristic. When
// any=true (heavy thresholds) a single matching predicate is sufficient;
// otherwise (light thresholds) every present predicate must hold and at
// least one must be present.
func matchesThresholds(t config.ClassifierThresholds, fv FeatureVector, any bool) (string, UpgradeReason, bool) {
	present := 0
	matchedAny := false
	allHold := true
	var reason UpgradeReason

	check := func(ok, applicable bool, r UpgradeReason) {
		if !applicable {
			return
		}
		present++
		if ok {
			matchedAny = true
			if reason == "" {
				reason = r
			}
		} else {
			allHold = false
		}
	}

	check(t.MaxTokensGte != nil && fv.MaxTokens != nil && *fv.MaxTokens >= *t.MaxTokensGte, t.MaxTokensGte != nil, UpgradeMaxTokens)
	check(t.MessageCountGte != nil && fv.MessageCount >= *t.MessageCountGte, t.MessageCountGte != nil, UpgradeMessageCount)
	check(t.SystemLengthGte != nil && fv.SystemLength >= *t.SystemLengthGte, t.SystemLengthGte != nil, UpgradeSystemLength)
	check(t.HasTools != nil && fv.HasTools == *t.HasTools, t.HasTools != nil, UpgradeHasTools)
	check(t.HasVision != nil && fv.HasVision == *t.HasVision, t.HasVision != nil, UpgradeHasVision)

	if present == 0 {
		return "", "", false
	}
	if any {
		if !matchedAny {
			return "", "", false
		}
		return "classifier: heavy threshold " + string(reason), reason, true
	}
	if !allHold {
		return "", "", false
	}
	return "classifier: light threshold", "", true
}

// globMatch supports only the "*" wildcard, per spec.md §4.5.
func globMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return strings.HasSuffix(value, parts[len(parts)-1])
}

func matchJSON(m config.RuleMatch) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	write := func(key, val string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteString(`":`)
		b.WriteString(val)
	}
	if m.Model != "" {
		write("model", strconv.Quote(m.Model))
	}
	if m.MaxTokensGte != nil {
		write("maxTokensGte", strconv.Itoa(*m.MaxTokensGte))
	}
	if m.MessageCountGte != nil {
		write("messageCountGte", strconv.Itoa(*m.MessageCountGte))
	}
	if m.HasTools != nil {
		write("hasTools", strconv.FormatBool(*m.HasTools))
	}
	if m.HasVision != nil {
		write("hasVision", strconv.FormatBool(*m.HasVision))
	}
	b.WriteByte('}')
	return b.String()
}

// complexityScore is the 0-100 weighted sum used by trace building (spec
// §4.8): maxTokens up to 30, messageCount up to 25, systemLength up to
// 20, tools 15, vision 10, each scaled by the ratio of the feature to its
// heavy threshold (capped at 1.0).
func complexityScore(t config.ClassifierThresholds, fv FeatureVector) int {
	score := 0.0
	ratio := func(value, threshold int) float64 {
		if threshold <= 0 {
			return 0
		}
		r := float64(value) / float64(threshold)
		if r > 1 {
			r = 1
		}
		return r
	}

	if t.MaxTokensGte != nil && fv.MaxTokens != nil {
		score += ratio(*fv.MaxTokens, *t.MaxTokensGte) * 30
	}
	if t.MessageCountGte != nil {
		score += ratio(fv.MessageCount, *t.MessageCountGte) * 25
	}
	if t.SystemLengthGte != nil {
		score += ratio(fv.SystemLength, *t.SystemLengthGte) * 20
	}
	if t.HasTools != nil && *t.HasTools && fv.HasTools {
		score += 15
	}
	if t.HasVision != nil && *t.HasVision && fv.HasVision {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}
