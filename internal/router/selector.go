package router

import (
	"context"
	"math"
	"sort"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/modeldiscovery"
)

// selectorDeps bundles the shared state a pool selection pass reads.
// Passed explicitly rather than hung off *Router so computeDecision's
// scoring can be unit tested without constructing a full Router.
type selectorDeps struct {
	discovery             *modeldiscovery.Directory
	cooldowns             *cooldownLedger
	penalties             *penaltyWindow
	inFlight              *inFlightAccountant
	concurrencyMultiplier float64
	pool429               config.Pool429PenaltyConfig
	glm5                  config.GLM5Config
}

// liveCandidate is a scored, not-yet-ranked pool candidate.
type liveCandidate struct {
	ScoredCandidate
	forced bool // glm-5 hook pinned this candidate's score; scoreCandidate must not overwrite it
}

// selectionResult is selectFromPool's return value.
type selectionResult struct {
	Model         string
	Table         []ScoredCandidate
	FallbackCount map[FallbackReason]int
	GLM5Eligible  bool
	GLM5Shadow    bool
}

// selectFromPool implements spec.md §4.6: score every non-attempted,
// non-cooled candidate, apply the glm-5 staged rollout hook to the heavy
// tier, then pick under the tier's named strategy. Returns the chosen
// model (empty if none), the full scoring table (ranked live candidates
// first, then skipped candidates, for explainability), and the
// accumulated fallback-reason counts for commitMeta.
func selectFromPool(ctx context.Context, deps selectorDeps, tier config.Tier, strategy config.Strategy, candidates []string, attempted map[string]struct{}, estimatedTokens int, rnd rng) selectionResult {
	table := make([]ScoredCandidate, 0, len(candidates))
	reasons := make(map[FallbackReason]int)

	var live []liveCandidate

	maxPos := len(candidates) - 1
	if maxPos < 0 {
		maxPos = 0
	}

	for pos, model := range candidates {
		if _, ok := attempted[model]; ok {
			reasons[ReasonNotInCandidates]++
			table = append(table, ScoredCandidate{Model: model, Position: pos, Skipped: true, SkipReason: ReasonNotInCandidates})
			continue
		}
		if deps.cooldowns.isCooled(model) {
			reasons[ReasonCooldown]++
			table = append(table, ScoredCandidate{Model: model, Position: pos, Skipped: true, SkipReason: ReasonCooldown})
			continue
		}

		meta, _ := deps.discovery.GetModel(ctx, model)
		effectiveMax := int(float64(meta.MaxConcurrency) * deps.concurrencyMultiplier)
		inFlight := deps.inFlight.count(model)
		available := effectiveMax - inFlight
		if available <= 0 {
			reasons[ReasonAtCapacity]++
			table = append(table, ScoredCandidate{Model: model, Position: pos, InFlight: inFlight, Skipped: true, SkipReason: ReasonAtCapacity})
			continue
		}
		if meta.ContextLength > 0 && estimatedTokens > meta.ContextLength {
			reasons[ReasonContextOverflow]++
			table = append(table, ScoredCandidate{Model: model, Position: pos, InFlight: inFlight, Available: available, Skipped: true, SkipReason: ReasonContextOverflow})
			continue
		}

		hitCount := 0
		if deps.pool429.Enabled {
			hitCount = deps.penalties.count(model)
		}

		live = append(live, liveCandidate{
			ScoredCandidate: ScoredCandidate{
				Model:     model,
				Position:  pos,
				InFlight:  inFlight,
				Available: available,
				HitCount:  hitCount,
				Cost:      meta.CostPerMillion(),
			},
		})
	}

	if len(live) == 0 {
		reasons[ReasonTierExhausted]++
		return selectionResult{Table: table, FallbackCount: reasons}
	}

	glm5Eligible, glm5Shadow := applyGLM5Hook(tier, deps.glm5, live, rnd)

	for i := range live {
		if live[i].forced {
			continue
		}
		live[i].Score = scoreCandidate(strategy, live[i].ScoredCandidate, maxPos, deps.pool429.PenaltyWeight)
	}

	sort.SliceStable(live, func(i, j int) bool {
		return rankLess(strategy, live[i].ScoredCandidate, live[j].ScoredCandidate)
	})

	ranked := make([]ScoredCandidate, 0, len(live)+len(table))
	for _, s := range live {
		ranked = append(ranked, s.ScoredCandidate)
	}
	table = append(ranked, table...)

	return selectionResult{
		Model:         live[0].Model,
		Table:         table,
		FallbackCount: reasons,
		GLM5Eligible:  glm5Eligible,
		GLM5Shadow:    glm5Shadow,
	}
}

// applyGLM5Hook implements the heavy-tier staged rollout hook: if glm-5
// is disabled its score is pinned to -inf (never chosen); else the
// request counts as "eligible" and, with probability
// preferencePercent/100, glm-5's score is pinned to +inf and its
// position to -1 (forced active); otherwise the request counts as
// "shadow" and scoring proceeds normally.
func applyGLM5Hook(tier config.Tier, glm5 config.GLM5Config, live []liveCandidate, rnd rng) (eligible, shadow bool) {
	if tier != config.TierHeavy {
		return false, false
	}
	idx := -1
	for i, c := range live {
		if c.Model == "glm-5" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, false
	}
	if !glm5.Enabled {
		live[idx].Score = math.Inf(-1)
		live[idx].forced = true
		return false, false
	}
	eligible = true
	roll := rnd.Float64()
	threshold := float64(glm5.PreferencePercent) / 100.0
	if roll < threshold {
		live[idx].Score = math.Inf(1)
		live[idx].Position = -1
		live[idx].forced = true
		return true, false
	}
	return true, true
}

// scoreCandidate computes a strategy's primary ranking key for one
// scored candidate, per spec.md §4.6's table.
func scoreCandidate(strategy config.Strategy, c ScoredCandidate, maxPos int, penaltyWeight float64) float64 {
	switch strategy {
	case config.StrategyQuality:
		return -float64(c.Position)
	case config.StrategyThroughput, config.StrategyPool:
		return float64(c.Available) * (1.0 / (1.0 + float64(c.HitCount)*penaltyWeight))
	case config.StrategyBalanced:
		positionTerm := 0.6 * (1 - float64(c.Position)/float64(maxPos+1))
		availTerm := 0.0
		if c.Available+c.InFlight > 0 {
			availTerm = 0.4 * (float64(c.Available) / float64(c.Available+c.InFlight))
		}
		return positionTerm + availTerm
	default:
		return -float64(c.Position)
	}
}

// rankLess orders two already-scored candidates under strategy: primary
// by Score descending (quality inverts Position into Score so smaller
// position sorts first), secondary by cost ascending, maxConcurrency
// is approximated by Available+InFlight descending, final tiebreak
// lexicographic by Model.
func rankLess(strategy config.Strategy, a, b ScoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	if strategy == config.StrategyThroughput || strategy == config.StrategyPool {
		aCap := a.Available + a.InFlight
		bCap := b.Available + b.InFlight
		if aCap != bCap {
			return aCap > bCap
		}
	}
	return a.Model < b.Model
}
