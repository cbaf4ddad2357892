package router

import (
	"context"
	"strings"
	"time"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

// computeDecision implements spec.md §4.7's precedence chain. It is pure
// except for the metadata directory's read-through cache: no shared
// counter (cooldown, penalty, in-flight, stats) is mutated. All pending
// side effects are accumulated into the returned Decision's commitMeta
// for commitDecision / commitDecisionOverflow to flush.
func (r *Router) computeDecision(ctx context.Context, reqCtx RequestContext) Decision {
	cfg := r.cfgMgr.Get()
	meta := &commitMeta{fallbackReasons: make(map[FallbackReason]int)}
	fv := reqCtx.Features

	if !cfg.Enabled {
		return Decision{Source: SourceNone, Reason: "disabled", commitMeta: meta}
	}

	if !reqCtx.SkipOverrides {
		if reqCtx.Override != "" {
			return Decision{Model: reqCtx.Override, Source: SourceOverride, Reason: "override", commitMeta: meta}
		}
		if m, ok := r.overrides.get(fv.Model); ok {
			return Decision{Model: m, Source: SourceSavedOverride, Reason: "saved override", commitMeta: meta}
		}
	}

	cls := classify(cfg, fv)
	if !cls.matched {
		if cfg.DefaultModel != "" {
			return Decision{Model: cfg.DefaultModel, Source: SourceDefault, Reason: "default model", commitMeta: meta}
		}
		return Decision{Source: SourceNone, Reason: "no match", commitMeta: meta}
	}

	tier := cls.Tier
	tc := cfg.Tiers[tier]
	rnd := pickRNG(reqCtx)
	deps := selectorDeps{
		discovery:             r.discovery,
		cooldowns:             r.cooldowns,
		penalties:             r.penalties,
		inFlight:              r.inFlight,
		concurrencyMultiplier: r.concurrencyMultiplier,
		pool429:               cfg.Pool429Penalty,
		glm5:                  cfg.GLM5,
	}

	result := selectFromPool(ctx, deps, tier, tc.Strategy, tc.Models, reqCtx.AttemptedModels, reqCtx.EstimatedTokens, rnd)
	mergeFallbackReasons(meta, result.FallbackCount)
	meta.glm5Eligible = result.GLM5Eligible
	meta.glm5Shadow = result.GLM5Shadow

	var decision Decision
	switch {
	case result.Model != "":
		source := cls.Source
		if tc.Strategy == config.StrategyPool {
			source = SourcePool
		}
		decision = Decision{
			Model:         result.Model,
			Tier:          tier,
			Strategy:      tc.Strategy,
			Source:        source,
			Reason:        cls.Reason,
			UpgradeReason: cls.UpgradeReason,
			ScoringTable:  result.Table,
		}
	default:
		effectiveMax := effectiveMaxSwitches(cfg.Failover.MaxModelSwitchesPerRequest, tc.Models)
		best, reason := bestEffortFailover(r.cooldowns, tc.Models, reqCtx.AttemptedModels, effectiveMax)
		if best != "" {
			decision = Decision{
				Model:        best,
				Tier:         tier,
				Strategy:     tc.Strategy,
				Source:       SourceFailover,
				Reason:       "warning: " + reason,
				ScoringTable: result.Table,
			}
		} else {
			decision = Decision{
				Tier:         tier,
				Strategy:     tc.Strategy,
				Source:       SourceNone,
				Reason:       "warning: tier exhausted",
				ScoringTable: result.Table,
			}
		}
	}

	if strings.Contains(decision.Reason, "warning:") {
		if downgraded, ok := r.attemptTierDowngrade(ctx, cfg, tier, reqCtx, rnd, meta); ok {
			decision = downgraded
		}
	}

	if decision.Model != "" {
		decision.ContextOverflow = r.checkContextOverflow(ctx, decision, reqCtx)
	}

	decision.commitMeta = meta
	return decision
}

func mergeFallbackReasons(meta *commitMeta, counts map[FallbackReason]int) {
	for reason, n := range counts {
		meta.fallbackReasons[reason] += n
	}
}

// effectiveMaxSwitches bounds the configured max-switches-per-request by
// the number of unique candidates actually available to try.
func effectiveMaxSwitches(configured int, models []string) int {
	if configured <= 0 || configured > len(models) {
		return len(models)
	}
	return configured
}

// bestEffortFailover walks a tier's candidate list (minus already
// attempted models) and returns the one with the shortest remaining
// cooldown — used when every candidate in computeDecision's pool pass was
// skipped. effectiveMax is an attempt budget: once len(attempted) has
// reached it, no failover model is returned.
func bestEffortFailover(cooldowns *cooldownLedger, models []string, attempted map[string]struct{}, effectiveMax int) (string, string) {
	if len(attempted) >= effectiveMax {
		return "", ""
	}
	best := ""
	bestRemaining := int64(-1)
	for _, model := range models {
		if _, ok := attempted[model]; ok {
			continue
		}
		remaining := cooldowns.remaining(model)
		if bestRemaining < 0 || remaining < bestRemaining {
			best = model
			bestRemaining = remaining
		}
	}
	if best == "" {
		return "", ""
	}
	return best, "best effort, shortest remaining cooldown"
}

// attemptTierDowngrade walks the configured downgrade order looking for
// a tier (other than current) with at least one available candidate. If
// allowTierDowngrade is set it commits to the first such tier found and
// reroutes the decision there; otherwise it records a shadow downgrade
// and stops after the first candidate tier, per spec.md §4.7 step 6.
func (r *Router) attemptTierDowngrade(ctx context.Context, cfg *config.RoutingConfig, current config.Tier, reqCtx RequestContext, rnd rng, meta *commitMeta) (Decision, bool) {
	for _, candidateTier := range cfg.Failover.DowngradeOrder {
		if candidateTier == current {
			continue
		}
		tc, ok := cfg.Tiers[candidateTier]
		if !ok || len(tc.Models) == 0 {
			continue
		}
		deps := selectorDeps{
			discovery:             r.discovery,
			cooldowns:             r.cooldowns,
			penalties:             r.penalties,
			inFlight:              r.inFlight,
			concurrencyMultiplier: r.concurrencyMultiplier,
			pool429:               cfg.Pool429Penalty,
			glm5:                  cfg.GLM5,
		}
		result := selectFromPool(ctx, deps, candidateTier, tc.Strategy, tc.Models, reqCtx.AttemptedModels, reqCtx.EstimatedTokens, rnd)
		if result.Model == "" {
			continue
		}

		if !cfg.Failover.AllowTierDowngrade {
			meta.shadowDowngradeTier = candidateTier
			return Decision{}, false
		}

		mergeFallbackReasons(meta, result.FallbackCount)
		return Decision{
			Model:            result.Model,
			Tier:             candidateTier,
			Strategy:         tc.Strategy,
			Source:           SourceTierDowngrade,
			Reason:           "tier downgrade from " + string(current),
			DegradedFromTier: current,
			ScoringTable:     result.Table,
		}, true
	}
	return Decision{}, false
}

// checkContextOverflow implements spec.md §4.7 step 7.
func (r *Router) checkContextOverflow(ctx context.Context, decision Decision, reqCtx RequestContext) *ContextOverflow {
	meta, ok := r.discovery.GetModel(ctx, decision.Model)
	if !ok || meta.ContextLength <= 0 || reqCtx.EstimatedTokens <= meta.ContextLength {
		return nil
	}

	cause := CauseGenuine
	tc := r.cfgMgr.Get().Tiers[decision.Tier]
	for _, candidate := range tc.Models {
		if candidate == decision.Model {
			continue
		}
		candMeta, ok := r.discovery.GetModel(ctx, candidate)
		if !ok || candMeta.ContextLength <= 0 || candMeta.ContextLength < reqCtx.EstimatedTokens {
			continue
		}
		if r.cooldowns.isCooled(candidate) {
			cause = CauseTransientUnavailable
			break
		}
		effectiveMax := int(float64(candMeta.MaxConcurrency) * r.concurrencyMultiplier)
		if r.inFlight.count(candidate) >= effectiveMax {
			cause = CauseTransientUnavailable
			break
		}
	}

	return &ContextOverflow{
		EstimatedTokens:    reqCtx.EstimatedTokens,
		ModelContextLength: meta.ContextLength,
		OverflowBy:         reqCtx.EstimatedTokens - meta.ContextLength,
		Cause:              cause,
	}
}

// commitDecision implements spec.md §4.7's commit phase: idempotent,
// acquires the in-flight slot for decision.Model under the Router's
// single mutex (spec §5's chosen concurrency strategy), then flushes
// pending meta into stats.
func (r *Router) commitDecision(ctx context.Context, decision *Decision) bool {
	if decision.Committed {
		return true
	}
	if decision.Model == "" {
		r.stats.recordDecision(*decision, false)
		decision.Committed = false
		return false
	}

	r.mu.Lock()
	meta, ok := r.discovery.GetModel(ctx, decision.Model)
	effectiveMax := 0
	if ok {
		effectiveMax = int(float64(meta.MaxConcurrency) * r.concurrencyMultiplier)
	}
	acquired := r.inFlight.tryAcquire(decision.Model, effectiveMax)
	r.mu.Unlock()

	if !acquired {
		r.stats.recordDecision(*decision, false)
		decision.Committed = false
		return false
	}

	decision.Committed = true
	isWarmup := r.warmupDuration > 0 && time.Since(r.startedAt) < r.warmupDuration
	r.flushMeta(decision)
	r.stats.recordDecision(*decision, isWarmup)
	return true
}

// commitDecisionOverflow implements spec.md §4.7's overflow path: a fast
// 400 failure that records overflow-specific stats and flushes pending
// meta without ever acquiring a slot.
func (r *Router) commitDecisionOverflow(decision *Decision) {
	decision.Committed = false
	if decision.ContextOverflow != nil {
		r.stats.recordOverflow(decision.ContextOverflow.Cause)
	}
	r.flushMeta(decision)
	r.stats.recordDecision(*decision, false)
}

func (r *Router) flushMeta(decision *Decision) {
	meta := decision.commitMeta
	if meta == nil {
		return
	}
	if meta.shadowDowngradeTier != "" {
		r.stats.recordShadowDowngrade(meta.shadowDowngradeTier)
	}
	if meta.glm5Eligible {
		r.stats.recordGLM5(meta.glm5Eligible, meta.glm5Shadow)
	}
}
