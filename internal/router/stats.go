package router

import (
	"sync"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/metrics"
)

// statsRegistry mirrors the Prometheus counters in internal/metrics with
// plain in-process tallies, so getStats() can answer introspection
// queries without scraping the Prometheus registry.
type statsRegistry struct {
	mu sync.Mutex

	total          int64
	bySource       map[DecisionSource]int64
	byTier         map[config.Tier]int64
	byStrategy     map[config.Strategy]int64
	byModelHeavy   map[string]int64
	upgradeReasons map[UpgradeReason]int64
	fallbackReasons map[FallbackReason]int64
	tierDowngrades map[string]int64
	shadowDowngrades map[config.Tier]int64
	overflowByCause map[ContextOverflowCause]int64
	glm5Outcomes   map[string]int64

	warmupFailovers int64
	shadowDecisions int64
	burstDampened   int64
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{
		bySource:        make(map[DecisionSource]int64),
		byTier:          make(map[config.Tier]int64),
		byStrategy:      make(map[config.Strategy]int64),
		byModelHeavy:    make(map[string]int64),
		upgradeReasons:  make(map[UpgradeReason]int64),
		fallbackReasons: make(map[FallbackReason]int64),
		tierDowngrades:  make(map[string]int64),
		shadowDowngrades: make(map[config.Tier]int64),
		overflowByCause: make(map[ContextOverflowCause]int64),
		glm5Outcomes:    make(map[string]int64),
	}
}

// recordDecision folds a decision's side effects into both the
// in-process tallies and the Prometheus counters. Every decision counts
// toward the total, by-source and fallback-reason tallies; only a
// committed one counts toward the tier, strategy, model, upgrade,
// downgrade and warmup tallies.
func (s *statsRegistry) recordDecision(d Decision, isWarmup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.bySource[d.Source]++
	metrics.DecisionsTotal.WithLabelValues(string(d.Source)).Inc()

	if d.commitMeta != nil {
		for reason, n := range d.commitMeta.fallbackReasons {
			s.fallbackReasons[reason] += int64(n)
			metrics.FallbackReasons.WithLabelValues(string(reason)).Add(float64(n))
		}
	}

	if d.Model == "" || !d.Committed {
		return
	}

	s.byTier[d.Tier]++
	metrics.DecisionsByTier.WithLabelValues(string(d.Tier)).Inc()

	s.byStrategy[d.Strategy]++
	metrics.DecisionsByStrategy.WithLabelValues(string(d.Strategy)).Inc()

	if d.Tier == config.TierHeavy {
		s.byModelHeavy[d.Model]++
		metrics.DecisionsByModelHeavy.WithLabelValues(d.Model).Inc()
		if d.UpgradeReason != "" {
			s.upgradeReasons[d.UpgradeReason]++
			metrics.UpgradeReasonsHeavy.WithLabelValues(string(d.UpgradeReason)).Inc()
		}
	}

	if d.Source == SourceTierDowngrade {
		route := string(d.DegradedFromTier) + "->" + string(d.Tier)
		s.tierDowngrades[route]++
		metrics.TierDowngradeRoutes.WithLabelValues(route).Inc()
	}

	if d.Source == SourceFailover && isWarmup {
		s.warmupFailovers++
		metrics.WarmupFailovers.Inc()
	}
}

func (s *statsRegistry) recordShadowDowngrade(tier config.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadowDowngrades[tier]++
	metrics.ShadowTierDowngrades.WithLabelValues(string(tier)).Inc()
}

func (s *statsRegistry) recordShadowDecision() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadowDecisions++
	metrics.ShadowDecisions.Inc()
}

func (s *statsRegistry) recordBurstDampened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.burstDampened++
	metrics.BurstDampenedTotal.Inc()
}

func (s *statsRegistry) recordOverflow(cause ContextOverflowCause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overflowByCause[cause]++
	metrics.ContextOverflowByCause.WithLabelValues(string(cause)).Inc()
}

func (s *statsRegistry) recordGLM5(eligible, shadow bool) {
	if !eligible {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := "active"
	if shadow {
		outcome = "shadow"
	}
	s.glm5Outcomes[outcome]++
	metrics.GLM5RolloutTotal.WithLabelValues(outcome).Inc()
}

// StatsSnapshot is the value returned by Router.GetStats.
type StatsSnapshot struct {
	Total            int64
	BySource         map[DecisionSource]int64
	ByTier           map[config.Tier]int64
	ByStrategy       map[config.Strategy]int64
	ByModelHeavy     map[string]int64
	UpgradeReasons   map[UpgradeReason]int64
	FallbackReasons  map[FallbackReason]int64
	TierDowngrades   map[string]int64
	ShadowDowngrades map[config.Tier]int64
	OverflowByCause  map[ContextOverflowCause]int64
	GLM5Outcomes     map[string]int64
	WarmupFailovers  int64
	ShadowDecisions  int64
	BurstDampened    int64
}

func (s *statsRegistry) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := func(m map[DecisionSource]int64) map[DecisionSource]int64 {
		out := make(map[DecisionSource]int64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}

	return StatsSnapshot{
		Total:            s.total,
		BySource:         cp(s.bySource),
		ByTier:           copyTierMap(s.byTier),
		ByStrategy:       copyStrategyMap(s.byStrategy),
		ByModelHeavy:     copyStringMap(s.byModelHeavy),
		UpgradeReasons:   copyUpgradeMap(s.upgradeReasons),
		FallbackReasons:  copyFallbackMap(s.fallbackReasons),
		TierDowngrades:   copyStringMap(s.tierDowngrades),
		ShadowDowngrades: copyTierMap(s.shadowDowngrades),
		OverflowByCause:  copyOverflowMap(s.overflowByCause),
		GLM5Outcomes:     copyStringMap(s.glm5Outcomes),
		WarmupFailovers:  s.warmupFailovers,
		ShadowDecisions:  s.shadowDecisions,
		BurstDampened:    s.burstDampened,
	}
}

func copyTierMap(m map[config.Tier]int64) map[config.Tier]int64 {
	out := make(map[config.Tier]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStrategyMap(m map[config.Strategy]int64) map[config.Strategy]int64 {
	out := make(map[config.Strategy]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyUpgradeMap(m map[UpgradeReason]int64) map[UpgradeReason]int64 {
	out := make(map[UpgradeReason]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFallbackMap(m map[FallbackReason]int64) map[FallbackReason]int64 {
	out := make(map[FallbackReason]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyOverflowMap(m map[ContextOverflowCause]int64) map[ContextOverflowCause]int64 {
	out := make(map[ContextOverflowCause]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
