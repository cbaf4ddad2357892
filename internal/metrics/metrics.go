// Package metrics exposes the routing core's Prometheus counters and
// gauges, grounded on the teacher's promauto-based collectors
// (internal/metrics/collector.go, internal/metrics/budget.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "glmrouter"

var (
	// DecisionsTotal counts every computed decision, labeled by source.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total routing decisions by source.",
		},
		[]string{"source"},
	)

	// DecisionsByTier counts committed decisions by resolved tier.
	DecisionsByTier = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_by_tier_total",
			Help:      "Committed routing decisions by tier.",
		},
		[]string{"tier"},
	)

	// DecisionsByStrategy counts committed decisions by pool strategy.
	DecisionsByStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_by_strategy_total",
			Help:      "Committed routing decisions by selection strategy.",
		},
		[]string{"strategy"},
	)

	// DecisionsByModelHeavy counts committed heavy-tier decisions by model.
	DecisionsByModelHeavy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_heavy_by_model_total",
			Help:      "Committed heavy-tier routing decisions by model.",
		},
		[]string{"model"},
	)

	// UpgradeReasonsHeavy counts heavy-tier classifier upgrade reasons.
	UpgradeReasonsHeavy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrade_reasons_heavy_total",
			Help:      "Heavy-tier classifier upgrade reasons.",
		},
		[]string{"reason"},
	)

	// FallbackReasons counts why a pool candidate was skipped during
	// selection.
	FallbackReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_reasons_total",
			Help:      "Reasons a pool candidate was skipped during selection.",
		},
		[]string{"reason"},
	)

	// TierDowngradeRoutes counts tier downgrade routes taken, labeled
	// "from->to".
	TierDowngradeRoutes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_downgrade_routes_total",
			Help:      "Tier downgrade routes taken.",
		},
		[]string{"route"},
	)

	// ShadowTierDowngrades counts downgrades that would have happened had
	// allowTierDowngrade been true.
	ShadowTierDowngrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_tier_downgrades_total",
			Help:      "Tier downgrades that were shadow-counted because allowTierDowngrade is false.",
		},
		[]string{"tier"},
	)

	// WarmupFailovers counts failovers that landed within the process
	// warmup window.
	WarmupFailovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warmup_failovers_total",
			Help:      "Failovers that occurred within the warmup window after process start.",
		},
	)

	// ShadowDecisions counts decisions computed and recorded but not
	// applied because shadowMode is enabled.
	ShadowDecisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_decisions_total",
			Help:      "Decisions computed under shadow mode.",
		},
	)

	// BurstDampenedTotal counts cooldown hits suppressed by burst
	// dampening.
	BurstDampenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "burst_dampened_total",
			Help:      "Cooldown hits suppressed by burst dampening.",
		},
	)

	// ContextOverflowByCause counts context-overflow decisions by cause.
	ContextOverflowByCause = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_overflow_total",
			Help:      "Context-overflow decisions by cause.",
		},
		[]string{"cause"},
	)

	// GLM5RolloutTotal counts glm-5 staged rollout outcomes (eligible vs
	// shadow).
	GLM5RolloutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "glm5_rollout_total",
			Help:      "GLM-5 staged rollout coin-flip outcomes.",
		},
		[]string{"outcome"},
	)

	// DriftEventsTotal counts drift detections by tier and reason.
	DriftEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_events_total",
			Help:      "Drift events between router and key manager views.",
		},
		[]string{"tier", "reason"},
	)

	// ConfigMigrationWriteFailures counts failed attempts to persist a
	// migrated config.
	ConfigMigrationWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_migration_write_failure_total",
			Help:      "Failed attempts to persist a migrated routing config.",
		},
	)

	// InFlightGauge reports current in-flight requests per model.
	InFlightGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Current in-flight requests per model.",
		},
		[]string{"model"},
	)
)
