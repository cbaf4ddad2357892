// Package router implements the GLM routing and admission core: feature
// extraction and classification, cooldown and penalty-window accounting,
// pool selection under named strategies, the two-phase decision engine,
// trace/explain/simulation, drift detection, and admission-hold peeking.
//
// The package speaks only in terms of a parsed request body; it never
// touches HTTP, SSE, or upstream provider wire formats.
package router

import (
	"time"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

// DecisionSource names where a Decision's model came from.
type DecisionSource string

const (
	SourceOverride      DecisionSource = "override"
	SourceSavedOverride DecisionSource = "saved-override"
	SourceRule          DecisionSource = "rule"
	SourceClassifier    DecisionSource = "classifier"
	SourcePool          DecisionSource = "pool"
	SourceFailover      DecisionSource = "failover"
	SourceTierDowngrade DecisionSource = "tier_downgrade"
	SourceDefault       DecisionSource = "default"
	SourceNone          DecisionSource = "none"
)

// UpgradeReason names why the classifier's heuristic promoted a request
// to the heavy tier. Bounded enum to keep the by-upgrade-reason metric's
// cardinality finite.
type UpgradeReason string

const (
	UpgradeMaxTokens     UpgradeReason = "max_tokens"
	UpgradeMessageCount  UpgradeReason = "message_count"
	UpgradeSystemLength  UpgradeReason = "system_length"
	UpgradeHasTools      UpgradeReason = "has_tools"
	UpgradeHasVision     UpgradeReason = "has_vision"
	UpgradeComplexity    UpgradeReason = "complexity_threshold"
)

// FallbackReason names why a pool candidate was skipped during selection.
type FallbackReason string

const (
	ReasonNotInCandidates FallbackReason = "not_in_candidates"
	ReasonCooldown        FallbackReason = "cooldown"
	ReasonAtCapacity       FallbackReason = "at_capacity"
	ReasonContextOverflow FallbackReason = "context_overflow"
	ReasonTierExhausted   FallbackReason = "tier_exhausted"
)

// ContextOverflowCause names why a selected model's context window could
// not accommodate the estimated request size.
type ContextOverflowCause string

const (
	CauseTransientUnavailable ContextOverflowCause = "transient_unavailable"
	CauseGenuine              ContextOverflowCause = "genuine"
)

// FeatureVector is the pure extraction of routing-relevant features from
// a parsed request body.
type FeatureVector struct {
	Model         string
	MaxTokens     *int
	MessageCount  int
	SystemLength  int
	HasTools      bool
	HasVision     bool
	Stream        bool
}

// RequestContext is everything a decision needs beyond the parsed body:
// per-request override, the set of models already attempted by the
// caller (fed back across retries), and flags controlling dry-run /
// tracing behavior.
type RequestContext struct {
	RequestID       string
	Features        FeatureVector
	Override        string // per-request override model, "" if none
	SkipOverrides   bool
	AttemptedModels map[string]struct{}

	DryRun         bool
	BypassSampling bool
	IncludeTrace   bool

	// EstimatedTokens is precomputed by the caller from the feature
	// vector using the token-estimation heuristic in estimate.go; kept on
	// the context so computeDecision never needs to re-derive it.
	EstimatedTokens int
}

// ContextOverflow describes a selected model whose context window cannot
// fit the estimated request.
type ContextOverflow struct {
	EstimatedTokens    int
	ModelContextLength int
	OverflowBy         int
	Cause              ContextOverflowCause
}

// ScoredCandidate is one entry of a pool selector's scoring table,
// surfaced on the decision and trace for explainability.
type ScoredCandidate struct {
	Model      string
	Position   int
	Score      float64
	InFlight   int
	Available  int
	HitCount   int
	Cost       float64
	Skipped    bool
	SkipReason FallbackReason
}

// Decision is the outcome of computeDecision, optionally committed by
// commitDecision. commitMeta is intentionally unexported: it is a
// side-table of pending counter deltas that must never leak into a
// Decision's JSON encoding (the Go analogue of the spec's non-enumerable
// `__commitMeta` field).
type Decision struct {
	Model    string
	Tier     config.Tier
	Strategy config.Strategy
	Source   DecisionSource
	Reason   string

	UpgradeReason    UpgradeReason
	DegradedFromTier config.Tier
	ScoringTable     []ScoredCandidate
	ContextOverflow  *ContextOverflow

	Committed bool
	Trace     *Trace

	commitMeta *commitMeta
}

// commitMeta accumulates side effects computed during computeDecision
// that must only be applied to shared counters inside commitDecision (or
// commitDecisionOverflow), never during the pure computation itself.
type commitMeta struct {
	fallbackReasons    map[FallbackReason]int
	upgradeReason      UpgradeReason
	glm5Eligible       bool
	glm5Shadow         bool
	shadowDowngradeTier config.Tier
	isFailoverWarmup   bool
	traceSampled       bool
}

// PoolSnapshot is a point-in-time view of a set of models' routing state,
// used both as the drift detector's router-side input and as
// simulateStatefulMode's replay input.
type PoolSnapshot struct {
	Version   string              `json:"version"`
	Timestamp time.Time           `json:"timestamp"`
	Models    []ModelSnapshotItem `json:"models"`
}

// SnapshotVersion is the only PoolSnapshot version this module
// understands; others fail with ErrUnsupportedSnapshot.
const SnapshotVersion = "1.0"

// ModelSnapshotItem is one model's entry within a PoolSnapshot.
type ModelSnapshotItem struct {
	ModelID        string     `json:"modelId"`
	Tier           config.Tier `json:"tier"`
	InFlight       int        `json:"inFlight"`
	MaxConcurrency int        `json:"maxConcurrency"`
	IsAvailable    bool       `json:"isAvailable"`
	CooldownUntil  *time.Time `json:"cooldownUntil,omitempty"`
}

// CooldownInfo is the introspection shape returned by GetCooldowns.
type CooldownInfo struct {
	RemainingMs    int64
	Count          int
	BurstDampened  bool
}

// HoldInfo is peekAdmissionHold's result: every candidate in the resolved
// tier (and, if downgrade is allowed, lower tiers) is currently cooled.
type HoldInfo struct {
	Tier         config.Tier
	Candidates   []string
	MinCooldownMs int64
	AllCooled    bool
}

// DriftEvent is one entry of the drift detector's bounded ring buffer.
type DriftEvent struct {
	ID        string
	Tier      config.Tier
	Model     string
	Reason    DriftReason
	Timestamp time.Time
}

// DriftReason enumerates the typed disagreements the drift detector can
// observe between the router's and key manager's views of a model.
type DriftReason string

const (
	DriftRouterAvailableKMExcluded DriftReason = "router_available_km_excluded"
	DriftKMAvailableRouterCooled   DriftReason = "km_available_router_cooled"
	DriftConcurrencyMismatch       DriftReason = "concurrency_mismatch"
	DriftCooldownMismatch          DriftReason = "cooldown_mismatch"
)
