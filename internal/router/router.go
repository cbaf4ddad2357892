package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/keymanager"
	"github.com/blueberrycongee/glmrouter/internal/modeldiscovery"
	"github.com/blueberrycongee/glmrouter/pkg/types"
)

// Options configures a Router at construction time. Fields mirror the
// constructor options spec.md §6 calls out as environment-injected:
// warmupDurationMs and concurrencyMultiplier.
type Options struct {
	ConfigManager     *config.Manager
	Discovery         *modeldiscovery.Directory
	KeyManager        keymanager.KeyManager
	Logger            *slog.Logger

	OverridesPath        string
	MaxOverrides         int
	PersistOverrides     bool

	ConfigPersistPath  string
	PersistConfigEdits bool

	ConcurrencyMultiplier float64
	WarmupDuration         time.Duration
}

// Router is the routing and admission core: the single long-lived owner
// of cooldown/penalty/in-flight state, the override store, stats, and
// drift detection for the process lifetime.
type Router struct {
	// mu serializes commitDecision's metadata lookup and capacity-checked
	// slot acquisition. Pool selection (computeDecision) runs without it;
	// tryAcquire re-checks capacity, so two requests never both take a
	// model's last slot, and a decision whose slot is gone by commit time
	// is returned uncommitted rather than re-scored.
	mu sync.Mutex

	cfgMgr    *config.Manager
	discovery *modeldiscovery.Directory
	keyMgr    keymanager.KeyManager
	logger    *slog.Logger

	cooldowns     *cooldownLedger
	penalties     *penaltyWindow
	inFlight      *inFlightAccountant
	overrides     *overrideStore
	configPersist *configPersister
	drift         *driftDetector
	stats         *statsRegistry

	concurrencyMultiplier float64
	warmupDuration        time.Duration
	startedAt             time.Time

	lastShadow atomic.Pointer[Decision]
}

// New constructs a Router from Options, loading persisted overrides if
// configured.
func New(opts Options) (*Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	km := opts.KeyManager
	if km == nil {
		km = keymanager.Noop{}
	}
	multiplier := opts.ConcurrencyMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	cfg := opts.ConfigManager.Get()

	r := &Router{
		cfgMgr:                opts.ConfigManager,
		discovery:             opts.Discovery,
		keyMgr:                km,
		logger:                logger,
		cooldowns:             newCooldownLedger(cfg.Cooldown),
		penalties:             newPenaltyWindow(cfg.Pool429Penalty),
		inFlight:              newInFlightAccountant(),
		overrides:             newOverrideStore(opts.OverridesPath, opts.MaxOverrides, opts.PersistOverrides),
		configPersist:         newConfigPersister(opts.ConfigPersistPath, opts.PersistConfigEdits),
		drift:                 newDriftDetector(km),
		stats:                 newStatsRegistry(),
		concurrencyMultiplier: multiplier,
		warmupDuration:        opts.WarmupDuration,
		startedAt:             time.Now(),
	}

	if err := r.overrides.load(); err != nil {
		logger.Warn("failed to load persisted overrides", "error", err, "path", opts.OverridesPath)
	}
	if err := r.configPersist.load(); err != nil {
		logger.Warn("failed to load config migration marker", "error", err, "path", opts.ConfigPersistPath)
	}

	opts.ConfigManager.OnChange(func(cfg *config.RoutingConfig) {
		r.cooldowns.setConfig(cfg.Cooldown)
		r.penalties.setConfig(cfg.Pool429Penalty)
	})

	return r, nil
}

// buildRequestContext derives a RequestContext from a parsed body, ready
// for computeDecision.
func (r *Router) buildRequestContext(req *types.MessagesRequest, override string, attempted map[string]struct{}, opts RequestOptions) RequestContext {
	fv := extractFeatures(req)
	estimated := estimateTokens(req, fv)
	if attempted == nil {
		attempted = make(map[string]struct{})
	}
	return RequestContext{
		RequestID:       uuid.NewString(),
		Features:        fv,
		Override:        override,
		SkipOverrides:   opts.SkipOverrides,
		AttemptedModels: attempted,
		DryRun:          opts.DryRun,
		BypassSampling:  opts.BypassSampling,
		IncludeTrace:    opts.IncludeTrace,
		EstimatedTokens: estimated,
	}
}

// RequestOptions controls per-call behavior of SelectModel / Explain.
type RequestOptions struct {
	SkipOverrides  bool
	DryRun         bool
	BypassSampling bool
	IncludeTrace   bool
}

// SelectModel is the inbound decision API of spec.md §6. Disabled
// returns nil; shadow mode caches the decision and returns nil; overflow
// returns the decision uncommitted; otherwise it returns the decision,
// committed unless its model's slot could not be acquired.
func (r *Router) SelectModel(ctx context.Context, req *types.MessagesRequest, override string, attempted map[string]struct{}, opts RequestOptions) *Decision {
	cfg := r.cfgMgr.Get()
	reqCtx := r.buildRequestContext(req, override, attempted, opts)

	decision := r.computeDecision(ctx, reqCtx)

	if cfg.ShadowMode {
		shadow := decision
		r.lastShadow.Store(&shadow)
		r.stats.recordShadowDecision()
		return nil
	}

	if decision.Source == SourceNone && decision.Model == "" {
		r.stats.recordDecision(decision, false)
		return nil
	}

	if decision.ContextOverflow != nil {
		r.attachTraceIfSampled(&decision, cfg, reqCtx)
		r.commitDecisionOverflow(&decision)
		return &decision
	}

	r.commitDecision(ctx, &decision)
	r.attachTraceIfSampled(&decision, cfg, reqCtx)
	return &decision
}

func (r *Router) attachTraceIfSampled(decision *Decision, cfg *config.RoutingConfig, reqCtx RequestContext) {
	rnd := pickRNG(reqCtx)
	if !reqCtx.IncludeTrace && !shouldSample(cfg.Trace.SamplingRate, reqCtx.BypassSampling, rnd) {
		return
	}
	cls := classify(cfg, reqCtx.Features)
	trace := buildTrace(reqCtx, reqCtx.Features, cls, cfg.Classifier.HeavyThresholds, *decision, nil)
	clampTraceSize(trace, cfg.Trace.MaxPayloadSize)
	decision.Trace = trace
}

// PeekAdmissionHold is the read-only admission-hold query of spec.md
// §4.10 / §6.
func (r *Router) PeekAdmissionHold(req *types.MessagesRequest, attempted map[string]struct{}) *HoldInfo {
	cfg := r.cfgMgr.Get()
	reqCtx := r.buildRequestContext(req, "", attempted, RequestOptions{})
	return peekAdmissionHold(cfg, r.overrides, r.cooldowns, reqCtx, reqCtx.Features)
}

// ExplainResult is the Explain API's return value.
type ExplainResult struct {
	Decision        Decision
	CooldownReasons []CooldownInfo
}

// Explain implements spec.md §4.8's explain(): runs computeDecision with
// dryRun=true and includeTrace=true, never mutating stats or slots, and
// additionally reports the cooldown state of each candidate in the
// resolved tier that has a cooldown entry.
func (r *Router) Explain(ctx context.Context, req *types.MessagesRequest, attempted map[string]struct{}) ExplainResult {
	cfg := r.cfgMgr.Get()
	reqCtx := r.buildRequestContext(req, "", attempted, RequestOptions{DryRun: true, IncludeTrace: true})
	decision := r.computeDecision(ctx, reqCtx)
	r.attachTraceIfSampled(&decision, cfg, reqCtx)

	var cooldownReasons []CooldownInfo
	if decision.Tier != "" {
		for _, model := range cfg.Tiers[decision.Tier].Models {
			if info, ok := r.cooldowns.info(model); ok {
				cooldownReasons = append(cooldownReasons, info)
			}
		}
	}

	return ExplainResult{Decision: decision, CooldownReasons: cooldownReasons}
}

// SimulateDecisionMode implements spec.md §4.8: swaps in empty
// in-flight / no-cooldown / no-penalty state, computes a decision, and
// restores the real state on every exit path.
func (r *Router) SimulateDecisionMode(ctx context.Context, req *types.MessagesRequest, attempted map[string]struct{}) (decision Decision, err error) {
	realCooldowns, realPenalties, realInFlight := r.cooldowns, r.penalties, r.inFlight
	cfg := r.cfgMgr.Get()

	r.cooldowns = newCooldownLedger(cfg.Cooldown)
	r.penalties = newPenaltyWindow(cfg.Pool429Penalty)
	r.inFlight = newInFlightAccountant()
	defer func() {
		r.cooldowns, r.penalties, r.inFlight = realCooldowns, realPenalties, realInFlight
	}()

	reqCtx := r.buildRequestContext(req, "", attempted, RequestOptions{DryRun: true, BypassSampling: true, IncludeTrace: true})
	decision = r.computeDecision(ctx, reqCtx)
	r.attachTraceIfSampled(&decision, cfg, reqCtx)
	return decision, nil
}

// SimulateStatefulMode implements spec.md §4.8: reconstructs per-model
// in-flight and cooldown state from a PoolSnapshot before computing a
// decision, then restores the real state. Unknown snapshot versions
// fail with ErrUnsupportedSnapshot.
func (r *Router) SimulateStatefulMode(ctx context.Context, req *types.MessagesRequest, attempted map[string]struct{}, snapshot PoolSnapshot) (decision Decision, err error) {
	if snapshot.Version != SnapshotVersion {
		return Decision{}, ErrUnsupportedSnapshot
	}

	realCooldowns, realPenalties, realInFlight := r.cooldowns, r.penalties, r.inFlight
	cfg := r.cfgMgr.Get()

	simCooldowns := newCooldownLedger(cfg.Cooldown)
	simInFlight := newInFlightAccountant()
	now := time.Now()
	for _, item := range snapshot.Models {
		for i := 0; i < item.InFlight; i++ {
			simInFlight.tryAcquire(item.ModelID, 0)
		}
		if !item.IsAvailable && item.CooldownUntil != nil && item.CooldownUntil.After(now) {
			remainMs := item.CooldownUntil.Sub(now).Milliseconds()
			simCooldowns.record(item.ModelID, remainMs, false)
		}
	}

	r.cooldowns = simCooldowns
	r.penalties = newPenaltyWindow(cfg.Pool429Penalty)
	r.inFlight = simInFlight
	defer func() {
		r.cooldowns, r.penalties, r.inFlight = realCooldowns, realPenalties, realInFlight
	}()

	reqCtx := r.buildRequestContext(req, "", attempted, RequestOptions{DryRun: true, BypassSampling: true, IncludeTrace: true})
	decision = r.computeDecision(ctx, reqCtx)
	r.attachTraceIfSampled(&decision, cfg, reqCtx)
	return decision, nil
}

// RecordModelCooldown is the feedback API called after the upstream
// reports a rate-limit or error signal.
func (r *Router) RecordModelCooldown(model string, retryAfterMs int64, burstDampened bool) {
	r.cooldowns.record(model, retryAfterMs, burstDampened)
	if burstDampened {
		r.stats.recordBurstDampened()
	}
}

// RecordPool429 is the feedback API called after the upstream reports a
// 429 against the penalty window.
func (r *Router) RecordPool429(model string) {
	r.penalties.record(model)
}

// ReleaseModel releases the in-flight slot acquired by a prior commit.
func (r *Router) ReleaseModel(model string) {
	r.inFlight.release(model)
}

// GetCooldowns is the introspection API over the cooldown ledger.
func (r *Router) GetCooldowns() map[string]CooldownInfo {
	return r.cooldowns.all()
}

// GetStats returns the current counter snapshot.
func (r *Router) GetStats() StatsSnapshot {
	return r.stats.snapshot()
}

// GetPool429PenaltyStats returns current 429-hit counts per model.
func (r *Router) GetPool429PenaltyStats() map[string]int {
	return r.penalties.stats()
}

// GetLastShadowDecision returns the most recently cached shadow-mode
// decision, if any.
func (r *Router) GetLastShadowDecision() *Decision {
	return r.lastShadow.Load()
}

// GetModelPoolSnapshot builds a process-wide PoolSnapshot from current
// router state, used both for GetPoolStatus and as drift detection
// input.
func (r *Router) GetModelPoolSnapshot(ctx context.Context) PoolSnapshot {
	cfg := r.cfgMgr.Get()
	now := time.Now()
	snap := PoolSnapshot{Version: SnapshotVersion, Timestamp: now}

	seen := make(map[string]bool)
	for tier, tc := range cfg.Tiers {
		for _, model := range tc.Models {
			if seen[model] {
				continue
			}
			seen[model] = true
			meta, _ := r.discovery.GetModel(ctx, model)
			inFlight := r.inFlight.count(model)
			effectiveMax := int(float64(meta.MaxConcurrency) * r.concurrencyMultiplier)
			cooled := r.cooldowns.isCooled(model)

			item := ModelSnapshotItem{
				ModelID:        model,
				Tier:           tier,
				InFlight:       inFlight,
				MaxConcurrency: effectiveMax,
				IsAvailable:    !cooled && (effectiveMax <= 0 || inFlight < effectiveMax),
			}
			if remaining := r.cooldowns.remaining(model); remaining > 0 {
				until := now.Add(time.Duration(remaining) * time.Millisecond)
				item.CooldownUntil = &until
			}
			snap.Models = append(snap.Models, item)
		}
	}
	return snap
}

// GetPoolStatus is an alias over GetModelPoolSnapshot grouped by tier,
// for admin-facing introspection.
func (r *Router) GetPoolStatus(ctx context.Context) map[config.Tier][]ModelSnapshotItem {
	snap := r.GetModelPoolSnapshot(ctx)
	out := make(map[config.Tier][]ModelSnapshotItem)
	for _, item := range snap.Models {
		out[item.Tier] = append(out[item.Tier], item)
	}
	return out
}

// RunDriftCheck compares the current router snapshot against the key
// manager's view for every model, recording any disagreements.
func (r *Router) RunDriftCheck(ctx context.Context) []DriftEvent {
	snap := r.GetModelPoolSnapshot(ctx)
	now := time.Now()
	var events []DriftEvent
	for _, item := range snap.Models {
		events = append(events, r.drift.check(item.Tier, item, now)...)
	}
	return events
}

// DriftEvents returns a snapshot of the bounded drift event ring.
func (r *Router) DriftEvents() []DriftEvent {
	return r.drift.events()
}

// ValidateConfig is the static configuration validator of spec.md §6. It
// takes the raw update document (not an already-decoded struct) so
// unknown keys and meta-only bootstrap keys (persistConfigEdits,
// configFile, overridesFile, maxOverrides) can be rejected before typed
// normalization silently drops anything it doesn't recognize.
func (r *Router) ValidateConfig(raw []byte) config.ValidateResult {
	_, result := config.ValidateUpdate(raw)
	return result
}

// UpdateConfigResult is the outcome of an administrative updateConfig
// call: the validation result plus whether the normalized config was
// durably persisted.
type UpdateConfigResult struct {
	config.ValidateResult
	Persisted    bool
	PersistError string
}

// UpdateConfig validates a raw update document (rejecting unknown and
// meta-only keys, then running the overlap validator per spec.md §6) and,
// if valid, hot-swaps the routing configuration. The normalized config is
// then persisted with its hash-based migration marker only when the
// normalizer reports migrated=true and the hash differs from the stored
// marker, per spec.md §4.11; a write failure still leaves the in-memory
// config updated and is reported via PersistError, matching the
// PersistenceFailed handling of spec.md §7.
func (r *Router) UpdateConfig(raw []byte) UpdateConfigResult {
	normalized, result := config.ValidateUpdate(raw)
	if !result.Valid {
		return UpdateConfigResult{ValidateResult: result}
	}

	r.cfgMgr.Update(normalized.Config)
	out := UpdateConfigResult{ValidateResult: result}

	if normalized.Migrated {
		persisted, err := r.configPersist.persist(normalized.Config)
		out.Persisted = persisted
		if err != nil {
			out.PersistError = err.Error()
			r.logger.Error("failed to persist migrated config", "error", err)
		}
	}
	return out
}

// SetOverride installs an operator override, persisting it atomically if
// enabled.
func (r *Router) SetOverride(key, model string) error {
	return r.overrides.set(key, model)
}

// ClearOverride removes an operator override, persisting the change if
// enabled.
func (r *Router) ClearOverride(key string) error {
	return r.overrides.clear(key)
}

// GetOverrides returns a snapshot of every active override.
func (r *Router) GetOverrides() map[string]string {
	return r.overrides.all()
}
