package router

import (
	"math"
	"sync"
	"time"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

// cooldownEntry is the ledger's per-model state. cooldownUntil is
// monotonically non-decreasing across recordCooldown calls on the same
// entry — a later, smaller-backoff hit never shortens an existing
// cooldown.
type cooldownEntry struct {
	count             int
	cooldownUntil     time.Time
	lastHit           time.Time
	lastBurstDampened bool
}

// cooldownLedger is the exponential-backoff cooldown state machine of
// spec.md §4.2. Bounded to maxEntries with LRU-by-lastHit eviction.
type cooldownLedger struct {
	mu      sync.Mutex
	entries map[string]*cooldownEntry
	cfg     config.CooldownConfig
	now     func() time.Time
}

func newCooldownLedger(cfg config.CooldownConfig) *cooldownLedger {
	return &cooldownLedger{
		entries: make(map[string]*cooldownEntry),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (l *cooldownLedger) setConfig(cfg config.CooldownConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// record applies one cooldown hit for model. burstDampened suppresses the
// count increment (used when N concurrent requests all hit 429 on the
// same model within the same burst) but still extends cooldownUntil and
// lastHit; a model with no prior counted hit still ends at count 1.
func (l *cooldownLedger) record(model string, retryAfterMs int64, burstDampened bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[model]
	if !ok {
		if l.cfg.MaxCooldownEntries > 0 && len(l.entries) >= l.cfg.MaxCooldownEntries {
			l.evictOldestLocked()
		}
		entry = &cooldownEntry{}
		l.entries[model] = entry
	}

	if burstDampened {
		if entry.count == 0 {
			entry.count = 1
		}
		entry.lastBurstDampened = true
	} else {
		entry.count++
		entry.lastBurstDampened = false
	}

	multiplier := l.cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	exponent := entry.count - 1
	if exponent < 0 {
		exponent = 0
	}
	cooldownMs := float64(retryAfterMs) * math.Pow(multiplier, float64(exponent))
	if l.cfg.MaxMs > 0 && cooldownMs > float64(l.cfg.MaxMs) {
		cooldownMs = float64(l.cfg.MaxMs)
	}
	candidate := now.Add(time.Duration(cooldownMs) * time.Millisecond)
	if candidate.After(entry.cooldownUntil) {
		entry.cooldownUntil = candidate
	}
	entry.lastHit = now
}

// evictOldestLocked removes the entry with the oldest lastHit. Caller
// must hold l.mu.
func (l *cooldownLedger) evictOldestLocked() {
	var oldestModel string
	var oldestHit time.Time
	first := true
	for model, entry := range l.entries {
		if first || entry.lastHit.Before(oldestHit) {
			oldestModel = model
			oldestHit = entry.lastHit
			first = false
		}
	}
	if !first {
		delete(l.entries, oldestModel)
	}
}

// remaining returns how many milliseconds of cooldown are left for model,
// 0 if none. An entry whose lastHit is older than decayMs is deleted and
// treated as fresh.
func (l *cooldownLedger) remaining(model string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked(model)
}

func (l *cooldownLedger) remainingLocked(model string) int64 {
	entry, ok := l.entries[model]
	if !ok {
		return 0
	}
	now := l.now()
	if l.cfg.DecayMs > 0 && now.Sub(entry.lastHit) > time.Duration(l.cfg.DecayMs)*time.Millisecond {
		delete(l.entries, model)
		return 0
	}
	remaining := entry.cooldownUntil.Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// isCooled reports whether model currently has a positive remaining
// cooldown.
func (l *cooldownLedger) isCooled(model string) bool {
	return l.remaining(model) > 0
}

// info returns the introspection view of a model's cooldown, or
// (CooldownInfo{}, false) if no entry exists (or it just decayed).
func (l *cooldownLedger) info(model string) (CooldownInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[model]
	if !ok {
		return CooldownInfo{}, false
	}
	now := l.now()
	if l.cfg.DecayMs > 0 && now.Sub(entry.lastHit) > time.Duration(l.cfg.DecayMs)*time.Millisecond {
		delete(l.entries, model)
		return CooldownInfo{}, false
	}
	remaining := entry.cooldownUntil.Sub(now).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	return CooldownInfo{
		RemainingMs:   remaining,
		Count:         entry.count,
		BurstDampened: entry.lastBurstDampened,
	}, true
}

// all returns a snapshot of every live (non-decayed) cooldown entry,
// pruning decayed ones as a side effect, for GetCooldowns.
func (l *cooldownLedger) all() map[string]CooldownInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string]CooldownInfo)
	for model, entry := range l.entries {
		if l.cfg.DecayMs > 0 && now.Sub(entry.lastHit) > time.Duration(l.cfg.DecayMs)*time.Millisecond {
			delete(l.entries, model)
			continue
		}
		remaining := entry.cooldownUntil.Sub(now).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		out[model] = CooldownInfo{
			RemainingMs:   remaining,
			Count:         entry.count,
			BurstDampened: entry.lastBurstDampened,
		}
	}
	return out
}
