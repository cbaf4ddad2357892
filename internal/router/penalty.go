package router

import (
	"sync"
	"time"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

// penaltyWindow is the per-model sliding-window 429 counter of spec.md
// §4.3, independent of the cooldown ledger. It is a soft score multiplier
// for pool selection, not an availability gate.
type penaltyWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	cfg    config.Pool429PenaltyConfig
	now    func() time.Time
}

func newPenaltyWindow(cfg config.Pool429PenaltyConfig) *penaltyWindow {
	return &penaltyWindow{
		hits: make(map[string][]time.Time),
		cfg:  cfg,
		now:  time.Now,
	}
}

func (p *penaltyWindow) setConfig(cfg config.Pool429PenaltyConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// record appends a 429 timestamp for model, evicting the model whose most
// recent hit is oldest if the cross-model map is at capacity and model is
// new.
func (p *penaltyWindow) record(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if _, ok := p.hits[model]; !ok {
		if p.cfg.MaxModels > 0 && len(p.hits) >= p.cfg.MaxModels {
			p.evictOldestLocked()
		}
	}
	p.hits[model] = append(p.hits[model], now)
}

func (p *penaltyWindow) evictOldestLocked() {
	var oldestModel string
	var oldestMostRecent time.Time
	first := true
	for model, ts := range p.hits {
		if len(ts) == 0 {
			continue
		}
		mostRecent := ts[len(ts)-1]
		if first || mostRecent.Before(oldestMostRecent) {
			oldestModel = model
			oldestMostRecent = mostRecent
			first = false
		}
	}
	if !first {
		delete(p.hits, oldestModel)
	}
}

// count prunes timestamps older than windowMs, caps the retained tail at
// maxPenaltyHits, and returns the resulting length.
func (p *penaltyWindow) count(model string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.hits[model]
	if !ok {
		return 0
	}
	now := p.now()
	cutoff := now.Add(-time.Duration(p.cfg.WindowMs) * time.Millisecond)

	pruned := ts[:0:0]
	for _, t := range ts {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	if p.cfg.MaxPenaltyHits > 0 && len(pruned) > p.cfg.MaxPenaltyHits {
		pruned = pruned[len(pruned)-p.cfg.MaxPenaltyHits:]
	}
	if len(pruned) == 0 {
		delete(p.hits, model)
		return 0
	}
	p.hits[model] = pruned
	return len(pruned)
}

// stats returns a snapshot of current hit counts per model, for
// GetPool429PenaltyStats.
func (p *penaltyWindow) stats() map[string]int {
	p.mu.Lock()
	models := make([]string, 0, len(p.hits))
	for m := range p.hits {
		models = append(models, m)
	}
	p.mu.Unlock()

	out := make(map[string]int, len(models))
	for _, m := range models {
		out[m] = p.count(m)
	}
	return out
}
