package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/keymanager"
	"github.com/blueberrycongee/glmrouter/internal/metrics"
)

// driftRingCapacity bounds the in-memory ring of drift events.
const driftRingCapacity = 500

// concurrencyMismatchThreshold is the |routerInFlight - kmInFlight|
// tolerance below which a difference is not considered drift.
const concurrencyMismatchThreshold = 5

// driftDetector compares the router's own view of a model against the
// key manager's view, per spec.md §4.9.
type driftDetector struct {
	mu     sync.Mutex
	ring   []DriftEvent
	keyMgr keymanager.KeyManager
}

func newDriftDetector(km keymanager.KeyManager) *driftDetector {
	if km == nil {
		km = keymanager.Noop{}
	}
	return &driftDetector{keyMgr: km}
}

// check compares the router's snapshot for one model against the key
// manager's view, recording a typed event (and bumping the counter) for
// every disagreement found.
func (d *driftDetector) check(tier config.Tier, item ModelSnapshotItem, now time.Time) []DriftEvent {
	kmView, ok := d.keyMgr.ViewForSelectedKey(item.ModelID)
	if !ok {
		return nil
	}

	var events []DriftEvent

	routerCooled := item.CooldownUntil != nil && item.CooldownUntil.After(now)
	kmCooled := !kmView.CooldownUntil.IsZero() && kmView.CooldownUntil.After(now)

	if item.IsAvailable && !kmView.Available {
		events = append(events, d.record(tier, item.ModelID, DriftRouterAvailableKMExcluded))
	}
	if kmView.Available && routerCooled && !kmCooled {
		events = append(events, d.record(tier, item.ModelID, DriftKMAvailableRouterCooled))
	}
	diff := item.InFlight - kmView.InFlight
	if diff < 0 {
		diff = -diff
	}
	if diff > concurrencyMismatchThreshold {
		events = append(events, d.record(tier, item.ModelID, DriftConcurrencyMismatch))
	}
	if routerCooled != kmCooled {
		events = append(events, d.record(tier, item.ModelID, DriftCooldownMismatch))
	}

	return events
}

func (d *driftDetector) record(tier config.Tier, model string, reason DriftReason) DriftEvent {
	ev := DriftEvent{
		ID:        uuid.NewString(),
		Tier:      tier,
		Model:     model,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	metrics.DriftEventsTotal.WithLabelValues(string(tier), string(reason)).Inc()

	d.mu.Lock()
	d.ring = append(d.ring, ev)
	if len(d.ring) > driftRingCapacity {
		d.ring = d.ring[len(d.ring)-driftRingCapacity:]
	}
	d.mu.Unlock()

	return ev
}

// events returns a snapshot of the bounded drift event ring.
func (d *driftDetector) events() []DriftEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DriftEvent, len(d.ring))
	copy(out, d.ring)
	return out
}
