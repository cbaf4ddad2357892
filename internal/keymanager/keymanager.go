// Package keymanager defines the boundary interface to the upstream
// credential/keying layer. The real key manager — which owns API
// credentials, picks a key per attempt, and reports 429/5xx outcomes — is
// out of scope for this module; the routing core only needs its view of
// a model's availability to run drift detection.
package keymanager

import "time"

// ModelView is the key manager's opinion of a model's current routing
// eligibility, as published for drift comparison against the router's own
// view.
type ModelView struct {
	ModelID       string
	Available     bool
	InFlight      int
	CooldownUntil time.Time
}

// KeyManager is the narrow read-only surface the drift detector needs.
type KeyManager interface {
	// ViewForSelectedKey returns the key manager's view of the model
	// currently backing the given model id's active key, if any.
	ViewForSelectedKey(modelID string) (ModelView, bool)
}

// Noop is a KeyManager that reports no view for any model — used when no
// key manager is wired (e.g. in tests, or standalone router use), so
// drift detection degrades to "nothing to compare" rather than panicking.
type Noop struct{}

func (Noop) ViewForSelectedKey(string) (ModelView, bool) { return ModelView{}, false }
