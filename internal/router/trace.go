package router

import (
	"time"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

// Trace is the unified per-decision explainability record of spec.md
// §4.8. Built by buildTrace, sampled, and size-clamped before being
// attached to a Decision.
type Trace struct {
	RequestID      string              `json:"requestId"`
	Timestamp      time.Time           `json:"timestamp"`
	Input          TraceInput          `json:"input"`
	Classification TraceClassification `json:"classification"`
	ModelSelection TraceModelSelection `json:"modelSelection"`
	RouterPool     *PoolSnapshot       `json:"routerPool,omitempty"`
	Key            *string             `json:"key,omitempty"`
	Warning        string              `json:"_warning,omitempty"`
}

// TraceInput is the truncated, traced view of the request's shape.
type TraceInput struct {
	Model        string   `json:"model"`
	MessageCount int      `json:"messageCount"`
	Messages     []string `json:"messages,omitempty"` // first-3, each truncated to 200 chars
}

// TraceClassification records how the tier was resolved.
type TraceClassification struct {
	Tier               config.Tier `json:"tier"`
	Complexity         int         `json:"complexity"`
	UpgradeTrigger     string      `json:"upgradeTrigger,omitempty"`
	ThresholdComparison string     `json:"thresholdComparison,omitempty"`
}

// TraceModelSelection records the pool selector's outcome.
type TraceModelSelection struct {
	Strategy   config.Strategy   `json:"strategy"`
	Candidates []ScoredCandidate `json:"candidates"` // top-5 by score
	Selected   string            `json:"selected"`
	Rationale  string            `json:"rationale"`
}

const (
	traceMessageCharLimit  = 200
	traceMaxMessages       = 3
	traceMaxCandidates     = 5
)

// buildTrace assembles the unified trace for a computed decision. It
// never mutates router state; sampling and size clamping are applied by
// the caller (attachTraceIfSampled).
func buildTrace(reqCtx RequestContext, fv FeatureVector, cls classification, heavyThresholds config.ClassifierThresholds, decision Decision, rawMessages []string) *Trace {
	t := &Trace{
		RequestID: reqCtx.RequestID,
		Timestamp: time.Now(),
		Input: TraceInput{
			Model:        fv.Model,
			MessageCount: fv.MessageCount,
			Messages:     truncateMessages(rawMessages),
		},
		Classification: TraceClassification{
			Tier:           cls.Tier,
			Complexity:     complexityScore(heavyThresholds, fv),
			UpgradeTrigger: string(cls.UpgradeReason),
		},
		ModelSelection: TraceModelSelection{
			Strategy:   decision.Strategy,
			Candidates: topCandidates(decision.ScoringTable, traceMaxCandidates),
			Selected:   decision.Model,
			Rationale:  rationale(decision),
		},
	}
	if cls.Source == SourceRule {
		t.Classification.ThresholdComparison = cls.Reason
	}
	return t
}

func truncateMessages(messages []string) []string {
	n := len(messages)
	if n > traceMaxMessages {
		n = traceMaxMessages
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s := messages[i]
		if len(s) > traceMessageCharLimit {
			s = s[:traceMessageCharLimit]
		}
		out[i] = s
	}
	return out
}

func topCandidates(table []ScoredCandidate, n int) []ScoredCandidate {
	if len(table) <= n {
		return table
	}
	out := make([]ScoredCandidate, n)
	copy(out, table[:n])
	return out
}

// rationale derives a human-readable explanation from the decision's
// scoring table, per spec.md §4.8.
func rationale(d Decision) string {
	if d.Model == "" {
		return "no candidate selected"
	}
	var top *ScoredCandidate
	for i := range d.ScoringTable {
		c := &d.ScoringTable[i]
		if c.Model == d.Model && !c.Skipped {
			top = c
			break
		}
	}
	if top == nil {
		return "Selected " + d.Model + " by " + string(d.Strategy) + " strategy"
	}
	if len(d.ScoringTable) > 0 && top == &d.ScoringTable[0] {
		return "highest score"
	}
	if top.InFlight == 0 {
		return "zero in-flight requests"
	}
	if top.Available > 0 {
		return "currently available"
	}
	return "Selected " + d.Model + " by " + string(d.Strategy) + " strategy"
}

// clampTraceSize applies spec.md §4.8's size limits: truncate message
// contents (already done in buildTrace), keep top-5 candidates (already
// done), keep first-3 messages (already done), and — if, after those,
// the trace's estimated JSON size still exceeds maxSize — attach a
// warning rather than further mutate the trace.
func clampTraceSize(t *Trace, maxSize int) {
	if t == nil {
		return
	}
	maxSize = config.ClampPayloadSize(maxSize)
	if estimateTraceSize(t) > maxSize {
		t.Warning = "trace exceeds configured maxPayloadSize after clamping"
	}
}

func estimateTraceSize(t *Trace) int {
	size := len(t.Input.Model) + len(t.ModelSelection.Selected) + len(t.ModelSelection.Rationale)
	for _, m := range t.Input.Messages {
		size += len(m)
	}
	size += len(t.ModelSelection.Candidates) * 64
	return size
}

// shouldSample implements spec.md §4.8's sampling rule. bypass is true
// for simulation modes, which always sample regardless of rate.
func shouldSample(rate float64, bypass bool, r rng) bool {
	if bypass {
		return true
	}
	if rate <= 0 {
		return false
	}
	if rate >= 100 {
		return true
	}
	return r.Float64()*100 < rate
}
