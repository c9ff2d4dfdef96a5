// Package exitarbiter implements the Exit Arbiter: a priority-ordered
// panel of independent exit rules evaluated against each open position,
// first-match-wins. Grounded on original_source/exit/exit_manager.py's
// ExitStrategyManager, generalized to spec.md §4.5's higher-number-is-more-
// urgent priority convention (the Python original sorts ascending, lower
// number wins; this repo is authoritative to spec.md and sorts descending).
package exitarbiter

import (
	"sort"
	"sync"
	"time"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

// Rule is one exit strategy. Evaluate is called once per tick per tracked
// position and must not block; any per-ticket state a rule needs to carry
// across ticks (best price seen, already-hit target levels, ...) lives in
// the rule itself, never on domain.PositionRecord, and is released via
// Forget when the Position Tracker stops tracking a ticket.
type Rule interface {
	Name() string
	Priority() int
	Evaluate(pos domain.PositionRecord, clock Clock, snap indicator.Snapshot) *domain.ExitDecision
	Forget(ticket int64)
}

// Clock carries the tick's current time so rules stay deterministic and
// testable instead of calling time.Now() themselves.
type Clock struct {
	Now time.Time
}

// Arbiter holds a fixed panel of rules, evaluated highest-priority first.
type Arbiter struct {
	mu    sync.Mutex
	rules []Rule
}

// NewArbiter builds an Arbiter over rules, sorted priority descending. Ties
// keep registration order (stable sort), matching the teacher's convention
// of treating configuration order as a tiebreak.
func NewArbiter(rules ...Rule) *Arbiter {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	return &Arbiter{rules: sorted}
}

// Evaluate runs the panel against pos and returns the first rule's decision
// to fire, or nil if no rule wants to exit the position.
func (a *Arbiter) Evaluate(pos domain.PositionRecord, clock Clock, snap indicator.Snapshot) *domain.ExitDecision {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rules {
		if d := r.Evaluate(pos, clock, snap); d != nil {
			d.Strategy = r.Name()
			return d
		}
	}
	return nil
}

// ForgetPosition releases every rule's per-ticket scratch state for ticket,
// called once the Position Tracker stops tracking it (closed, adopted away,
// or removed during Reconcile).
func (a *Arbiter) ForgetPosition(ticket int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rules {
		r.Forget(ticket)
	}
}
