// Package strategy defines the Strategy interface — the single
// capability the control loop invokes once per closed bar — and a
// Registry for resolving the one configured strategy by name.
package strategy

import (
	"context"
	"sort"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

// Strategy is polymorphic over one capability: reacting to the latest
// closed bar plus its computed indicator columns with zero or one Signal
// (spec.md §1: "polymorphic over the capability OnBar(last_bar_with_indicators)
// -> optional Signal"). Multiple concurrent signals from one strategy are
// not modelled; a strategy needing to express more must emit its strongest
// candidate only.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup required before the strategy begins
	// processing bars.
	Init(ctx context.Context) error

	// OnBar is called once per new closed bar with the indicator columns
	// computed over the same window. It returns at most one Signal.
	OnBar(ctx context.Context, bar domain.Bar, snapshot indicator.Snapshot) ([]domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
