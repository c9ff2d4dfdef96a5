// Package indicator computes technical indicators over a bar series.
// Each indicator is a pure function: bars in, named columns out. The
// Pipeline composes a configured set of indicators and evaluates them
// independently of one another so one indicator's error never blocks the
// rest — mirroring the column-independence of original_source's
// pandas-Series indicators, without carrying pandas' index machinery.
package indicator

import (
	"fmt"

	"jupitor/internal/domain"
)

// Series is one named indicator output column, one value per bar, aligned
// to the input bar slice: Values always has the same length as the bars it
// was computed from, and entries before a column has a full window hold
// the shrinking-window or default value the indicator produces there.
type Series struct {
	Name   string
	Values []float64
}

// Last returns the most recent value and whether the series has one.
func (s Series) Last() (float64, bool) {
	if len(s.Values) == 0 {
		return 0, false
	}
	return s.Values[len(s.Values)-1], true
}

// Func computes one or more named columns from a bar window.
type Func func(bars []domain.Bar) ([]Series, error)

// Spec names and parameterizes one indicator instance in a Pipeline, e.g.
// {Type: "rsi", Params: map[string]string{"period": "14"}}.
type Spec struct {
	Type   string
	Params map[string]string
}

// Snapshot is the result of evaluating a Pipeline over one bar window: the
// named columns that succeeded, keyed by column name, plus any per-indicator
// errors keyed by the indicator type that produced them.
type Snapshot struct {
	Columns map[string]Series
	Errors  map[string]error
}

// Value returns the latest value of a named column, if present.
func (s Snapshot) Value(name string) (float64, bool) {
	col, ok := s.Columns[name]
	if !ok {
		return 0, false
	}
	return col.Last()
}

// Pipeline evaluates a configured set of indicators over a bar window.
type Pipeline struct {
	specs []Spec
}

// NewPipeline builds a Pipeline from configuration, resolving each Spec's
// Type against the registry. Unknown types are rejected eagerly so
// misconfiguration surfaces at startup, not mid-run.
func NewPipeline(specs []Spec) (*Pipeline, error) {
	for _, s := range specs {
		if _, ok := registry[s.Type]; !ok {
			return nil, fmt.Errorf("indicator: unknown type %q", s.Type)
		}
	}
	return &Pipeline{specs: append([]Spec(nil), specs...)}, nil
}

// Evaluate runs every configured indicator over bars. An indicator that
// returns an error contributes no columns but does not prevent the others
// from contributing theirs (spec.md's column-independence requirement).
func (p *Pipeline) Evaluate(bars []domain.Bar) Snapshot {
	snap := Snapshot{Columns: map[string]Series{}, Errors: map[string]error{}}
	for _, s := range p.specs {
		fn := registry[s.Type](s.Params)
		cols, err := fn(bars)
		if err != nil {
			snap.Errors[s.Type] = err
			continue
		}
		for _, c := range cols {
			snap.Columns[c.Name] = c
		}
	}
	return snap
}

// registry maps indicator type names to a constructor taking string params
// (as loaded from YAML config) and returning the Func that computes them.
var registry = map[string]func(params map[string]string) Func{
	"rsi":        newRSIFunc,
	"macd":       newMACDFunc,
	"atr":        newATRFunc,
	"bollinger":  newBollingerFunc,
	"adx":        newADXFunc,
	"stochastic": newStochasticFunc,
	"sma":        newSMAFunc,
}
