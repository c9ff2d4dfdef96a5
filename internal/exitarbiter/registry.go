package exitarbiter

// registry maps an exit strategy type name (as configured per spec.md §6's
// exit_strategies list) to its constructor, mirroring internal/indicator's
// registry pattern.
var registry = map[string]func(params map[string]string) Rule{
	"adverse_movement": func(p map[string]string) Rule { return NewAdverseMovement(p) },
	"time_based":        func(p map[string]string) Rule { return NewTimeBased(p) },
	"profit_target":     func(p map[string]string) Rule { return NewProfitTarget(p) },
	"trailing_stop":     func(p map[string]string) Rule { return NewTrailingStop(p) },
}

// Build constructs a Rule for typ, or reports ok=false if typ is unknown.
func Build(typ string, params map[string]string) (Rule, bool) {
	ctor, ok := registry[typ]
	if !ok {
		return nil, false
	}
	return ctor(params), true
}
