package builtins

import "jupitor/internal/strategy"

// registry maps a strategy type name (as configured per spec.md §6's
// strategy.type/params) to a constructor taking string params, following
// the same config-driven registry pattern as internal/indicator and
// internal/exitarbiter.
var registry = map[string]func(params map[string]string) strategy.Strategy{
	"sma_cross": newSMACrossFromParams,
}

// Build resolves typ against the registry and constructs a Strategy from
// params, the two-value form signalling an unknown type rather than a nil
// Strategy.
func Build(typ string, params map[string]string) (strategy.Strategy, bool) {
	ctor, ok := registry[typ]
	if !ok {
		return nil, false
	}
	return ctor(params), true
}

func newSMACrossFromParams(params map[string]string) strategy.Strategy {
	return NewSMACross(
		intParam(params, "short_period", 10),
		intParam(params, "long_period", 30),
		floatParam(params, "atr_multiplier", 2.0),
		floatParam(params, "risk_reward_ratio", 1.5),
	)
}
