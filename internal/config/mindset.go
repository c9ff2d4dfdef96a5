package config

// mindsetPreset is a named bundle of default risk parameters. It carries
// no exit-rule parameters: exit_strategies entries are never filled from
// a preset.
type mindsetPreset struct {
	risk Risk
}

var mindsetPresets = map[string]mindsetPreset{
	"aggressive": {
		risk: Risk{
			DefaultVolume:         0.05,
			PositionSizePct:       0.05,
			MaxPositionsPerSymbol: 3,
			MaxTotalPositions:     10,
			EmergencyDrawdownPct:  0.25,
			CircuitBreakerEnabled: true,
		},
	},
	"balanced": {
		risk: Risk{
			DefaultVolume:         0.02,
			PositionSizePct:       0.02,
			MaxPositionsPerSymbol: 2,
			MaxTotalPositions:     5,
			EmergencyDrawdownPct:  0.15,
			CircuitBreakerEnabled: true,
		},
	},
	"conservative": {
		risk: Risk{
			DefaultVolume:         0.01,
			PositionSizePct:       0.01,
			MaxPositionsPerSymbol: 1,
			MaxTotalPositions:     2,
			EmergencyDrawdownPct:  0.08,
			CircuitBreakerEnabled: true,
		},
	},
}

// applyMindset seeds cfg.Risk with a named preset's defaults wherever the
// document left a field at its zero value. The preset is applied against
// the already-decoded document, so an explicit non-zero field wins, but a
// field written as zero (or circuit_breaker_enabled written as false) is
// indistinguishable from "not set" and takes the preset's value. An
// unknown preset name leaves cfg unchanged.
func applyMindset(cfg *Config) {
	if cfg.Mindset == "" {
		return
	}
	preset, ok := mindsetPresets[cfg.Mindset]
	if !ok {
		return
	}
	zero := Risk{}
	if cfg.Risk == zero {
		cfg.Risk = preset.risk
		return
	}
	// Fill only the fields left unset.
	if cfg.Risk.DefaultVolume == 0 {
		cfg.Risk.DefaultVolume = preset.risk.DefaultVolume
	}
	if cfg.Risk.PositionSizePct == 0 {
		cfg.Risk.PositionSizePct = preset.risk.PositionSizePct
	}
	if cfg.Risk.MaxPositionsPerSymbol == 0 {
		cfg.Risk.MaxPositionsPerSymbol = preset.risk.MaxPositionsPerSymbol
	}
	if cfg.Risk.MaxTotalPositions == 0 {
		cfg.Risk.MaxTotalPositions = preset.risk.MaxTotalPositions
	}
	if cfg.Risk.EmergencyDrawdownPct == 0 {
		cfg.Risk.EmergencyDrawdownPct = preset.risk.EmergencyDrawdownPct
	}
	if !cfg.Risk.CircuitBreakerEnabled {
		cfg.Risk.CircuitBreakerEnabled = preset.risk.CircuitBreakerEnabled
	}
}

// MindsetNames returns the recognised preset names, sorted for --mindset
// flag help text.
func MindsetNames() []string {
	return []string{"aggressive", "balanced", "conservative"}
}
