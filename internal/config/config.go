// Package config loads and validates the single typed configuration
// document that drives the trading orchestrator, per the option groups in
// spec.md §6: broker, trading, risk, strategy, indicators, exit_strategies,
// orphan_trades, mindset, persistence, dry_run.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration document.
type Config struct {
	Broker         Broker          `yaml:"broker"`
	Trading        Trading         `yaml:"trading"`
	Risk           Risk            `yaml:"risk"`
	Strategy       Strategy        `yaml:"strategy"`
	Indicators     []NamedParams   `yaml:"indicators"`
	ExitStrategies []ExitStrategy  `yaml:"exit_strategies"`
	OrphanTrades   OrphanTrades    `yaml:"orphan_trades"`
	Mindset        string          `yaml:"mindset"`
	Persistence    Persistence     `yaml:"persistence"`
	DryRun         bool            `yaml:"dry_run"`
}

// Broker holds credentials and connection parameters for the broker
// session. Password is masked wherever configuration is logged.
type Broker struct {
	Login        string `yaml:"login"`
	Password     string `yaml:"password"`
	Server       string `yaml:"server"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	TerminalPath string `yaml:"terminal_path"`
}

// Trading holds the symbol/timeframe/schedule parameters for the loop.
type Trading struct {
	Symbol               string  `yaml:"symbol"`
	Timeframe            string  `yaml:"timeframe"`
	PollIntervalSeconds  int     `yaml:"poll_interval_seconds"`
	LookbackBars         int     `yaml:"lookback_bars"`
	MagicTag             int64   `yaml:"magic_tag"`
	DeviationPoints      float64 `yaml:"deviation_points"`
	FlattenOnShutdown    bool    `yaml:"flatten_on_shutdown"`
	MetricsEveryTicks    int     `yaml:"metrics_every_ticks"`
	ShutdownGraceSeconds int     `yaml:"shutdown_grace_seconds"`
	ReconnectMaxAttempts int     `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelayMS int     `yaml:"reconnect_base_delay_ms"`
}

// Risk mirrors domain.RiskLimits as a YAML-friendly document.
type Risk struct {
	MaxVolumePerOrder        float64 `yaml:"max_volume_per_order"`
	DefaultVolume            float64 `yaml:"default_volume"`
	MaxDailyLoss             float64 `yaml:"max_daily_loss"`
	MaxPositionsPerSymbol    int     `yaml:"max_positions_per_symbol"`
	MaxTotalPositions        int     `yaml:"max_total_positions"`
	PositionSizePct          float64 `yaml:"position_size_pct"`
	EmergencyDrawdownPct     float64 `yaml:"emergency_drawdown_pct"`
	BrokerMinVolume          float64 `yaml:"broker_min_volume"`
	CircuitBreakerEnabled    bool    `yaml:"circuit_breaker_enabled"`
	LotStep                  float64 `yaml:"lot_step"`
}

// Strategy selects and configures the single wired Strategy.
type Strategy struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// NamedParams is a {type, params} entry used for indicators.
type NamedParams struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// ExitStrategy is a {type, enabled, params} entry for one exit rule.
type ExitStrategy struct {
	Type    string            `yaml:"type"`
	Enabled bool              `yaml:"enabled"`
	Params  map[string]string `yaml:"params"`
}

// OrphanTrades configures the Position Tracker's adoption policy.
type OrphanTrades struct {
	Enabled      bool     `yaml:"enabled"`
	AdoptSymbols []string `yaml:"adopt_symbols"`
	IgnoreSymbols []string `yaml:"ignore_symbols"`
	MaxAgeHours  float64  `yaml:"max_age_hours"`
	LogOnly      bool     `yaml:"log_only"`
}

// Persistence holds the append-only store path.
type Persistence struct {
	Path string `yaml:"path"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path, rejects unknown fields,
// applies a mindset preset (if any) as a defaulting pass, applies
// environment variable overrides, and validates numeric ranges.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyMindset(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set. Secrets are
// accepted this way so they never need to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKER_LOGIN"); v != "" {
		cfg.Broker.Login = v
	}
	if v := os.Getenv("BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("BROKER_SERVER"); v != "" {
		cfg.Broker.Server = v
	}
	if v := os.Getenv("JUPITOR_DRY_RUN"); v == "true" {
		cfg.DryRun = true
	}
}

// validate checks numeric ranges and required fields. Unknown fields are
// already rejected by the strict YAML decoder in Load.
func validate(cfg *Config) error {
	if cfg.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if cfg.Trading.PollIntervalSeconds <= 0 {
		return fmt.Errorf("trading.poll_interval_seconds must be > 0")
	}
	if cfg.Trading.LookbackBars <= 0 {
		return fmt.Errorf("trading.lookback_bars must be > 0")
	}
	if cfg.Risk.PositionSizePct < 0 || cfg.Risk.PositionSizePct > 1 {
		return fmt.Errorf("risk.position_size_pct must be in [0,1]")
	}
	if cfg.Risk.EmergencyDrawdownPct < 0 || cfg.Risk.EmergencyDrawdownPct > 1 {
		return fmt.Errorf("risk.emergency_drawdown_pct must be in [0,1]")
	}
	if cfg.Risk.MaxTotalPositions < 0 {
		return fmt.Errorf("risk.max_total_positions must be >= 0")
	}
	if cfg.Strategy.Type == "" {
		return fmt.Errorf("strategy.type is required")
	}
	applyTradingDefaults(cfg)
	return nil
}

// applyTradingDefaults fills zero-valued operational fields that are safe
// to default (unlike symbol/strategy.type, which must be explicit).
func applyTradingDefaults(cfg *Config) {
	if cfg.Trading.MetricsEveryTicks <= 0 {
		cfg.Trading.MetricsEveryTicks = 1
	}
	if cfg.Trading.ShutdownGraceSeconds <= 0 {
		cfg.Trading.ShutdownGraceSeconds = 30
	}
	if cfg.Trading.ReconnectMaxAttempts <= 0 {
		cfg.Trading.ReconnectMaxAttempts = 5
	}
	if cfg.Trading.ReconnectBaseDelayMS <= 0 {
		cfg.Trading.ReconnectBaseDelayMS = 500
	}
}
