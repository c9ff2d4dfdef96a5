package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

const baseConfig = `
broker:
  login: "12345"
  password: "secret"
  server: "Demo-Server"
  timeout_ms: 5000
trading:
  symbol: "EURUSD"
  timeframe: "M1"
  poll_interval_seconds: 60
  lookback_bars: 200
  magic_tag: 991122
risk:
  max_volume_per_order: 1.0
  default_volume: 0.1
  max_daily_loss: 500
  max_positions_per_symbol: 1
  max_total_positions: 3
  position_size_pct: 0.02
  emergency_drawdown_pct: 0.15
  circuit_breaker_enabled: true
strategy:
  type: "sma-cross"
  params:
    short: "10"
    long: "50"
orphan_trades:
  enabled: true
  max_age_hours: 72
persistence:
  path: "/tmp/jupitor.db"
dry_run: true
`

func TestLoadValid(t *testing.T) {
	path := writeTempConfig(t, baseConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Trading.Symbol != "EURUSD" {
		t.Errorf("Trading.Symbol = %q, want EURUSD", cfg.Trading.Symbol)
	}
	if cfg.Trading.PollIntervalSeconds != 60 {
		t.Errorf("Trading.PollIntervalSeconds = %d, want 60", cfg.Trading.PollIntervalSeconds)
	}
	if !cfg.DryRun {
		t.Error("DryRun = false, want true")
	}
	if cfg.Risk.MaxTotalPositions != 3 {
		t.Errorf("Risk.MaxTotalPositions = %d, want 3", cfg.Risk.MaxTotalPositions)
	}
	if !cfg.OrphanTrades.Enabled {
		t.Error("OrphanTrades.Enabled = false, want true")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, baseConfig+"\nnot_a_real_field: 1\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config field")
	}
}

func TestLoadRejectsMissingSymbol(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  poll_interval_seconds: 60
  lookback_bars: 100
strategy:
  type: "sma-cross"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing trading.symbol")
	}
}

func TestLoadRejectsBadRange(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  symbol: "EURUSD"
  poll_interval_seconds: 60
  lookback_bars: 100
risk:
  position_size_pct: 1.5
strategy:
  type: "sma-cross"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for position_size_pct out of range")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTempConfig(t, baseConfig)

	os.Setenv("BROKER_PASSWORD", "env-secret")
	defer os.Unsetenv("BROKER_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Broker.Password != "env-secret" {
		t.Errorf("Broker.Password = %q, want env-secret (env override)", cfg.Broker.Password)
	}
}

func TestApplyMindsetFillsUnsetRiskFields(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  symbol: "EURUSD"
  poll_interval_seconds: 60
  lookback_bars: 100
strategy:
  type: "sma-cross"
mindset: "conservative"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Risk.MaxTotalPositions != 2 {
		t.Errorf("Risk.MaxTotalPositions = %d, want 2 (from conservative preset)", cfg.Risk.MaxTotalPositions)
	}
	if cfg.Risk.DefaultVolume != 0.01 {
		t.Errorf("Risk.DefaultVolume = %v, want 0.01 (from conservative preset)", cfg.Risk.DefaultVolume)
	}
}
