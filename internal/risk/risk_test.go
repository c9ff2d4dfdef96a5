package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

func baseAccount(t time.Time) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		Balance:        decimal.NewFromInt(10000),
		Equity:         decimal.NewFromInt(10000),
		MarginFree:     decimal.NewFromInt(10000),
		TradingEnabled: true,
		ServerTime:     t,
	}
}

func TestApproveSizesByStopDistance(t *testing.T) {
	limits := domain.RiskLimits{
		PositionSizeAsFractionOfBalance: 0.01,
		DefaultVolume:                   decimal.NewFromFloat(0.01),
		MaxVolumePerOrder:               decimal.NewFromFloat(10),
	}
	g := NewGate(limits, decimal.NewFromFloat(0.01))
	stop := 99.0
	sig := domain.Signal{Symbol: "EURUSD", Side: domain.SideLong, Price: 100.0, Stop: &stop}

	dec := g.Approve(sig, baseAccount(time.Now()), 0, 0)
	if !dec.Approved {
		t.Fatalf("expected approval, got refusal %s: %s", dec.Code, dec.Message)
	}
	// risk_per_unit = 1.0, risk_budget = 10000*0.01 = 100 -> raw volume 100,
	// clamped down to MaxVolumePerOrder = 10.
	if !dec.Volume.Equal(decimal.NewFromFloat(10)) {
		t.Errorf("expected volume clamped to 10, got %s", dec.Volume)
	}
}

func TestApproveRefusesWhenTradingDisabled(t *testing.T) {
	g := NewGate(domain.RiskLimits{DefaultVolume: decimal.NewFromFloat(1)}, decimal.Zero)
	acc := baseAccount(time.Now())
	acc.TradingEnabled = false
	dec := g.Approve(domain.Signal{Side: domain.SideLong, Price: 100}, acc, 0, 0)
	if dec.Approved || dec.Code != TradingDisabled {
		t.Fatalf("expected TradingDisabled refusal, got %+v", dec)
	}
}

func TestApproveRefusesAtSymbolCap(t *testing.T) {
	limits := domain.RiskLimits{DefaultVolume: decimal.NewFromFloat(1), MaxPositionsPerSymbol: 1}
	g := NewGate(limits, decimal.Zero)
	dec := g.Approve(domain.Signal{Side: domain.SideLong, Price: 100}, baseAccount(time.Now()), 1, 1)
	if dec.Approved || dec.Code != SymbolCap {
		t.Fatalf("expected SymbolCap refusal, got %+v", dec)
	}
}

func TestCircuitBreakerTripsAndResetsOnNewServerDay(t *testing.T) {
	limits := domain.RiskLimits{
		DefaultVolume:         decimal.NewFromFloat(1),
		MaxDailyLoss:          decimal.NewFromFloat(500),
		CircuitBreakerEnabled: true,
	}
	g := NewGate(limits, decimal.Zero)
	day1 := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)

	g.RecordClose(decimal.NewFromFloat(-510), day1)

	dec := g.Approve(domain.Signal{Side: domain.SideLong, Price: 100}, baseAccount(day1), 0, 0)
	if dec.Approved || dec.Code != CircuitBreakerOpen {
		t.Fatalf("expected CircuitBreakerOpen after daily loss breach, got %+v", dec)
	}

	day2 := day1.Add(24 * time.Hour)
	dec = g.Approve(domain.Signal{Side: domain.SideLong, Price: 100}, baseAccount(day2), 0, 0)
	if !dec.Approved {
		t.Fatalf("expected approval after server-date rollover resets circuit breaker, got %+v", dec)
	}
}

func TestEmergencyDrawdownBreached(t *testing.T) {
	limits := domain.RiskLimits{EmergencyDrawdownFraction: 0.2}
	g := NewGate(limits, decimal.Zero)

	g.Approve(domain.Signal{Side: domain.SideLong, Price: 100}, baseAccount(time.Now()), 0, 0)

	if g.EmergencyDrawdownBreached(decimal.NewFromInt(8500)) {
		t.Error("15% drop should not breach a 20% threshold")
	}
	if !g.EmergencyDrawdownBreached(decimal.NewFromInt(7500)) {
		t.Error("25% drop should breach a 20% threshold")
	}
}

func TestObserveArmsDrawdownBreakerWithoutAnyApproveCall(t *testing.T) {
	limits := domain.RiskLimits{EmergencyDrawdownFraction: 0.2}
	g := NewGate(limits, decimal.Zero)

	g.Observe(baseAccount(time.Now()))

	if !g.EmergencyDrawdownBreached(decimal.NewFromInt(7500)) {
		t.Error("expected Observe alone to seed session-start equity and arm the breaker")
	}
}

func TestApproveRefusesZeroSizeWithoutDefaultOrStop(t *testing.T) {
	g := NewGate(domain.RiskLimits{}, decimal.Zero)
	dec := g.Approve(domain.Signal{Side: domain.SideLong, Price: 100}, baseAccount(time.Now()), 0, 0)
	if dec.Approved || dec.Code != ZeroOrNegativeSize {
		t.Fatalf("expected ZeroOrNegativeSize, got %+v", dec)
	}
}
