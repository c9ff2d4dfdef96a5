package exitarbiter

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

func snapshotWithATR(atr float64) indicator.Snapshot {
	return indicator.Snapshot{
		Columns: map[string]indicator.Series{"atr": {Name: "atr", Values: []float64{atr}}},
		Errors:  map[string]error{},
	}
}

func TestArbiterOrdersRulesByPriorityDescending(t *testing.T) {
	a := NewArbiter(NewTrailingStop(nil), NewAdverseMovement(nil), NewTimeBased(nil), NewProfitTarget(nil))
	if a.rules[0].Name() != "adverse_movement" {
		t.Fatalf("expected adverse_movement (priority 90) first, got %s", a.rules[0].Name())
	}
	if a.rules[len(a.rules)-1].Name() != "trailing_stop" {
		t.Fatalf("expected trailing_stop (priority 25) last, got %s", a.rules[len(a.rules)-1].Name())
	}
}

func TestAdverseMovementFiresOnSustainedDrop(t *testing.T) {
	r := NewAdverseMovement(map[string]string{"movement_threshold_pct": "1.0", "time_window_seconds": "60", "consecutive_moves_required": "1"})
	pos := domain.PositionRecord{Ticket: 1, Side: domain.SideLong, OpenPrice: 100, CurrentPrice: 100}
	now := time.Now()

	// First observation establishes the window start; no decision yet.
	pos.CurrentPrice = 100
	if d := r.Evaluate(pos, Clock{Now: now}, indicator.Snapshot{}); d != nil {
		t.Fatalf("expected no decision on first sample, got %+v", d)
	}

	pos.CurrentPrice = 98 // -2%, adverse for a long
	d := r.Evaluate(pos, Clock{Now: now.Add(time.Second)}, indicator.Snapshot{})
	if d == nil {
		t.Fatal("expected adverse movement to fire on a 2% drop within the window")
	}
	if !d.DesiredCloseVolume.IsZero() {
		t.Errorf("expected a full close (zero DesiredCloseVolume), got %v", d.DesiredCloseVolume)
	}
}

func TestAdverseMovementRespectsCooldown(t *testing.T) {
	r := NewAdverseMovement(map[string]string{"movement_threshold_pct": "1.0", "cooldown_seconds": "300"})
	pos := domain.PositionRecord{Ticket: 1, Side: domain.SideLong, OpenPrice: 100, CurrentPrice: 100}
	now := time.Now()
	r.Evaluate(pos, Clock{Now: now}, indicator.Snapshot{})
	pos.CurrentPrice = 95
	if d := r.Evaluate(pos, Clock{Now: now.Add(time.Second)}, indicator.Snapshot{}); d == nil {
		t.Fatal("expected first adverse move to fire")
	}
	// Immediately after firing, a further adverse move within cooldown must not re-fire.
	pos.CurrentPrice = 90
	if d := r.Evaluate(pos, Clock{Now: now.Add(2 * time.Second)}, indicator.Snapshot{}); d != nil {
		t.Errorf("expected cooldown to suppress re-firing, got %+v", d)
	}
}

func TestTimeBasedFiresOnMaxHoldTime(t *testing.T) {
	r := NewTimeBased(map[string]string{"max_hold_hours": "1", "weekend_protection": "false"})
	now := time.Now()
	pos := domain.PositionRecord{Ticket: 1, OpenTime: now.Add(-2 * time.Hour)}
	d := r.Evaluate(pos, Clock{Now: now}, indicator.Snapshot{})
	if d == nil {
		t.Fatal("expected max-hold-time exit to fire")
	}
}

func TestTimeBasedNoExitWithinHoldWindow(t *testing.T) {
	r := NewTimeBased(map[string]string{"max_hold_hours": "24", "weekend_protection": "false"})
	now := time.Now()
	pos := domain.PositionRecord{Ticket: 1, OpenTime: now.Add(-time.Hour)}
	if d := r.Evaluate(pos, Clock{Now: now}, indicator.Snapshot{}); d != nil {
		t.Fatalf("expected no exit within hold window, got %+v", d)
	}
}

func TestProfitTargetFiresOnSingleTarget(t *testing.T) {
	r := NewProfitTarget(map[string]string{"target_pct": "2.0"})
	pos := domain.PositionRecord{
		Ticket: 1, Volume: decimal.NewFromFloat(1), OpenPrice: 100,
		UnrealizedPnL: decimal.NewFromFloat(3), // 3% of 100*1 notional
	}
	d := r.Evaluate(pos, Clock{Now: time.Now()}, indicator.Snapshot{})
	if d == nil {
		t.Fatal("expected profit target to fire at 3% with a 2% target")
	}
	if !d.DesiredCloseVolume.IsZero() {
		t.Errorf("expected full close for single-target mode, got %v", d.DesiredCloseVolume)
	}
}

func TestProfitTargetLadderClosesPartialThenFinal(t *testing.T) {
	r := NewProfitTarget(map[string]string{
		"partial_close_enabled": "true",
		"target_levels":         "1.0:50,2.0:50",
	})
	pos := domain.PositionRecord{Ticket: 1, Volume: decimal.NewFromFloat(10), OpenPrice: 100}

	pos.UnrealizedPnL = decimal.NewFromFloat(150) // 150/(100*10)*100 = 15%... exceeds both, first level should fire
	first := r.Evaluate(pos, Clock{Now: time.Now()}, indicator.Snapshot{})
	if first == nil {
		t.Fatal("expected first ladder level to fire")
	}
	if first.DesiredCloseVolume.IsZero() {
		t.Errorf("expected a partial close volume on the first (non-final) level, got zero")
	}

	second := r.Evaluate(pos, Clock{Now: time.Now()}, indicator.Snapshot{})
	if second == nil {
		t.Fatal("expected second ladder level to fire")
	}
	if !second.DesiredCloseVolume.IsZero() {
		t.Errorf("expected the final level to report a full close (zero), got %v", second.DesiredCloseVolume)
	}

	if third := r.Evaluate(pos, Clock{Now: time.Now()}, indicator.Snapshot{}); third != nil {
		t.Errorf("expected no further decisions once all levels are hit, got %+v", third)
	}
}

func TestTrailingStopActivatesAndTrailsMonotonically(t *testing.T) {
	r := NewTrailingStop(map[string]string{"atr_multiplier": "1.0", "activation_profit_pct": "0.1", "min_stop_distance": "0.01"})
	pos := domain.PositionRecord{
		Ticket: 1, Side: domain.SideLong, Volume: decimal.NewFromFloat(1), OpenPrice: 100,
		CurrentPrice: 101, UnrealizedPnL: decimal.NewFromFloat(1),
	}
	snap := snapshotWithATR(0.5)
	now := time.Now()

	if d := r.Evaluate(pos, Clock{Now: now}, snap); d != nil {
		t.Fatalf("expected no exit immediately after activation, got %+v", d)
	}

	pos.CurrentPrice = 102
	pos.UnrealizedPnL = decimal.NewFromFloat(2)
	if d := r.Evaluate(pos, Clock{Now: now.Add(time.Second)}, snap); d != nil {
		t.Fatalf("expected no exit while price advances favorably, got %+v", d)
	}

	pos.CurrentPrice = 101 // pulls back below best(102) - atr*mult(0.5) = 101.5
	if d := r.Evaluate(pos, Clock{Now: now.Add(2 * time.Second)}, snap); d == nil {
		t.Fatal("expected trailing stop to fire on pullback below the trailed stop")
	}
}

func TestForgetPositionClearsRuleState(t *testing.T) {
	a := NewArbiter(NewAdverseMovement(nil))
	pos := domain.PositionRecord{Ticket: 1, Side: domain.SideLong, OpenPrice: 100, CurrentPrice: 100}
	a.Evaluate(pos, Clock{Now: time.Now()}, indicator.Snapshot{})
	a.ForgetPosition(1)
	rule := a.rules[0].(*AdverseMovement)
	if _, ok := rule.state[1]; ok {
		t.Fatal("expected ForgetPosition to clear per-ticket scratch state")
	}
}
