package exitarbiter

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

const adverseMovementPriority = 90

type priceSample struct {
	at    time.Time
	price float64
}

type adverseMovementState struct {
	history  []priceSample
	lastExit time.Time
}

// AdverseMovement is the emergency flash-crash exit: it flattens a
// position immediately when price has moved against it by more than a
// threshold within a short rolling window, regardless of any other rule.
// Grounded on original_source/exit/adverse_movement.py's AdverseMovementExit.
type AdverseMovement struct {
	movementThresholdPct     float64
	window                   time.Duration
	ignoreDuringHighVol      bool
	volatilityThresholdATR   float64
	consecutiveMovesRequired int
	cooldown                 time.Duration

	state map[int64]*adverseMovementState
}

// NewAdverseMovement builds the rule from params, defaulting exactly as
// the Python ancestor does: 1.0% move within 60s, one consecutive adverse
// tick, 300s cooldown after firing.
func NewAdverseMovement(params map[string]string) *AdverseMovement {
	return &AdverseMovement{
		movementThresholdPct:     floatParam(params, "movement_threshold_pct", 1.0),
		window:                   time.Duration(intParam(params, "time_window_seconds", 60)) * time.Second,
		ignoreDuringHighVol:      boolParam(params, "ignore_during_high_volatility", false),
		volatilityThresholdATR:   floatParam(params, "volatility_threshold_atr", 2.5),
		consecutiveMovesRequired: intParam(params, "consecutive_moves_required", 1),
		cooldown:                 time.Duration(intParam(params, "cooldown_seconds", 300)) * time.Second,
		state:                    make(map[int64]*adverseMovementState),
	}
}

func (r *AdverseMovement) Name() string   { return "adverse_movement" }
func (r *AdverseMovement) Priority() int  { return adverseMovementPriority }
func (r *AdverseMovement) Forget(ticket int64) { delete(r.state, ticket) }

func (r *AdverseMovement) Evaluate(pos domain.PositionRecord, clock Clock, snap indicator.Snapshot) *domain.ExitDecision {
	st, ok := r.state[pos.Ticket]
	if !ok {
		st = &adverseMovementState{}
		r.state[pos.Ticket] = st
	}

	if !st.lastExit.IsZero() && clock.Now.Sub(st.lastExit) < r.cooldown {
		return nil
	}

	st.history = append(st.history, priceSample{at: clock.Now, price: pos.CurrentPrice})
	if len(st.history) > 100 {
		st.history = st.history[len(st.history)-100:]
	}
	if len(st.history) < 2 {
		return nil
	}

	if r.ignoreDuringHighVol {
		if atr, ok := snap.Value("atr"); ok && pos.OpenPrice != 0 {
			if (atr/pos.OpenPrice)*100 > r.volatilityThresholdATR {
				return nil
			}
		}
	}

	threshold := clock.Now.Add(-r.window)
	var recent []priceSample
	for _, s := range st.history {
		if !s.at.Before(threshold) {
			recent = append(recent, s)
		}
	}
	if len(recent) < 2 {
		return nil
	}

	isLong := pos.Side == domain.SideLong
	adverseMoves := 0
	for i := 1; i < len(recent); i++ {
		if isLong {
			if recent[i].price < recent[i-1].price {
				adverseMoves++
			} else {
				adverseMoves = 0
			}
		} else {
			if recent[i].price > recent[i-1].price {
				adverseMoves++
			} else {
				adverseMoves = 0
			}
		}
	}
	if adverseMoves < r.consecutiveMovesRequired {
		return nil
	}

	startPrice := recent[0].price
	priceChange := pos.CurrentPrice - startPrice
	if startPrice == 0 {
		return nil
	}
	pctMoved := abs(priceChange/startPrice) * 100
	isAdverse := (isLong && priceChange < 0) || (!isLong && priceChange > 0)
	if !isAdverse || pctMoved < r.movementThresholdPct {
		return nil
	}

	st.lastExit = clock.Now
	return &domain.ExitDecision{
		Ticket:             pos.Ticket,
		Reason:             fmt.Sprintf("adverse move %.2f%% in %s", pctMoved, r.window),
		DesiredCloseVolume: decimal.Zero,
		TriggerTime:        clock.Now,
		Confidence:         1.0,
		Metadata: map[string]string{
			"exit_type":          "emergency_adverse_movement",
			"movement_pct":       fmt.Sprintf("%.4f", pctMoved),
			"consecutive_moves":  fmt.Sprintf("%d", adverseMoves),
		},
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
