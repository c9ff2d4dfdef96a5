package exitarbiter

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

const trailingStopPriority = 25

type trailingState struct {
	bestPrice float64
	stopPrice *float64
}

// TrailingStop activates once a position has cleared a minimum profit
// threshold, then trails a stop behind the best price seen at an
// ATR-scaled distance that only ever tightens in the profitable
// direction. Grounded on original_source/exit/trailing_stop.py's
// TrailingStop. The Python original expresses its distance floor in FX
// pips (min_stop_distance_pips * 0.0001); since this system is not
// forex-specific, the floor is configured directly in price units.
type TrailingStop struct {
	atrMultiplier       float64
	activationProfitPct float64
	minStopDistance     float64

	state map[int64]*trailingState
}

// NewTrailingStop builds the rule from params, defaulting to a 2x ATR
// trail activated after +0.5% unrealized profit.
func NewTrailingStop(params map[string]string) *TrailingStop {
	return &TrailingStop{
		atrMultiplier:       floatParam(params, "atr_multiplier", 2.0),
		activationProfitPct: floatParam(params, "activation_profit_pct", 0.5),
		minStopDistance:     floatParam(params, "min_stop_distance", 0.001),
		state:               make(map[int64]*trailingState),
	}
}

func (r *TrailingStop) Name() string      { return "trailing_stop" }
func (r *TrailingStop) Priority() int     { return trailingStopPriority }
func (r *TrailingStop) Forget(ticket int64) { delete(r.state, ticket) }

func (r *TrailingStop) Evaluate(pos domain.PositionRecord, clock Clock, snap indicator.Snapshot) *domain.ExitDecision {
	volume, _ := pos.Volume.Float64()
	if volume == 0 || pos.OpenPrice == 0 {
		return nil
	}
	unrealized, _ := pos.UnrealizedPnL.Float64()
	profitPct := (unrealized / (volume * pos.OpenPrice)) * 100
	if profitPct < r.activationProfitPct {
		return nil
	}

	st, ok := r.state[pos.Ticket]
	if !ok {
		st = &trailingState{bestPrice: pos.CurrentPrice}
		r.state[pos.Ticket] = st
	}

	isLong := pos.Side == domain.SideLong
	if isLong {
		if pos.CurrentPrice > st.bestPrice {
			st.bestPrice = pos.CurrentPrice
		}
	} else {
		if pos.CurrentPrice < st.bestPrice {
			st.bestPrice = pos.CurrentPrice
		}
	}

	stopDistance := r.minStopDistance
	if atr, ok := snap.Value("atr"); ok && atr > 0 {
		stopDistance = math.Max(atr*r.atrMultiplier, r.minStopDistance)
	}

	if isLong {
		newStop := st.bestPrice - stopDistance
		if st.stopPrice == nil {
			st.stopPrice = &newStop
		} else {
			*st.stopPrice = math.Max(*st.stopPrice, newStop)
		}
		if pos.CurrentPrice <= *st.stopPrice {
			return r.decision(pos.Ticket, clock, *st.stopPrice, st.bestPrice)
		}
	} else {
		newStop := st.bestPrice + stopDistance
		if st.stopPrice == nil {
			st.stopPrice = &newStop
		} else {
			*st.stopPrice = math.Min(*st.stopPrice, newStop)
		}
		if pos.CurrentPrice >= *st.stopPrice {
			return r.decision(pos.Ticket, clock, *st.stopPrice, st.bestPrice)
		}
	}
	return nil
}

func (r *TrailingStop) decision(ticket int64, clock Clock, stopPrice, bestPrice float64) *domain.ExitDecision {
	return &domain.ExitDecision{
		Ticket:             ticket,
		Reason:             fmt.Sprintf("trailing stop hit at %.5f (best %.5f)", stopPrice, bestPrice),
		DesiredCloseVolume: decimal.Zero,
		TriggerTime:        clock.Now,
		Confidence:         1.0,
		Metadata: map[string]string{
			"exit_type":  "trailing_stop",
			"stop_price": fmt.Sprintf("%.5f", stopPrice),
			"best_price": fmt.Sprintf("%.5f", bestPrice),
		},
	}
}
