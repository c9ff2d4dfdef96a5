// Package builtins provides built-in strategy implementations that ship with
// the orchestrator.
package builtins

import (
	"context"
	"fmt"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
	"jupitor/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is a simple moving-average crossover strategy, ported from
// original_source/strategy/sma_crossover.py's SmaCrossover: a LONG signal on
// a bullish crossover of the short SMA over the long SMA, a SHORT signal on
// the reverse, with stop/take-profit derived from ATR and a fixed
// risk-reward ratio. The Python original tracks previous SMA values on
// self._state across calls; here that state lives on the struct since each
// strategy instance is long-lived for the run.
type SMACross struct {
	shortPeriod     int
	longPeriod      int
	atrMultiplier   float64
	riskRewardRatio float64

	prevShort *float64
	prevLong  *float64
	seq       int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods, an ATR multiplier for stop distance, and a
// risk-reward ratio for the take-profit distance.
func NewSMACross(short, long int, atrMultiplier, riskRewardRatio float64) *SMACross {
	return &SMACross{
		shortPeriod:     short,
		longPeriod:      long,
		atrMultiplier:   atrMultiplier,
		riskRewardRatio: riskRewardRatio,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return "sma-cross" }

func (s *SMACross) Init(_ context.Context) error {
	s.prevShort = nil
	s.prevLong = nil
	return nil
}

func (s *SMACross) OnBar(_ context.Context, bar domain.Bar, snap indicator.Snapshot) ([]domain.Signal, error) {
	shortVal, ok := snap.Value(fmt.Sprintf("sma_%d", s.shortPeriod))
	if !ok {
		return nil, nil
	}
	longVal, ok := snap.Value(fmt.Sprintf("sma_%d", s.longPeriod))
	if !ok {
		return nil, nil
	}
	atr, ok := snap.Value("atr")
	if !ok {
		return nil, nil
	}

	prevShort, prevLong := s.prevShort, s.prevLong
	s.prevShort, s.prevLong = floatPtr(shortVal), floatPtr(longVal)

	if prevShort == nil || prevLong == nil {
		return nil, nil
	}

	switch {
	case *prevShort <= *prevLong && shortVal > longVal:
		return []domain.Signal{s.signal(bar, domain.SideLong, atr, "sma crossover: short crossed above long")}, nil
	case *prevShort >= *prevLong && shortVal < longVal:
		return []domain.Signal{s.signal(bar, domain.SideShort, atr, "sma crossover: short crossed below long")}, nil
	default:
		return nil, nil
	}
}

func (s *SMACross) signal(bar domain.Bar, side domain.Side, atr float64, reason string) domain.Signal {
	s.seq++
	price := bar.C
	var stop, takeProfit float64
	if side == domain.SideLong {
		stop = price - atr*s.atrMultiplier
		risk := price - stop
		takeProfit = price + risk*s.riskRewardRatio
	} else {
		stop = price + atr*s.atrMultiplier
		risk := stop - price
		takeProfit = price - risk*s.riskRewardRatio
	}
	return domain.Signal{
		ID:         fmt.Sprintf("%s-%d-%d", s.Name(), bar.Open.Unix(), s.seq),
		EmitTime:   bar.Open,
		Symbol:     bar.Symbol,
		Side:       side,
		Price:      price,
		Stop:       floatPtr(stop),
		TakeProfit: floatPtr(takeProfit),
		Confidence: 0.7,
		Strategy:   s.Name(),
		Metadata:   map[string]string{"reason": reason},
	}
}

func floatPtr(v float64) *float64 { return &v }
