package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

// Compile-time interface check.
var _ Session = (*ReplaySession)(nil)

// ReplaySession plays a pre-recorded bar series back deterministically,
// advancing one bar per call to Bars, optionally paced to wall-clock speed.
// It delegates order handling to an embedded MockSession so replay runs can
// still exercise the full entry/exit/risk pipeline against historical data.
type ReplaySession struct {
	*MockSession

	mu       sync.Mutex
	series   []domain.Bar
	cursor   int
	speed    float64 // 1.0 = real time between bars; 0 = no pacing
	interval time.Duration
}

// NewReplaySession creates a ReplaySession over a recorded bar series for a
// single symbol. speed of 0 disables pacing (bars are released as fast as
// the loop consumes them); speed of 1 paces releases at interval.
func NewReplaySession(symbol string, series []domain.Bar, interval time.Duration, speed float64) *ReplaySession {
	return &ReplaySession{
		MockSession: NewMockSession(),
		series:      series,
		interval:    interval,
		speed:       speed,
	}
}

func (r *ReplaySession) Name() string { return "replay" }

// Bars ignores the caller's symbol/timeframe/n beyond bookkeeping and
// returns the next window advancing the replay cursor by one bar per call,
// mirroring how a live feed exposes one new closed bar per tick.
func (r *ReplaySession) Bars(ctx context.Context, symbol, _ string, n int) ([]domain.Bar, error) {
	r.mu.Lock()
	if r.cursor < len(r.series) {
		r.cursor++
	}
	end := r.cursor
	start := end - n
	if start < 0 {
		start = 0
	}
	window := append([]domain.Bar(nil), r.series[start:end]...)
	r.mu.Unlock()

	if len(window) > 0 {
		r.MockSession.SeedBars(symbol, window)
		r.MockSession.SeedPrice(symbol, window[len(window)-1].C)
	}

	if r.speed > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(float64(r.interval) / r.speed)):
		}
	}
	return window, nil
}

// Exhausted reports whether the replay has delivered its entire series.
func (r *ReplaySession) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor >= len(r.series)
}

// SeedPrice updates the current price used to mark open positions to
// market during replay, since a real broker does this automatically but
// the mock backing store needs to be told.
func (m *MockSession) SeedPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ticket, p := range m.positions {
		if p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = price
		if p.Side == domain.SideLong {
			p.UnrealizedPnL = decimal.NewFromFloat(price - p.OpenPrice).Mul(p.Volume)
		} else {
			p.UnrealizedPnL = decimal.NewFromFloat(p.OpenPrice - price).Mul(p.Volume)
		}
		m.positions[ticket] = p
	}
}
