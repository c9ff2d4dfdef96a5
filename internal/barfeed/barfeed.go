// Package barfeed implements the Bar Feed: a bounded last-N window fetch
// of OHLCV history for the configured symbol+timeframe, plus "no new bar"
// detection so the control loop can skip entry logic without skipping
// exit management. Grounded on internal/gather/us/alpaca.go's
// marketdata.Client usage, generalized to spec.md §4.6.
package barfeed

import (
	"context"
	"fmt"
	"time"

	"jupitor/internal/broker"
	"jupitor/internal/domain"
)

// Feed fetches a bounded bar window from a broker.Session on each tick and
// reports whether the most recent bar is new since the last fetch.
type Feed struct {
	session   broker.Session
	symbol    string
	timeframe string
	lookback  int
	cache     *Cache

	lastBarOpen time.Time
}

// Option configures a Feed at construction time.
type Option func(*Feed)

// WithCache attaches a Parquet-backed Cache that every fetched window is
// appended to, for crash-restart warm start.
func WithCache(c *Cache) Option { return func(f *Feed) { f.cache = c } }

// New creates a Feed over session for symbol/timeframe, fetching up to
// lookback bars per call.
func New(session broker.Session, symbol, timeframe string, lookback int, opts ...Option) *Feed {
	f := &Feed{session: session, symbol: symbol, timeframe: timeframe, lookback: lookback}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch pulls up to lookback bars and reports isNew: whether the most
// recent bar's open time advanced since the previous Fetch call. An empty
// window is never "new". On first call after construction, a non-empty
// window is always new.
func (f *Feed) Fetch(ctx context.Context) (bars []domain.Bar, isNew bool, err error) {
	bars, err = f.session.Bars(ctx, f.symbol, f.timeframe, f.lookback)
	if err != nil {
		return nil, false, fmt.Errorf("barfeed: fetch %s/%s: %w", f.symbol, f.timeframe, err)
	}
	if len(bars) == 0 {
		return bars, false, nil
	}

	latest := bars[len(bars)-1].Open
	isNew = f.lastBarOpen.IsZero() || latest.After(f.lastBarOpen)
	if isNew {
		f.lastBarOpen = latest
		if f.cache != nil {
			if err := f.cache.Append(f.symbol, bars); err != nil {
				return bars, isNew, fmt.Errorf("barfeed: cache append: %w", err)
			}
		}
	}
	return bars, isNew, nil
}

// Warm returns symbol's bar history from the on-disk cache without
// touching the broker (nil when no cache is attached). The feed itself
// keeps no copy of the returned bars.
func (f *Feed) Warm(symbol string) ([]domain.Bar, error) {
	if f.cache == nil {
		return nil, nil
	}
	return f.cache.Read(symbol)
}
