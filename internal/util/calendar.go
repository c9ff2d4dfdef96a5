package util

import (
	"time"

	"jupitor/internal/domain"
)

// TradingCalendar provides basic market-hours awareness for a specific
// market. It does not account for exchange holidays; callers that need
// holiday-accurate scheduling should cross-check against the broker's own
// calendar endpoint instead.
type TradingCalendar struct {
	market   domain.Market
	location *time.Location
	open     time.Duration // offset from midnight, local market time
	close    time.Duration
}

// NewTradingCalendar creates a TradingCalendar for the given market. Only
// domain.MarketUS (NYSE hours, America/New_York) is currently supported.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{
		market:   market,
		location: loc,
		open:     9*time.Hour + 30*time.Minute,
		close:    16 * time.Hour,
	}
}

// IsMarketOpen returns whether the market is open at time t, ignoring
// holidays. Weekends are always closed.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	sinceMidnight := local.Sub(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.location))
	return sinceMidnight >= tc.open && sinceMidnight < tc.close
}

// NextClose returns the session close time on or after t, in the market's
// local timezone.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.location)
	closeToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.location).Add(tc.close)
	if local.After(closeToday) {
		closeToday = closeToday.AddDate(0, 0, 1)
	}
	return closeToday
}

// LocalTimeOfDay returns t's time-of-day offset from midnight in the
// market's local timezone, for comparison against configured cutoffs like
// "16:45".
func (tc *TradingCalendar) LocalTimeOfDay(t time.Time) time.Duration {
	local := t.In(tc.location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.location)
	return local.Sub(midnight)
}

// Weekday returns t's weekday in the market's local timezone.
func (tc *TradingCalendar) Weekday(t time.Time) time.Weekday {
	return t.In(tc.location).Weekday()
}

// ParseClockTime parses an "HH:MM" string into a time.Duration offset from
// midnight. Returns an error if the format is invalid.
func ParseClockTime(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
