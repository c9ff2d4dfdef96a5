package exitarbiter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

const timeBasedPriority = 50

// TimeBased closes positions purely on time-in-trade and calendar rules:
// a maximum hold duration, Friday weekend protection, and an optional
// day-trading end-of-day flatten. Grounded on
// original_source/exit/time_based.py's TimeBasedExit. Stateless — nothing
// to release on Forget.
type TimeBased struct {
	maxHoldHours      float64
	weekendProtection bool
	fridayHour        int
	fridayMinute      int
	dayTradingMode    bool
	eodHour           int
	eodMinute         int
}

// NewTimeBased builds the rule from params, defaulting as the Python
// ancestor does: 24h max hold, Friday 16:00 weekend close, day-trading
// mode off.
func NewTimeBased(params map[string]string) *TimeBased {
	fh, fm := parseClock(stringParam(params, "friday_close_time", "16:00"))
	eh, em := parseClock(stringParam(params, "eod_close_time", "16:45"))
	return &TimeBased{
		maxHoldHours:      floatParam(params, "max_hold_hours", 24.0),
		weekendProtection: boolParam(params, "weekend_protection", true),
		fridayHour:        fh,
		fridayMinute:      fm,
		dayTradingMode:    boolParam(params, "day_trading_mode", false),
		eodHour:           eh,
		eodMinute:         em,
	}
}

func (r *TimeBased) Name() string      { return "time_based" }
func (r *TimeBased) Priority() int     { return timeBasedPriority }
func (r *TimeBased) Forget(int64)      {}

func (r *TimeBased) Evaluate(pos domain.PositionRecord, clock Clock, _ indicator.Snapshot) *domain.ExitDecision {
	ageHours := pos.Age(clock.Now).Hours()
	if ageHours >= r.maxHoldHours {
		return r.decision(pos.Ticket, clock.Now, fmt.Sprintf("max hold time exceeded (%.1fh)", ageHours))
	}

	if r.weekendProtection && clock.Now.Weekday() == time.Friday && afterClock(clock.Now, r.fridayHour, r.fridayMinute) {
		return r.decision(pos.Ticket, clock.Now, "weekend protection (Friday close)")
	}

	if r.dayTradingMode && afterClock(clock.Now, r.eodHour, r.eodMinute) {
		return r.decision(pos.Ticket, clock.Now, "end of day close (day trading mode)")
	}

	return nil
}

func (r *TimeBased) decision(ticket int64, now time.Time, reason string) *domain.ExitDecision {
	return &domain.ExitDecision{
		Ticket:             ticket,
		Reason:             reason,
		DesiredCloseVolume: decimal.Zero,
		TriggerTime:        now,
		Confidence:         1.0,
		Metadata:           map[string]string{"exit_type": "time_based"},
	}
}

func afterClock(t time.Time, hour, minute int) bool {
	h, m, _ := t.Clock()
	return h > hour || (h == hour && m >= minute)
}

func parseClock(s string) (int, int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 16, 0
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil {
		return 16, 0
	}
	return h, m
}

func stringParam(params map[string]string, key, def string) string {
	v, ok := params[key]
	if !ok || v == "" {
		return def
	}
	return v
}
