// Package risk implements the Risk Gate: the sole arbiter of whether a
// Signal becomes an order, and at what size. Grounded on
// original_source/risk/manager.py's RiskManager.approve, reimplemented as
// typed refusal codes instead of a (bool, reason, size) tuple.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

// RefusalCode tags why the gate refused a signal.
type RefusalCode string

const (
	TradingDisabled          RefusalCode = "trading_disabled"
	SymbolCap                RefusalCode = "symbol_cap"
	TotalCap                 RefusalCode = "total_cap"
	DailyLossBreached        RefusalCode = "daily_loss_breached"
	ZeroOrNegativeSize       RefusalCode = "zero_or_negative_size"
	VolumeBelowBrokerMinimum RefusalCode = "volume_below_broker_minimum"
	VolumeAboveConfigMax     RefusalCode = "volume_above_config_max"
	InsufficientMargin       RefusalCode = "insufficient_margin"
	CircuitBreakerOpen       RefusalCode = "circuit_breaker_open"
)

// Decision is the Gate's output: exactly one of Approved or Refused is
// meaningful.
type Decision struct {
	Approved bool
	Volume   decimal.Decimal

	Code    RefusalCode
	Message string
}

func approved(volume decimal.Decimal) Decision {
	return Decision{Approved: true, Volume: volume}
}

func refused(code RefusalCode, message string) Decision {
	return Decision{Approved: false, Code: code, Message: message}
}

// Gate is the Risk Gate. It is safe for concurrent use, though the control
// loop only ever calls it from its single goroutine.
type Gate struct {
	mu sync.Mutex

	limits domain.RiskLimits

	brokerMinVolume decimal.Decimal

	serverDate   time.Time // midnight of the last-seen server date
	realisedToday decimal.Decimal
	circuitOpen   bool

	sessionStartEquity decimal.Decimal
	haveSessionStart   bool
}

// NewGate creates a Gate with the given limits. brokerMinVolume is the
// smallest tradable volume step (spec.md §4.2: "clamp to [broker_min,
// max-volume-per-order]"); the Execution Engine is responsible for lot-step
// quantisation beyond this floor.
func NewGate(limits domain.RiskLimits, brokerMinVolume decimal.Decimal) *Gate {
	return &Gate{limits: limits, brokerMinVolume: brokerMinVolume}
}

// Observe feeds the current account snapshot into the gate's server-date
// rollover and session-start-equity bookkeeping. The control loop calls
// this once per tick regardless of whether a signal exists, since
// EmergencyDrawdownBreached must arm even on a tick with no entries — both
// updates are idempotent once already seeded, so calling this every tick
// and inside Approve is safe.
func (g *Gate) Observe(account domain.AccountSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollServerDate(account.ServerTime)
	g.trackSessionStart(account.Equity)
}

// Approve evaluates a signal against the current account and position
// state and either sizes it or refuses it.
func (g *Gate) Approve(signal domain.Signal, account domain.AccountSnapshot, positionsForSymbol, totalPositions int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollServerDate(account.ServerTime)
	g.trackSessionStart(account.Equity)

	if g.circuitOpen {
		return refused(CircuitBreakerOpen, "circuit breaker open: daily loss limit was breached")
	}
	if !account.TradingEnabled {
		return refused(TradingDisabled, "trading is disabled on the account")
	}
	if g.limits.MaxPositionsPerSymbol > 0 && positionsForSymbol >= g.limits.MaxPositionsPerSymbol {
		return refused(SymbolCap, "max positions per symbol reached")
	}
	if g.limits.MaxTotalPositions > 0 && totalPositions >= g.limits.MaxTotalPositions {
		return refused(TotalCap, "max total positions reached")
	}
	if g.limits.CircuitBreakerEnabled && !g.limits.MaxDailyLoss.IsZero() {
		if g.realisedToday.Neg().GreaterThanOrEqual(g.limits.MaxDailyLoss) {
			g.circuitOpen = true
			return refused(DailyLossBreached, "max daily loss reached")
		}
	}

	volume := g.size(signal, account)
	if volume.LessThanOrEqual(decimal.Zero) {
		return refused(ZeroOrNegativeSize, "computed position size was zero or negative")
	}
	if !g.brokerMinVolume.IsZero() && volume.LessThan(g.brokerMinVolume) {
		return refused(VolumeBelowBrokerMinimum, "computed size is below the broker's minimum volume")
	}
	if !g.limits.MaxVolumePerOrder.IsZero() {
		if volume.GreaterThan(g.limits.MaxVolumePerOrder) {
			volume = g.limits.MaxVolumePerOrder
		}
	}
	if account.MarginFree.IsPositive() && account.MarginUsed.IsPositive() {
		// Heuristic only — the broker's own reject is the final authority
		// (spec.md §4.2). We refuse early solely when free margin cannot
		// plausibly cover the notional at the reference price.
		notional := volume.Mul(decimal.NewFromFloat(signal.Price))
		if notional.GreaterThan(account.MarginFree) {
			return refused(InsufficientMargin, "estimated notional exceeds free margin")
		}
	}

	return approved(volume)
}

// size implements spec.md §4.2's sizing precedence: stop-distance sizing
// when the signal carries a stop, else the configured default volume.
func (g *Gate) size(signal domain.Signal, account domain.AccountSnapshot) decimal.Decimal {
	if signal.Stop != nil {
		riskPerUnit := signal.Price - *signal.Stop
		if riskPerUnit < 0 {
			riskPerUnit = -riskPerUnit
		}
		if riskPerUnit > 0 && g.limits.PositionSizeAsFractionOfBalance > 0 {
			riskBudget := account.Balance.Mul(decimal.NewFromFloat(g.limits.PositionSizeAsFractionOfBalance))
			return riskBudget.Div(decimal.NewFromFloat(riskPerUnit))
		}
	}
	return g.limits.DefaultVolume
}

// RecordClose updates the realised-today accumulator after a confirmed
// close, feeding the circuit breaker (spec.md §4.2: "maintains a
// realised_today accumulator updated by the Control Loop after every
// confirmed close"). A close that takes the day's realised loss to
// MaxDailyLoss or beyond opens the circuit breaker immediately.
func (g *Gate) RecordClose(realizedPnL decimal.Decimal, serverTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollServerDate(serverTime)
	g.realisedToday = g.realisedToday.Add(realizedPnL)
	if g.limits.CircuitBreakerEnabled && !g.limits.MaxDailyLoss.IsZero() &&
		g.realisedToday.Neg().GreaterThanOrEqual(g.limits.MaxDailyLoss) {
		g.circuitOpen = true
	}
}

// EmergencyDrawdownBreached reports whether equity has fallen from the
// session-start level by more than EmergencyDrawdownFraction, per spec.md
// §4.2's "additionally causes the Control Loop to request immediate
// flatten-and-halt".
func (g *Gate) EmergencyDrawdownBreached(currentEquity decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.haveSessionStart || g.limits.EmergencyDrawdownFraction <= 0 {
		return false
	}
	if g.sessionStartEquity.IsZero() {
		return false
	}
	drop := g.sessionStartEquity.Sub(currentEquity).Div(g.sessionStartEquity)
	threshold := decimal.NewFromFloat(g.limits.EmergencyDrawdownFraction)
	return drop.GreaterThanOrEqual(threshold)
}

// Status reports the Gate's current bookkeeping, for logging/diagnostics.
type Status struct {
	RealisedToday decimal.Decimal
	CircuitOpen   bool
	ServerDate    time.Time
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{RealisedToday: g.realisedToday, CircuitOpen: g.circuitOpen, ServerDate: g.serverDate}
}

func (g *Gate) rollServerDate(serverTime time.Time) {
	if serverTime.IsZero() {
		return
	}
	day := truncateToDate(serverTime)
	if g.serverDate.IsZero() {
		g.serverDate = day
		return
	}
	if day.After(g.serverDate) {
		g.serverDate = day
		g.realisedToday = decimal.Zero
		g.circuitOpen = false
	}
}

func (g *Gate) trackSessionStart(equity decimal.Decimal) {
	if g.haveSessionStart {
		return
	}
	g.sessionStartEquity = equity
	g.haveSessionStart = true
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
