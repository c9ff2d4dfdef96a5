// Package domain holds the core data types shared across the trading
// orchestrator: bars, signals, orders, positions, exit decisions, risk
// limits, and account snapshots. Types here are statically typed; only the
// Metadata bags are opaque string maps, kept that way deliberately so the
// wire/persistence boundary can carry arbitrary annotations without
// polluting in-memory fields with dynamic attribute access.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideFlat  Side = "flat"
)

// OrderSide is the direction of a concrete order submitted to the broker.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStop       OrderType = "stop"
	OrderTypeStopLimit  OrderType = "stop_limit"
)

// PositionOrigin distinguishes positions this process opened from ones it
// adopted during reconciliation.
type PositionOrigin string

const (
	OriginNative  PositionOrigin = "native"
	OriginAdopted PositionOrigin = "adopted"
)

// Bar is one OHLCV record for a fixed symbol+timeframe. Immutable once
// observed; Open is the bar-open time, monotonic per symbol+timeframe.
type Bar struct {
	Symbol string
	Open   time.Time
	O, H, L, C float64
	Volume float64
}

// Signal is a strategy's intent to enter or flatten a position. Created by
// a Strategy, consumed by the Risk Gate, never mutated afterwards.
type Signal struct {
	ID         string
	EmitTime   time.Time
	Symbol     string
	Side       Side
	Price      float64
	Stop       *float64
	TakeProfit *float64
	Confidence float64
	Strategy   string
	Metadata   map[string]string
}

// OrderRequest is what the Execution Engine submits to the broker.
type OrderRequest struct {
	ClientTag  string
	Symbol     string
	Side       OrderSide
	Volume     decimal.Decimal
	Type       OrderType
	LimitPrice *float64
	Stop       *float64
	TakeProfit *float64
	Deviation  float64
	MagicTag   int64
}

// OutcomeKind tags the variant of an OrderOutcome.
type OutcomeKind string

const (
	OutcomePlaced         OutcomeKind = "placed"
	OutcomeFilled         OutcomeKind = "filled"
	OutcomePartiallyFilled OutcomeKind = "partially_filled"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeCancelled      OutcomeKind = "cancelled"
	OutcomeError          OutcomeKind = "error"
)

// OrderOutcome is a tagged variant of the result of submitting or closing an
// order. Exactly one of the payload fields is meaningful per Kind.
type OrderOutcome struct {
	Kind OutcomeKind

	Ticket     int64
	Price      float64
	Volume     decimal.Decimal
	FillTime   time.Time
	Commission decimal.Decimal
	Swap       decimal.Decimal

	RejectReason string
	ErrorDetail  string
}

// PositionRecord is the authoritative record of one open position as held
// by the Position Tracker. The Tracker is the only writer; Exit Rules read
// but never mutate it.
type PositionRecord struct {
	Ticket        int64
	Symbol        string
	Side          Side
	Volume        decimal.Decimal
	OpenPrice     float64
	OpenTime      time.Time
	CurrentPrice  float64
	Stop          *float64
	TakeProfit    *float64
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Commission    decimal.Decimal
	Swap          decimal.Decimal
	FirstSeenTime time.Time
	Origin        PositionOrigin
	Metadata      map[string]string
}

// Age returns how long the position has been held as of now.
func (p *PositionRecord) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenTime)
}

// ExitDecision is emitted by an ExitRule when it determines a position
// should be (partially) closed.
type ExitDecision struct {
	Ticket             int64
	Reason             string
	Strategy           string
	DesiredCloseVolume decimal.Decimal // <= position volume; zero means full close
	TriggerTime        time.Time
	Confidence         float64
	Metadata           map[string]string
}

// RiskLimits configures the Risk Gate's sizing and refusal behaviour.
type RiskLimits struct {
	MaxVolumePerOrder         decimal.Decimal
	DefaultVolume             decimal.Decimal
	MaxDailyLoss              decimal.Decimal
	MaxPositionsPerSymbol     int
	MaxTotalPositions         int
	PositionSizeAsFractionOfBalance float64
	EmergencyDrawdownFraction float64
	CircuitBreakerEnabled     bool
}

// AccountSnapshot is a point-in-time view of broker account state.
type AccountSnapshot struct {
	Balance        decimal.Decimal
	Equity         decimal.Decimal
	MarginUsed     decimal.Decimal
	MarginFree     decimal.Decimal
	RealizedToday  decimal.Decimal
	TradingEnabled bool
	ServerTime     time.Time
}

// Market distinguishes the venue a bar/trade originates from. Carried over
// from the gathering subsystem for config compatibility; this orchestrator
// only trades a single configured symbol+timeframe (spec.md's Non-goal on
// multi-account/multi-market allocation), but util.TradingCalendar keys on it.
type Market string

const (
	MarketUS Market = "us"
)
