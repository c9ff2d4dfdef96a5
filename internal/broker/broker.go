// Package broker defines the Session interface — the single exclusive
// collaborator that talks to the brokerage — and provides live, replay, and
// mock implementations (spec.md §9's "Open Question" resolution: the
// broker SDK is modelled as a narrow capability with variants {live,
// replay, mock} so development and tests never depend on a live account).
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

// Session abstracts every brokerage operation the orchestrator needs. It is
// an exclusive resource: only the Execution Engine issues mutating calls
// (SubmitOrder/ModifyOrder/CloseOrder); the Bar Feed and Position Tracker
// only read. Rate limiting and retry are enforced by the concrete
// implementation, not by callers.
type Session interface {
	// Name identifies the broker implementation ("alpaca", "replay", "mock").
	Name() string

	// Connect establishes the session. Called at startup and on reconnect.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Called during shutdown.
	Disconnect(ctx context.Context) error

	// HealthProbe reports whether the session is currently usable.
	HealthProbe(ctx context.Context) error

	// Bars returns up to n most recent closed bars for symbol+timeframe,
	// oldest first.
	Bars(ctx context.Context, symbol, timeframe string, n int) ([]domain.Bar, error)

	// Account returns the current account snapshot.
	Account(ctx context.Context) (domain.AccountSnapshot, error)

	// OpenPositions returns every open position tagged with magicTag.
	OpenPositions(ctx context.Context, magicTag int64) ([]domain.PositionRecord, error)

	// SubmitOrder places an order and returns the resulting outcome.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error)

	// ModifyOrder adjusts the stop/take-profit of a working order or
	// position, identified by ticket.
	ModifyOrder(ctx context.Context, ticket int64, stop, takeProfit *float64) error

	// CloseOrder submits an opposing-side order to close volume of ticket,
	// tagged with clientTag for idempotency.
	CloseOrder(ctx context.Context, ticket int64, volume decimal.Decimal, clientTag string) (domain.OrderOutcome, error)
}

// PollOutcome re-reads the status of a previously submitted order
// identified by clientTag, used by the Execution Engine to poll a
// PartiallyFilled order toward its final state.
type PollOutcome interface {
	PollOutcome(ctx context.Context, clientTag string) (domain.OrderOutcome, error)
}

// minCallSpacing is the minimum spacing enforced between broker calls by
// implementations that wrap a real network session (spec.md §5: "Rate
// limiting... enforced inside the session wrapper, not at call sites").
const minCallSpacing = 100 * time.Millisecond
