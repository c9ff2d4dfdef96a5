// Package persistence implements the Persistence Sink: an append-only
// record of signals, orders/fills, trades, and periodic metrics samples,
// per spec.md §6. Generalises the teacher's internal/store package (whose
// SQLiteStore was entirely TODO-stubbed) from an order/position CRUD store
// into the write-only, four-table event log this system actually needs.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

// TradeRecord is one closed trade, open and close paired by ticket, as
// produced by the Position Tracker. Kept local to this package (rather than
// imported from internal/tracker) so persistence has no dependency on the
// tracker's in-memory bookkeeping types.
type TradeRecord struct {
	Ticket           int64
	Symbol           string
	Side             domain.Side
	Volume           decimal.Decimal
	OpenPrice        float64
	ClosePrice       float64
	OpenTime         time.Time
	CloseTime        time.Time
	RealizedPnL      decimal.Decimal
	Reason           string
	ExternallyClosed bool
}

// MetricsSample is one periodic housekeeping snapshot (spec.md §4.1 phase
// 8: "every N ticks, emit metrics").
type MetricsSample struct {
	Time            time.Time
	OpenPositions   int
	Equity          decimal.Decimal
	RealizedToday   decimal.Decimal
	LoopDurationMS  int64
	Extra           map[string]string
}

// Sink is the append-only persistence contract. Every method is expected
// to be safe for concurrent use; no method returns data back out, matching
// the write-only, forward-only nature of the store (spec.md §5: "append-
// only ... need not block the loop").
type Sink interface {
	RecordSignal(ctx context.Context, signal domain.Signal) error
	RecordOrder(ctx context.Context, req domain.OrderRequest, outcome domain.OrderOutcome) error
	RecordTrade(ctx context.Context, trade TradeRecord) error
	RecordMetrics(ctx context.Context, sample MetricsSample) error

	// Flush forces any buffered writes out. A Sink with no internal
	// buffering treats this as a no-op.
	Flush(ctx context.Context) error

	// Close releases any underlying resources. Callers must Flush first if
	// they need a synchronous guarantee that buffered writes landed.
	Close() error
}
