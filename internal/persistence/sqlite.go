package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver.

	"jupitor/internal/domain"
)

// Compile-time interface check.
var _ Sink = (*SQLiteSink)(nil)

// SQLiteSink is the durable Sink, backed by a single SQLite database file
// with four append-only tables: signals, orders, trades, metrics.
// Grounded on the teacher's internal/store/sqlite.go's NewSQLiteStore, but
// with real schema migration and real INSERTs in place of the teacher's
// unimplemented TODO stubs.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) a SQLite database at path and ensures
// its schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	emitted_at INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	stop REAL,
	take_profit REAL,
	confidence REAL NOT NULL,
	strategy TEXT NOT NULL,
	metadata TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	client_tag TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume TEXT NOT NULL,
	order_type TEXT NOT NULL,
	outcome_kind TEXT NOT NULL,
	ticket INTEGER,
	fill_price REAL,
	fill_volume TEXT,
	fill_time INTEGER,
	reject_reason TEXT,
	error_detail TEXT
);
CREATE TABLE IF NOT EXISTS trades (
	ticket INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume TEXT NOT NULL,
	open_price REAL NOT NULL,
	close_price REAL NOT NULL,
	open_time INTEGER NOT NULL,
	close_time INTEGER NOT NULL,
	realized_pnl TEXT NOT NULL,
	reason TEXT NOT NULL,
	externally_closed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics (
	sampled_at INTEGER NOT NULL,
	open_positions INTEGER NOT NULL,
	equity TEXT NOT NULL,
	realized_today TEXT NOT NULL,
	loop_duration_ms INTEGER NOT NULL,
	extra TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("persistence: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteSink) RecordSignal(ctx context.Context, signal domain.Signal) error {
	meta, err := json.Marshal(signal.Metadata)
	if err != nil {
		return fmt.Errorf("persistence: marshal signal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO signals (id, emitted_at, symbol, side, price, stop, take_profit, confidence, strategy, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.ID, signal.EmitTime.UnixMilli(), signal.Symbol, string(signal.Side), signal.Price,
		nullableFloat(signal.Stop), nullableFloat(signal.TakeProfit), signal.Confidence, signal.Strategy, string(meta),
	)
	if err != nil {
		return fmt.Errorf("persistence: record signal: %w", err)
	}
	return nil
}

func (s *SQLiteSink) RecordOrder(ctx context.Context, req domain.OrderRequest, outcome domain.OrderOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO orders (client_tag, symbol, side, volume, order_type, outcome_kind, ticket, fill_price, fill_volume, fill_time, reject_reason, error_detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ClientTag, req.Symbol, string(req.Side), req.Volume.String(), string(req.Type), string(outcome.Kind),
		outcome.Ticket, outcome.Price, outcome.Volume.String(), nullableMillis(outcome.FillTime), outcome.RejectReason, outcome.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("persistence: record order: %w", err)
	}
	return nil
}

func (s *SQLiteSink) RecordTrade(ctx context.Context, t TradeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (ticket, symbol, side, volume, open_price, close_price, open_time, close_time, realized_pnl, reason, externally_closed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Ticket, t.Symbol, string(t.Side), t.Volume.String(), t.OpenPrice, t.ClosePrice,
		t.OpenTime.UnixMilli(), t.CloseTime.UnixMilli(), t.RealizedPnL.String(), t.Reason, boolToInt(t.ExternallyClosed),
	)
	if err != nil {
		return fmt.Errorf("persistence: record trade: %w", err)
	}
	return nil
}

func (s *SQLiteSink) RecordMetrics(ctx context.Context, m MetricsSample) error {
	extra, err := json.Marshal(m.Extra)
	if err != nil {
		return fmt.Errorf("persistence: marshal metrics extra: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics (sampled_at, open_positions, equity, realized_today, loop_duration_ms, extra)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Time.UnixMilli(), m.OpenPositions, m.Equity.String(), m.RealizedToday.String(), m.LoopDurationMS, string(extra),
	)
	if err != nil {
		return fmt.Errorf("persistence: record metrics: %w", err)
	}
	return nil
}

// Flush is a no-op for SQLiteSink: every write above is already
// synchronous against the database.
func (s *SQLiteSink) Flush(context.Context) error { return nil }

func (s *SQLiteSink) Close() error { return s.db.Close() }

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullableMillis(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
