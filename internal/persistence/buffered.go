package persistence

import (
	"context"
	"log/slog"
	"sync"

	"jupitor/internal/domain"
)

// bufferedRecord is one queued write, tagged by kind so Flush can replay
// them against the inner Sink in the order they arrived.
type bufferedRecord struct {
	kind    string
	signal  domain.Signal
	req     domain.OrderRequest
	outcome domain.OrderOutcome
	trade   TradeRecord
	metrics MetricsSample
}

// BufferedSink decorates a Sink with an in-memory queue, so the control
// loop's tick never blocks on disk I/O. Flush (called by the control loop
// on shutdown, and always on Close) drains the queue synchronously against
// the inner Sink. Nothing flushes the queue on a timer or during a run, so
// queued records stay in memory until one of those calls.
type BufferedSink struct {
	inner Sink
	log   *slog.Logger

	mu    sync.Mutex
	queue []bufferedRecord
}

// NewBufferedSink wraps inner with an in-memory write buffer.
func NewBufferedSink(inner Sink) *BufferedSink {
	return &BufferedSink{inner: inner, log: slog.Default().With("component", "persistence.buffered")}
}

var _ Sink = (*BufferedSink)(nil)

func (b *BufferedSink) RecordSignal(_ context.Context, signal domain.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, bufferedRecord{kind: "signal", signal: signal})
	return nil
}

func (b *BufferedSink) RecordOrder(_ context.Context, req domain.OrderRequest, outcome domain.OrderOutcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, bufferedRecord{kind: "order", req: req, outcome: outcome})
	return nil
}

func (b *BufferedSink) RecordTrade(_ context.Context, trade TradeRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, bufferedRecord{kind: "trade", trade: trade})
	return nil
}

func (b *BufferedSink) RecordMetrics(_ context.Context, sample MetricsSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, bufferedRecord{kind: "metrics", metrics: sample})
	return nil
}

// Pending reports how many writes are queued and not yet flushed.
func (b *BufferedSink) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush drains the queue against the inner Sink in FIFO order. A failed
// write is logged and dropped rather than retried indefinitely — the
// persistence layer is best-effort by design (spec.md §5: "need not block
// the loop"), and an unbounded retry queue would itself become a leak.
func (b *BufferedSink) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, rec := range pending {
		var err error
		switch rec.kind {
		case "signal":
			err = b.inner.RecordSignal(ctx, rec.signal)
		case "order":
			err = b.inner.RecordOrder(ctx, rec.req, rec.outcome)
		case "trade":
			err = b.inner.RecordTrade(ctx, rec.trade)
		case "metrics":
			err = b.inner.RecordMetrics(ctx, rec.metrics)
		}
		if err != nil {
			b.log.Error("dropping persistence record after failed flush", "kind", rec.kind, "error", err)
		}
	}
	return b.inner.Flush(ctx)
}

// Close flushes synchronously and then closes the inner Sink, so no
// buffered write is lost on shutdown.
func (b *BufferedSink) Close() error {
	if err := b.Flush(context.Background()); err != nil {
		b.log.Error("flush on close failed", "error", err)
	}
	return b.inner.Close()
}
