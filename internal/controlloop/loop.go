// Package controlloop implements the Control Loop: the single-writer
// driver of one tick of work every poll_interval, per spec.md §4.1.
// Grounded on the wiring shape of cmd/jupitor-trader/main.go (construct
// every dependency up front, then run) and internal/engine/engine.go
// (a single struct holding broker/store/risk collaborators), generalized
// from a stub into the real 10-phase tick.
package controlloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jupitor/internal/barfeed"
	"jupitor/internal/broker"
	"jupitor/internal/domain"
	"jupitor/internal/execution"
	"jupitor/internal/exitarbiter"
	"jupitor/internal/indicator"
	"jupitor/internal/persistence"
	"jupitor/internal/risk"
	"jupitor/internal/strategy"
	"jupitor/internal/tracker"
	"jupitor/internal/util"
)

// Deps collects every collaborator the loop drives, constructed by the
// caller (cmd/trader) and handed in as a unit.
type Deps struct {
	Session  broker.Session
	Feed     *barfeed.Feed
	Pipeline *indicator.Pipeline
	Strategy strategy.Strategy
	Gate     *risk.Gate
	Engine   *execution.Engine
	Tracker  *tracker.Tracker
	Arbiter  *exitarbiter.Arbiter
	Sink     persistence.Sink
}

// Loop drives the trading orchestrator's tick per spec.md §4.1.
type Loop struct {
	deps Deps
	log  *slog.Logger

	symbol          string
	magicTag        int64
	deviationPoints float64
	pollInterval    time.Duration

	flattenOnShutdown    bool
	metricsEveryTicks    int
	shutdownGrace        time.Duration
	reconnectMaxAttempts int
	reconnectBaseDelay   time.Duration

	tickCount    int
	snapshot     indicator.Snapshot
	haveSnapshot bool
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithFlattenOnShutdown enables closing every tracked position on shutdown.
func WithFlattenOnShutdown(v bool) Option { return func(l *Loop) { l.flattenOnShutdown = v } }

// WithMetricsEveryTicks overrides how often (in ticks) a metrics sample is
// persisted (default 1: every tick).
func WithMetricsEveryTicks(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.metricsEveryTicks = n
		}
	}
}

// WithShutdownGrace bounds how long shutdown's flatten/flush/disconnect
// sequence may run before it is abandoned (default 30s).
func WithShutdownGrace(d time.Duration) Option { return func(l *Loop) { l.shutdownGrace = d } }

// WithReconnectPolicy overrides the capped exponential backoff used when a
// health probe fails (default 5 attempts, 500ms base delay).
func WithReconnectPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(l *Loop) { l.reconnectMaxAttempts = maxAttempts; l.reconnectBaseDelay = baseDelay }
}

// New creates a Loop over deps for the given symbol, trading under
// magicTag, polling every pollInterval.
func New(symbol string, magicTag int64, deviationPoints float64, pollInterval time.Duration, deps Deps, opts ...Option) *Loop {
	l := &Loop{
		deps:                 deps,
		log:                  slog.Default().With("component", "controlloop"),
		symbol:               symbol,
		magicTag:             magicTag,
		deviationPoints:      deviationPoints,
		pollInterval:         pollInterval,
		metricsEveryTicks:    1,
		shutdownGrace:        30 * time.Second,
		reconnectMaxAttempts: 5,
		reconnectBaseDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run starts the tick loop and blocks until ctx is cancelled, then performs
// the shutdown sequence. It returns a non-nil error only if shutdown itself
// failed to complete; a normal stop-signal shutdown returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.reconcile(ctx); err != nil {
		l.log.Error("startup reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-ticker.C:
			if fatal := l.tick(context.Background()); fatal {
				l.log.Error("fatal condition raised by tick, halting loop")
				return l.shutdown()
			}
		}
	}
}

// tick executes spec.md §4.1's 10 phases in order, isolating a fault in
// any one phase from the rest. It returns true only when a fatal condition
// (emergency drawdown breach) requires the loop to halt.
func (l *Loop) tick(ctx context.Context) bool {
	start := time.Now()
	l.tickCount++

	// Phase 1: health probe, reconnect-with-backoff, full reconciliation.
	if err := l.deps.Session.HealthProbe(ctx); err != nil {
		l.log.Warn("health probe failed, attempting reconnect", "error", err)
		if rerr := l.reconnectWithBackoff(ctx); rerr != nil {
			l.log.Error("reconnect failed, skipping tick", "error", rerr)
			return false
		}
		if rerr := l.reconcile(ctx); rerr != nil {
			l.log.Error("post-reconnect reconciliation failed", "error", rerr)
		}
	}

	account, err := l.deps.Session.Account(ctx)
	if err != nil {
		l.log.Error("account snapshot failed, degrading to a disabled-trading snapshot this tick", "error", err)
		account = domain.AccountSnapshot{}
	}
	l.deps.Gate.Observe(account)

	// Phase 2-5: bar fetch, indicator pipeline, strategy, entry.
	bars, isNew, err := l.deps.Feed.Fetch(ctx)
	if err != nil {
		l.log.Error("bar fetch failed, skipping entry logic this tick", "error", err)
	} else if isNew && len(bars) > 0 {
		l.snapshot = l.deps.Pipeline.Evaluate(bars)
		l.haveSnapshot = true
		for typ, serr := range l.snapshot.Errors {
			l.log.Warn("indicator failed, remaining columns still available", "indicator", typ, "error", serr)
		}
		l.runStrategy(ctx, bars[len(bars)-1], account)
	}

	// Phase 6: refresh tracked positions from the broker.
	if err := l.deps.Tracker.Monitor(ctx); err != nil {
		l.log.Error("position monitor failed", "error", err)
	}
	l.drainAndPersistClosedTrades(ctx, account)

	if l.deps.Gate.EmergencyDrawdownBreached(account.Equity) {
		l.log.Error("emergency drawdown breached, flattening and halting")
		l.deps.Tracker.CloseAll(ctx, "emergency_drawdown")
		l.drainAndPersistClosedTrades(ctx, account)
		return true
	}

	// Phase 7: exit arbiter evaluation.
	if l.haveSnapshot {
		l.evaluateExits(ctx, account)
	}

	// Phase 8: periodic housekeeping.
	l.housekeeping(ctx, account, time.Since(start))
	return false
}

// runStrategy invokes the configured Strategy on the latest closed bar and
// routes at most one signal through the Risk Gate and Execution Engine
// (spec.md §4.1 phase 4-5; multiple concurrent signals are not modelled).
func (l *Loop) runStrategy(ctx context.Context, bar domain.Bar, account domain.AccountSnapshot) {
	signals, err := l.deps.Strategy.OnBar(ctx, bar, l.snapshot)
	if err != nil {
		l.log.Error("strategy failed", "strategy", l.deps.Strategy.Name(), "error", err)
		return
	}
	if len(signals) == 0 {
		return
	}
	l.handleSignal(ctx, signals[0], account)
}

func (l *Loop) handleSignal(ctx context.Context, signal domain.Signal, account domain.AccountSnapshot) {
	if err := l.deps.Sink.RecordSignal(ctx, signal); err != nil {
		l.log.Error("persist signal failed", "error", err)
	}
	if signal.Side != domain.SideLong && signal.Side != domain.SideShort {
		return
	}

	positionsForSymbol := l.deps.Tracker.CountBySymbol(signal.Symbol)
	totalPositions := l.deps.Tracker.Count()
	decision := l.deps.Gate.Approve(signal, account, positionsForSymbol, totalPositions)
	if !decision.Approved {
		l.log.Info("signal refused by risk gate", "code", decision.Code, "message", decision.Message)
		return
	}

	orderSide := domain.OrderSideBuy
	if signal.Side == domain.SideShort {
		orderSide = domain.OrderSideSell
	}
	req := domain.OrderRequest{
		ClientTag:  signal.ID,
		Symbol:     signal.Symbol,
		Side:       orderSide,
		Volume:     decision.Volume,
		Type:       domain.OrderTypeMarket,
		Stop:       signal.Stop,
		TakeProfit: signal.TakeProfit,
		Deviation:  l.deviationPoints,
		MagicTag:   l.magicTag,
	}
	outcome, err := l.deps.Engine.Submit(ctx, req)
	if err != nil {
		l.log.Error("order submit failed", "client_tag", req.ClientTag, "error", err)
		return
	}
	if perr := l.deps.Sink.RecordOrder(ctx, req, outcome); perr != nil {
		l.log.Error("persist order failed", "error", perr)
	}

	if outcome.Kind == domain.OutcomeFilled || outcome.Kind == domain.OutcomePartiallyFilled {
		l.deps.Tracker.Register(outcome, signal.Symbol, signal.Side, signal.Stop, signal.TakeProfit, signal.Metadata)
	} else {
		l.log.Warn("order did not result in a position", "kind", outcome.Kind, "reject_reason", outcome.RejectReason)
	}
}

// evaluateExits runs the Exit Arbiter over every tracked position, then
// executes the collected decisions outside the scan (spec.md §4.5:
// "Decisions are collected and executed outside the iteration to avoid
// mutating the Tracker mid-scan").
func (l *Loop) evaluateExits(ctx context.Context, account domain.AccountSnapshot) {
	clock := exitarbiter.Clock{Now: time.Now()}

	type pendingExit struct {
		ticket   int64
		decision *domain.ExitDecision
	}
	var pending []pendingExit
	for _, pos := range l.deps.Tracker.All() {
		if d := l.deps.Arbiter.Evaluate(pos, clock, l.snapshot); d != nil {
			pending = append(pending, pendingExit{pos.Ticket, d})
		}
	}

	for _, p := range pending {
		if _, err := l.deps.Tracker.Close(ctx, p.ticket, p.decision.DesiredCloseVolume, p.decision.Reason); err != nil {
			l.log.Error("exit close failed", "ticket", p.ticket, "reason", p.decision.Reason, "error", err)
		}
	}
	l.drainAndPersistClosedTrades(ctx, account)
}

// drainAndPersistClosedTrades drains every ClosedTrade the Tracker has
// accumulated (from Monitor's external-close detection, Close, or
// CloseAll), persists each, feeds its realized P&L into the Risk Gate's
// daily accumulator, and releases the ticket's Exit Arbiter scratch state.
// Centralizing this in one place means every closure path — external,
// exit-rule-driven, or emergency flatten — forgets its ticket exactly once.
func (l *Loop) drainAndPersistClosedTrades(ctx context.Context, account domain.AccountSnapshot) {
	for _, ct := range l.deps.Tracker.DrainClosedTrades() {
		rec := persistence.TradeRecord{
			Ticket: ct.Ticket, Symbol: ct.Symbol, Side: ct.Side, Volume: ct.Volume,
			OpenPrice: ct.OpenPrice, ClosePrice: ct.ClosePrice, OpenTime: ct.OpenTime,
			CloseTime: ct.CloseTime, RealizedPnL: ct.RealizedPnL, Reason: ct.Reason,
			ExternallyClosed: ct.ExternallyClosed,
		}
		if err := l.deps.Sink.RecordTrade(ctx, rec); err != nil {
			l.log.Error("persist trade failed", "ticket", ct.Ticket, "error", err)
		}
		l.deps.Gate.RecordClose(ct.RealizedPnL, account.ServerTime)
		l.deps.Arbiter.ForgetPosition(ct.Ticket)
	}
}

func (l *Loop) housekeeping(ctx context.Context, account domain.AccountSnapshot, duration time.Duration) {
	l.log.Info("tick complete", "tick", l.tickCount, "duration_ms", duration.Milliseconds())
	if l.tickCount%l.metricsEveryTicks != 0 {
		return
	}
	status := l.deps.Gate.Status()
	sample := persistence.MetricsSample{
		Time: time.Now(), OpenPositions: l.deps.Tracker.Count(), Equity: account.Equity,
		RealizedToday: status.RealisedToday, LoopDurationMS: duration.Milliseconds(),
	}
	if err := l.deps.Sink.RecordMetrics(ctx, sample); err != nil {
		l.log.Error("persist metrics failed", "error", err)
	}
}

func (l *Loop) reconcile(ctx context.Context) error {
	adopted, removed, err := l.deps.Tracker.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("controlloop: reconcile: %w", err)
	}
	if adopted > 0 || removed > 0 {
		l.log.Info("reconciliation complete", "adopted", adopted, "removed", removed)
	}
	return nil
}

func (l *Loop) reconnectWithBackoff(ctx context.Context) error {
	return util.Retry(ctx, l.reconnectMaxAttempts, l.reconnectBaseDelay, func() error {
		return l.deps.Session.Connect(ctx)
	})
}

// shutdown implements spec.md §4.1's shutdown sequence, bounded by a grace
// period: optionally flatten every tracked position, flush persistence,
// then disconnect the broker. Anything still open when the grace period
// expires is logged as "left open", never silently dropped.
func (l *Loop) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownGrace)
	defer cancel()

	if l.flattenOnShutdown {
		outcomes := l.deps.Tracker.CloseAll(ctx, "shutdown_flatten")
		l.log.Info("shutdown: flattened tracked positions", "closed", len(outcomes))
		l.drainAndPersistClosedTrades(ctx, domain.AccountSnapshot{})
	}
	if left := l.deps.Tracker.Count(); left > 0 {
		l.log.Warn("shutdown: positions left open", "count", left)
	}

	if err := l.deps.Sink.Flush(ctx); err != nil {
		l.log.Error("shutdown: flush failed", "error", err)
	}
	if err := l.deps.Session.Disconnect(ctx); err != nil {
		l.log.Error("shutdown: broker disconnect failed", "error", err)
		return fmt.Errorf("controlloop: shutdown: disconnect: %w", err)
	}
	return nil
}
