// Package tracker implements the Position Tracker: the authoritative
// in-memory record of every open position, kept in sync with the broker.
// Grounded on original_source/position/manager.py's PositionManager/
// PositionInfo lifecycle, generalized to spec.md §4.4's Register / Monitor /
// Close / CloseAll / Reconcile operations and orphan-adoption policy.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/broker"
	"jupitor/internal/domain"
	"jupitor/internal/execution"
)

// AdoptionPolicy configures how orphaned broker positions (present at the
// broker, not yet tracked) are handled during Reconcile, per spec.md §4.4.
type AdoptionPolicy struct {
	Enabled   bool
	Whitelist []string // empty = all symbols adoptable
	Blacklist []string
	MaxAge    time.Duration // zero = no limit
	LogOnly   bool
}

func (p AdoptionPolicy) allows(symbol string, age time.Duration) bool {
	if !p.Enabled {
		return false
	}
	for _, b := range p.Blacklist {
		if b == symbol {
			return false
		}
	}
	if len(p.Whitelist) > 0 {
		allowed := false
		for _, w := range p.Whitelist {
			if w == symbol {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if p.MaxAge > 0 && age > p.MaxAge {
		return false
	}
	return true
}

// ClosedTrade is a best-effort record appended when a position disappears
// from the broker (closed externally) or is closed through the Tracker,
// destined for the Persistence Sink's trades table.
type ClosedTrade struct {
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

// Tracker is the Position Tracker. Safe for concurrent use; the control
// loop calls it from one goroutine. Monitor's broker round-trip happens
// outside the lock, which is held only long enough to copy results in.
type Tracker struct {
	mu        sync.Mutex
	positions map[int64]domain.PositionRecord

	session  broker.Session
	engine   *execution.Engine
	magicTag int64
	policy   AdoptionPolicy

	closedTrades []ClosedTrade

	log *slog.Logger
}

// New creates a Tracker backed by session for Monitor/Reconcile and engine
// for Close/CloseAll.
func New(session broker.Session, engine *execution.Engine, magicTag int64, policy AdoptionPolicy) *Tracker {
	return &Tracker{
		positions: make(map[int64]domain.PositionRecord),
		session:   session,
		engine:    engine,
		magicTag:  magicTag,
		policy:    policy,
		log:       slog.Default().With("component", "tracker"),
	}
}

// Register adds a new position from a Filled OrderOutcome with origin
// Native. Per spec.md §4.4, a duplicate ticket is ignored with a warning,
// not an error — Register is called from a fault-isolated control-loop
// phase where aborting the tick would be worse than skipping one record.
func (t *Tracker) Register(outcome domain.OrderOutcome, symbol string, side domain.Side, stop, takeProfit *float64, metadata map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if outcome.Kind != domain.OutcomeFilled && outcome.Kind != domain.OutcomePartiallyFilled {
		return
	}
	if _, exists := t.positions[outcome.Ticket]; exists {
		t.log.Warn("register: ticket already tracked, ignoring", "ticket", outcome.Ticket)
		return
	}
	now := time.Now()
	t.positions[outcome.Ticket] = domain.PositionRecord{
		Ticket:        outcome.Ticket,
		Symbol:        symbol,
		Side:          side,
		Volume:        outcome.Volume,
		OpenPrice:     outcome.Price,
		OpenTime:      now,
		CurrentPrice:  outcome.Price,
		Stop:          stop,
		TakeProfit:    takeProfit,
		FirstSeenTime: now,
		Origin:        domain.OriginNative,
		Metadata:      metadata,
	}
}

// Monitor refreshes current price and unrealized P&L for every tracked
// position in one batched broker call. Positions the broker no longer
// reports are marked closed-externally: a best-effort ClosedTrade is
// appended (using the last-known current price) and the record removed.
func (t *Tracker) Monitor(ctx context.Context) error {
	live, err := t.session.OpenPositions(ctx, t.magicTag)
	if err != nil {
		return fmt.Errorf("tracker: monitor: %w", err)
	}
	byTicket := make(map[int64]domain.PositionRecord, len(live))
	for _, p := range live {
		byTicket[p.Ticket] = p
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for ticket, tracked := range t.positions {
		if fresh, ok := byTicket[ticket]; ok {
			tracked.CurrentPrice = fresh.CurrentPrice
			tracked.UnrealizedPnL = fresh.UnrealizedPnL
			t.positions[ticket] = tracked
			continue
		}
		t.closedTrades = append(t.closedTrades, ClosedTrade{
			Ticket:           tracked.Ticket,
			Symbol:           tracked.Symbol,
			Side:             tracked.Side,
			Volume:           tracked.Volume,
			OpenPrice:        tracked.OpenPrice,
			ClosePrice:       tracked.CurrentPrice,
			OpenTime:         tracked.OpenTime,
			CloseTime:        time.Now(),
			RealizedPnL:      tracked.UnrealizedPnL,
			Reason:           "closed_externally",
			ExternallyClosed: true,
		})
		delete(t.positions, ticket)
	}
	return nil
}

// Close delegates to the Execution Engine; on success it either removes the
// record (full close) or shrinks its volume (partial close), recording the
// realized delta either way.
func (t *Tracker) Close(ctx context.Context, ticket int64, volume decimal.Decimal, reason string) (domain.OrderOutcome, error) {
	t.mu.Lock()
	record, ok := t.positions[ticket]
	t.mu.Unlock()
	if !ok {
		return domain.OrderOutcome{}, fmt.Errorf("tracker: close: ticket %d not tracked", ticket)
	}

	closeVolume := volume
	if closeVolume.IsZero() {
		closeVolume = record.Volume
	}
	outcome, err := t.engine.Close(ctx, ticket, record.Symbol, record.Side, closeVolume, reason)
	if err != nil {
		return outcome, err
	}
	if outcome.Kind != domain.OutcomeFilled && outcome.Kind != domain.OutcomePartiallyFilled {
		return outcome, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	closeVol := outcome.Volume
	fullClose := closeVol.IsZero() || closeVol.GreaterThanOrEqual(record.Volume)
	realized := realizedPnL(record, outcome.Price, closeVol)

	if fullClose {
		delete(t.positions, ticket)
		t.closedTrades = append(t.closedTrades, ClosedTrade{
			Ticket: ticket, Symbol: record.Symbol, Side: record.Side, Volume: record.Volume,
			OpenPrice: record.OpenPrice, ClosePrice: outcome.Price, OpenTime: record.OpenTime,
			CloseTime: time.Now(), RealizedPnL: realized, Reason: reason,
		})
	} else {
		record.Volume = record.Volume.Sub(closeVol)
		record.RealizedPnL = record.RealizedPnL.Add(realized)
		t.positions[ticket] = record
		t.closedTrades = append(t.closedTrades, ClosedTrade{
			Ticket: ticket, Symbol: record.Symbol, Side: record.Side, Volume: closeVol,
			OpenPrice: record.OpenPrice, ClosePrice: outcome.Price, OpenTime: record.OpenTime,
			CloseTime: time.Now(), RealizedPnL: realized, Reason: reason,
		})
	}
	return outcome, nil
}

func realizedPnL(record domain.PositionRecord, closePrice float64, volume decimal.Decimal) decimal.Decimal {
	if volume.IsZero() {
		volume = record.Volume
	}
	diff := closePrice - record.OpenPrice
	if record.Side == domain.SideShort {
		diff = -diff
	}
	return decimal.NewFromFloat(diff).Mul(volume)
}

// CloseAll is a best-effort emergency flatten: every tracked position is
// closed independently, and one failure does not stop the rest.
func (t *Tracker) CloseAll(ctx context.Context, reason string) []domain.OrderOutcome {
	t.mu.Lock()
	tickets := make([]int64, 0, len(t.positions))
	for ticket := range t.positions {
		tickets = append(tickets, ticket)
	}
	t.mu.Unlock()
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })

	outcomes := make([]domain.OrderOutcome, 0, len(tickets))
	for _, ticket := range tickets {
		outcome, err := t.Close(ctx, ticket, decimal.Zero, reason)
		if err != nil {
			t.log.Error("close-all: failed to close position", "ticket", ticket, "error", err)
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Reconcile is the authoritative sync with the broker's open-position list,
// invoked on startup and after every reconnect (spec.md §4.4). It adopts
// broker positions the Tracker doesn't know about (subject to
// AdoptionPolicy) and removes tracked positions the broker no longer
// reports.
func (t *Tracker) Reconcile(ctx context.Context) (adopted int, removed int, err error) {
	live, err := t.session.OpenPositions(ctx, t.magicTag)
	if err != nil {
		return 0, 0, fmt.Errorf("tracker: reconcile: %w", err)
	}
	byTicket := make(map[int64]domain.PositionRecord, len(live))
	for _, p := range live {
		byTicket[p.Ticket] = p
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for _, p := range live {
		if existing, ok := t.positions[p.Ticket]; ok {
			existing.CurrentPrice = p.CurrentPrice
			existing.UnrealizedPnL = p.UnrealizedPnL
			t.positions[p.Ticket] = existing
			continue
		}
		reference := p.OpenTime
		if reference.IsZero() {
			reference = p.FirstSeenTime
		}
		age := now.Sub(reference)
		if !t.policy.allows(p.Symbol, age) {
			t.log.Warn("orphan position not adopted", "ticket", p.Ticket, "symbol", p.Symbol, "age", age)
			continue
		}
		if t.policy.LogOnly {
			t.log.Info("orphan position detected (log-only policy)", "ticket", p.Ticket, "symbol", p.Symbol)
			continue
		}
		p.Origin = domain.OriginAdopted
		p.FirstSeenTime = now
		t.positions[p.Ticket] = p
		adopted++
	}

	for ticket := range t.positions {
		if _, ok := byTicket[ticket]; !ok {
			delete(t.positions, ticket)
			removed++
		}
	}
	return adopted, removed, nil
}

// Get returns the tracked record for ticket, if any.
func (t *Tracker) Get(ticket int64) (domain.PositionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	return p, ok
}

// All returns every tracked position, ordered by ticket ascending (spec.md
// §4.5: "iterated in a stable order — ticket ascending").
func (t *Tracker) All() []domain.PositionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.PositionRecord, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// CountBySymbol returns how many positions are tracked for symbol.
func (t *Tracker) CountBySymbol(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.positions {
		if p.Symbol == symbol {
			n++
		}
	}
	return n
}

// Count returns the total number of tracked positions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// DrainClosedTrades returns and clears the accumulated ClosedTrade records,
// for the control loop to hand to the Persistence Sink.
func (t *Tracker) DrainClosedTrades() []ClosedTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.closedTrades
	t.closedTrades = nil
	return out
}
