package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

// Compile-time interface check.
var _ Session = (*DryRunSession)(nil)

// dryRunTicketBase is the start of DryRunSession's ticket range (the first
// ticket handed out is dryRunTicketBase+1), chosen to stay clear of any ticket range a live broker would assign
// (spec.md §4.1: "a synthetic ticket drawn from a non-conflicting numeric
// range").
const dryRunTicketBase = 900000000

// DryRunSession decorates a real Session for spec.md §4.1's dry-run mode:
// reads (Bars, Account, HealthProbe, Connect, Disconnect) pass straight
// through to inner so the rest of the loop runs end-to-end against real
// market data, while every mutating call (SubmitOrder, ModifyOrder,
// CloseOrder) is synthesised in memory instead of reaching the broker.
// OpenPositions reports only this session's synthesised book, never
// inner's real one, since no real order was ever placed. The fill/close
// synthesis logic is a direct reuse of MockSession's, decorated rather
// than duplicated as a standalone fake because dry-run still needs real
// reads underneath it.
type DryRunSession struct {
	inner Session

	mu         sync.Mutex
	positions  map[int64]domain.PositionRecord
	orders     map[string]domain.OrderOutcome
	nextTicket int64
	lastClose  map[string]float64
}

// NewDryRunSession wraps inner for dry-run trading.
func NewDryRunSession(inner Session) *DryRunSession {
	return &DryRunSession{
		inner:      inner,
		positions:  make(map[int64]domain.PositionRecord),
		orders:     make(map[string]domain.OrderOutcome),
		nextTicket: dryRunTicketBase,
		lastClose:  make(map[string]float64),
	}
}

func (d *DryRunSession) Name() string { return d.inner.Name() + ":dry-run" }

func (d *DryRunSession) Connect(ctx context.Context) error     { return d.inner.Connect(ctx) }
func (d *DryRunSession) Disconnect(ctx context.Context) error  { return d.inner.Disconnect(ctx) }
func (d *DryRunSession) HealthProbe(ctx context.Context) error { return d.inner.HealthProbe(ctx) }

func (d *DryRunSession) Bars(ctx context.Context, symbol, timeframe string, n int) ([]domain.Bar, error) {
	bars, err := d.inner.Bars(ctx, symbol, timeframe, n)
	if err == nil && len(bars) > 0 {
		d.mu.Lock()
		d.lastClose[symbol] = bars[len(bars)-1].C
		d.mu.Unlock()
	}
	return bars, err
}

func (d *DryRunSession) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	return d.inner.Account(ctx)
}

func (d *DryRunSession) OpenPositions(_ context.Context, _ int64) ([]domain.PositionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.PositionRecord, 0, len(d.positions))
	for ticket, p := range d.positions {
		if close, ok := d.lastClose[p.Symbol]; ok {
			p.CurrentPrice = close
			diff := close - p.OpenPrice
			if p.Side == domain.SideShort {
				diff = -diff
			}
			p.UnrealizedPnL = decimal.NewFromFloat(diff).Mul(p.Volume)
			d.positions[ticket] = p
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (d *DryRunSession) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prior, ok := d.orders[req.ClientTag]; ok {
		return prior, nil
	}

	d.nextTicket++
	ticket := d.nextTicket
	fillPrice := d.lastClose[req.Symbol]
	if req.LimitPrice != nil {
		fillPrice = *req.LimitPrice
	}

	outcome := domain.OrderOutcome{
		Kind:     domain.OutcomeFilled,
		Ticket:   ticket,
		Price:    fillPrice,
		Volume:   req.Volume,
		FillTime: time.Now(),
	}
	d.orders[req.ClientTag] = outcome

	if !req.Volume.IsZero() {
		side := domain.SideLong
		if req.Side == domain.OrderSideSell {
			side = domain.SideShort
		}
		now := time.Now()
		d.positions[ticket] = domain.PositionRecord{
			Ticket: ticket, Symbol: req.Symbol, Side: side, Volume: req.Volume,
			OpenPrice: fillPrice, OpenTime: now, CurrentPrice: fillPrice,
			Stop: req.Stop, TakeProfit: req.TakeProfit, FirstSeenTime: now,
			Origin: domain.OriginNative, Metadata: map[string]string{"dry_run": "true"},
		}
	}
	return outcome, nil
}

func (d *DryRunSession) ModifyOrder(_ context.Context, ticket int64, stop, takeProfit *float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.positions[ticket]
	if !ok {
		return nil
	}
	p.Stop = stop
	p.TakeProfit = takeProfit
	d.positions[ticket] = p
	return nil
}

func (d *DryRunSession) CloseOrder(_ context.Context, ticket int64, volume decimal.Decimal, clientTag string) (domain.OrderOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prior, ok := d.orders[clientTag]; ok {
		return prior, nil
	}

	p, ok := d.positions[ticket]
	if !ok {
		outcome := domain.OrderOutcome{Kind: domain.OutcomeRejected, RejectReason: "no such dry-run position"}
		d.orders[clientTag] = outcome
		return outcome, nil
	}

	closeVol := volume
	if closeVol.IsZero() || closeVol.GreaterThanOrEqual(p.Volume) {
		closeVol = p.Volume
		delete(d.positions, ticket)
	} else {
		p.Volume = p.Volume.Sub(closeVol)
		d.positions[ticket] = p
	}

	outcome := domain.OrderOutcome{
		Kind: domain.OutcomeFilled, Ticket: ticket, Price: p.CurrentPrice,
		Volume: closeVol, FillTime: time.Now(),
	}
	d.orders[clientTag] = outcome
	return outcome, nil
}
