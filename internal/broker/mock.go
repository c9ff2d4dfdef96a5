package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

// Compile-time interface check.
var _ Session = (*MockSession)(nil)

// MockSession is a deterministic, in-memory Session for tests. It
// synthesises bars, accepts orders with a configurable outcome, and tracks
// positions the same way a real broker would so reconciliation and
// adoption scenarios can be exercised without a live account.
type MockSession struct {
	mu sync.Mutex

	bars      map[string][]domain.Bar
	account   domain.AccountSnapshot
	positions map[int64]domain.PositionRecord
	orders    map[string]domain.OrderOutcome // client tag -> outcome
	nextTicket int64

	// Healthy toggles HealthProbe's result; tests flip it to simulate
	// disconnects.
	Healthy bool
	// FailNextSubmit, if set, is returned as an error from the next
	// SubmitOrder call and then cleared.
	FailNextSubmit error

	disconnectCalls int
}

// NewMockSession creates a MockSession with an empty book and a healthy
// connection.
func NewMockSession() *MockSession {
	return &MockSession{
		bars:       make(map[string][]domain.Bar),
		positions:  make(map[int64]domain.PositionRecord),
		orders:     make(map[string]domain.OrderOutcome),
		nextTicket: 900000, // non-conflicting range; dry-run fills use their own dryRunTicketBase
		Healthy:    true,
		account: domain.AccountSnapshot{
			Balance:        decimal.NewFromInt(10000),
			Equity:         decimal.NewFromInt(10000),
			TradingEnabled: true,
			ServerTime:     time.Now(),
		},
	}
}

func (m *MockSession) Name() string { return "mock" }

func (m *MockSession) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Healthy {
		return fmt.Errorf("mock session unhealthy")
	}
	return nil
}

func (m *MockSession) Disconnect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	return nil
}

// DisconnectCalls reports how many times Disconnect has been called, for
// tests asserting a shutdown sequence ran.
func (m *MockSession) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

func (m *MockSession) HealthProbe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Healthy {
		return fmt.Errorf("mock session unhealthy")
	}
	return nil
}

// SeedBars installs the deterministic bar series returned for symbol.
func (m *MockSession) SeedBars(symbol string, bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

// SetAccount overrides the snapshot returned by Account.
func (m *MockSession) SetAccount(a domain.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = a
}

// SeedPosition injects a position as if the broker already held it,
// independent of this process (used to exercise Reconcile/adoption).
func (m *MockSession) SeedPosition(p domain.PositionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Ticket] = p
}

func (m *MockSession) Bars(_ context.Context, symbol, _ string, n int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.bars[symbol]
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (m *MockSession) Account(_ context.Context) (domain.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account, nil
}

func (m *MockSession) OpenPositions(_ context.Context, _ int64) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PositionRecord, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (m *MockSession) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.orders[req.ClientTag]; ok {
		return prior, nil // idempotent resubmission
	}

	if m.FailNextSubmit != nil {
		err := m.FailNextSubmit
		m.FailNextSubmit = nil
		return domain.OrderOutcome{Kind: domain.OutcomeError, ErrorDetail: err.Error()}, nil
	}

	m.nextTicket++
	ticket := m.nextTicket
	price := req.LimitPrice
	fillPrice := 0.0
	if price != nil {
		fillPrice = *price
	} else if bars := m.bars[req.Symbol]; len(bars) > 0 {
		fillPrice = bars[len(bars)-1].C
	}

	outcome := domain.OrderOutcome{
		Kind:     domain.OutcomeFilled,
		Ticket:   ticket,
		Price:    fillPrice,
		Volume:   req.Volume,
		FillTime: time.Now(),
	}
	m.orders[req.ClientTag] = outcome

	if !req.Volume.IsZero() {
		side := domain.SideLong
		if req.Side == domain.OrderSideSell {
			side = domain.SideShort
		}
		m.positions[ticket] = domain.PositionRecord{
			Ticket:        ticket,
			Symbol:        req.Symbol,
			Side:          side,
			Volume:        req.Volume,
			OpenPrice:     fillPrice,
			OpenTime:      time.Now(),
			CurrentPrice:  fillPrice,
			Stop:          req.Stop,
			TakeProfit:    req.TakeProfit,
			FirstSeenTime: time.Now(),
			Origin:        domain.OriginNative,
			Metadata:      map[string]string{},
		}
	}
	return outcome, nil
}

func (m *MockSession) ModifyOrder(_ context.Context, ticket int64, stop, takeProfit *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("no such ticket %d", ticket)
	}
	p.Stop = stop
	p.TakeProfit = takeProfit
	m.positions[ticket] = p
	return nil
}

func (m *MockSession) CloseOrder(_ context.Context, ticket int64, volume decimal.Decimal, clientTag string) (domain.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.orders[clientTag]; ok {
		return prior, nil
	}

	p, ok := m.positions[ticket]
	if !ok {
		outcome := domain.OrderOutcome{Kind: domain.OutcomeRejected, RejectReason: "no such position"}
		m.orders[clientTag] = outcome
		return outcome, nil
	}

	closeVol := volume
	if closeVol.IsZero() || closeVol.GreaterThanOrEqual(p.Volume) {
		closeVol = p.Volume
		delete(m.positions, ticket)
	} else {
		p.Volume = p.Volume.Sub(closeVol)
		m.positions[ticket] = p
	}

	outcome := domain.OrderOutcome{
		Kind:     domain.OutcomeFilled,
		Ticket:   ticket,
		Price:    p.CurrentPrice,
		Volume:   closeVol,
		FillTime: time.Now(),
	}
	m.orders[clientTag] = outcome
	return outcome, nil
}
