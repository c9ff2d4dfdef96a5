package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/broker"
	"jupitor/internal/domain"
	"jupitor/internal/execution"
)

func newHarness() (*broker.MockSession, *execution.Engine, *Tracker) {
	sess := broker.NewMockSession()
	eng := execution.NewEngine(sess, 16)
	tr := New(sess, eng, 0, AdoptionPolicy{})
	return sess, eng, tr
}

func TestRegisterIgnoresDuplicateTicket(t *testing.T) {
	_, _, tr := newHarness()
	outcome := domain.OrderOutcome{Kind: domain.OutcomeFilled, Ticket: 1, Price: 1.1, Volume: decimal.NewFromFloat(0.1)}
	tr.Register(outcome, "EURUSD", domain.SideLong, nil, nil, nil)
	tr.Register(outcome, "EURUSD", domain.SideLong, nil, nil, nil)
	if tr.Count() != 1 {
		t.Fatalf("expected duplicate registration to be ignored, got count %d", tr.Count())
	}
}

func TestRegisterIgnoresNonFilledOutcome(t *testing.T) {
	_, _, tr := newHarness()
	tr.Register(domain.OrderOutcome{Kind: domain.OutcomeRejected, Ticket: 1}, "EURUSD", domain.SideLong, nil, nil, nil)
	if tr.Count() != 0 {
		t.Fatalf("expected rejected outcome to not be tracked, got count %d", tr.Count())
	}
}

func TestMonitorDetectsExternalClose(t *testing.T) {
	_, _, tr := newHarness()
	tr.Register(domain.OrderOutcome{Kind: domain.OutcomeFilled, Ticket: 1, Price: 1.1, Volume: decimal.NewFromFloat(0.1)}, "EURUSD", domain.SideLong, nil, nil, nil)
	if tr.Count() != 1 {
		t.Fatalf("setup: expected one tracked position")
	}

	if err := tr.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if tr.Count() != 0 {
		t.Fatalf("expected position absent from broker to be dropped, got count %d", tr.Count())
	}
	closed := tr.DrainClosedTrades()
	if len(closed) != 1 || !closed[0].ExternallyClosed {
		t.Fatalf("expected one externally-closed trade recorded, got %+v", closed)
	}
}

func TestMonitorRefreshesCurrentPriceForLivePosition(t *testing.T) {
	sess, _, tr := newHarness()
	tr.Register(domain.OrderOutcome{Kind: domain.OutcomeFilled, Ticket: 1, Price: 1.1, Volume: decimal.NewFromFloat(0.1)}, "EURUSD", domain.SideLong, nil, nil, nil)
	sess.SeedPosition(domain.PositionRecord{
		Ticket: 1, Symbol: "EURUSD", Side: domain.SideLong,
		Volume: decimal.NewFromFloat(0.1), CurrentPrice: 1.2, UnrealizedPnL: decimal.NewFromFloat(10),
	})

	if err := tr.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	p, ok := tr.Get(1)
	if !ok {
		t.Fatalf("expected ticket 1 still tracked")
	}
	if p.CurrentPrice != 1.2 {
		t.Errorf("expected current price refreshed to 1.2, got %v", p.CurrentPrice)
	}
}

func TestCloseFullRemovesPosition(t *testing.T) {
	sess, eng, tr := newHarness()
	fill, err := eng.Submit(context.Background(), domain.OrderRequest{
		ClientTag: "open-1", Symbol: "EURUSD", Side: domain.OrderSideBuy,
		Volume: decimal.NewFromFloat(0.1), Type: domain.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tr.Register(fill, "EURUSD", domain.SideLong, nil, nil, nil)
	sess.SeedBars("EURUSD", []domain.Bar{{Symbol: "EURUSD", C: 1.15}})

	outcome, err := tr.Close(context.Background(), fill.Ticket, decimal.Zero, "manual")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if outcome.Kind != domain.OutcomeFilled {
		t.Fatalf("expected Filled close outcome, got %v", outcome.Kind)
	}
	if tr.Count() != 0 {
		t.Fatalf("expected full close to remove the position, got count %d", tr.Count())
	}
	closed := tr.DrainClosedTrades()
	if len(closed) != 1 || closed[0].ExternallyClosed {
		t.Fatalf("expected one non-external closed trade, got %+v", closed)
	}
}

func TestClosePartialShrinksVolume(t *testing.T) {
	sess, eng, tr := newHarness()
	fill, err := eng.Submit(context.Background(), domain.OrderRequest{
		ClientTag: "open-2", Symbol: "EURUSD", Side: domain.OrderSideBuy,
		Volume: decimal.NewFromFloat(1.0), Type: domain.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tr.Register(fill, "EURUSD", domain.SideLong, nil, nil, nil)
	sess.SeedBars("EURUSD", []domain.Bar{{Symbol: "EURUSD", C: 1.2}})

	_, err = tr.Close(context.Background(), fill.Ticket, decimal.NewFromFloat(0.4), "partial")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	p, ok := tr.Get(fill.Ticket)
	if !ok {
		t.Fatalf("expected position to remain tracked after partial close")
	}
	if !p.Volume.Equal(decimal.NewFromFloat(0.6)) {
		t.Errorf("expected remaining volume 0.6, got %v", p.Volume)
	}
}

func TestCloseAllBestEffortClosesEveryPosition(t *testing.T) {
	sess, eng, tr := newHarness()
	for i, tag := range []string{"a", "b", "c"} {
		fill, err := eng.Submit(context.Background(), domain.OrderRequest{
			ClientTag: tag, Symbol: "EURUSD", Side: domain.OrderSideBuy,
			Volume: decimal.NewFromFloat(0.1), Type: domain.OrderTypeMarket,
		})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		tr.Register(fill, "EURUSD", domain.SideLong, nil, nil, nil)
	}
	sess.SeedBars("EURUSD", []domain.Bar{{Symbol: "EURUSD", C: 1.1}})

	outcomes := tr.CloseAll(context.Background(), "flatten")
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 close outcomes, got %d", len(outcomes))
	}
	if tr.Count() != 0 {
		t.Fatalf("expected no positions left after CloseAll, got %d", tr.Count())
	}
}

func TestReconcileAdoptsWhitelistedOrphan(t *testing.T) {
	sess := broker.NewMockSession()
	eng := execution.NewEngine(sess, 16)
	tr := New(sess, eng, 0, AdoptionPolicy{Enabled: true, Whitelist: []string{"EURUSD"}})

	sess.SeedPosition(domain.PositionRecord{
		Ticket: 42, Symbol: "EURUSD", Side: domain.SideLong,
		Volume: decimal.NewFromFloat(0.2), CurrentPrice: 1.1,
	})

	adopted, removed, err := tr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if adopted != 1 || removed != 0 {
		t.Fatalf("expected 1 adopted, 0 removed; got %d, %d", adopted, removed)
	}
	p, ok := tr.Get(42)
	if !ok || p.Origin != domain.OriginAdopted {
		t.Fatalf("expected ticket 42 adopted, got %+v ok=%v", p, ok)
	}
}

func TestReconcileRejectsBlacklistedOrphan(t *testing.T) {
	sess := broker.NewMockSession()
	eng := execution.NewEngine(sess, 16)
	tr := New(sess, eng, 0, AdoptionPolicy{Enabled: true, Blacklist: []string{"EURUSD"}})

	sess.SeedPosition(domain.PositionRecord{Ticket: 42, Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.2)})

	adopted, _, err := tr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if adopted != 0 || tr.Count() != 0 {
		t.Fatalf("expected blacklisted orphan to not be adopted, got adopted=%d count=%d", adopted, tr.Count())
	}
}

func TestReconcileLogOnlyDoesNotAdopt(t *testing.T) {
	sess := broker.NewMockSession()
	eng := execution.NewEngine(sess, 16)
	tr := New(sess, eng, 0, AdoptionPolicy{Enabled: true, LogOnly: true})

	sess.SeedPosition(domain.PositionRecord{Ticket: 42, Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.2)})

	adopted, _, err := tr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if adopted != 0 || tr.Count() != 0 {
		t.Fatalf("expected log-only policy to never adopt, got adopted=%d count=%d", adopted, tr.Count())
	}
}

func TestReconcileRejectsOrphanBeyondMaxAge(t *testing.T) {
	sess := broker.NewMockSession()
	eng := execution.NewEngine(sess, 16)
	tr := New(sess, eng, 0, AdoptionPolicy{Enabled: true, MaxAge: time.Minute})

	sess.SeedPosition(domain.PositionRecord{
		Ticket: 42, Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.2),
		FirstSeenTime: time.Now().Add(-time.Hour),
	})

	adopted, _, err := tr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if adopted != 0 || tr.Count() != 0 {
		t.Fatalf("expected aged-out orphan to not be adopted, got adopted=%d count=%d", adopted, tr.Count())
	}
}

func TestReconcileRemovesPositionBrokerNoLongerReports(t *testing.T) {
	_, _, tr := newHarness()
	tr.Register(domain.OrderOutcome{Kind: domain.OutcomeFilled, Ticket: 7, Price: 1.1, Volume: decimal.NewFromFloat(0.1)}, "EURUSD", domain.SideLong, nil, nil, nil)

	_, removed, err := tr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != 1 || tr.Count() != 0 {
		t.Fatalf("expected vanished position to be removed, got removed=%d count=%d", removed, tr.Count())
	}
}

func TestAllReturnsTicketAscendingOrder(t *testing.T) {
	_, _, tr := newHarness()
	for _, ticket := range []int64{5, 1, 3} {
		tr.Register(domain.OrderOutcome{Kind: domain.OutcomeFilled, Ticket: ticket, Price: 1.1, Volume: decimal.NewFromFloat(0.1)}, "EURUSD", domain.SideLong, nil, nil, nil)
	}
	all := tr.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 tracked positions, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Ticket > all[i].Ticket {
			t.Fatalf("expected ticket-ascending order, got %v", all)
		}
	}
}
