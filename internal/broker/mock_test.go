package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
)

func TestMockSessionName(t *testing.T) {
	m := NewMockSession()
	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want mock", got)
	}
}

func TestMockSessionSubmitOrderIdempotent(t *testing.T) {
	m := NewMockSession()
	ctx := context.Background()
	req := domain.OrderRequest{
		ClientTag: "sig-1",
		Symbol:    "EURUSD",
		Side:      domain.OrderSideBuy,
		Volume:    decimal.NewFromFloat(0.1),
		Type:      domain.OrderTypeMarket,
	}

	first, err := m.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("first SubmitOrder: %v", err)
	}
	if first.Kind != domain.OutcomeFilled {
		t.Fatalf("expected Filled, got %v", first.Kind)
	}

	second, err := m.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("second SubmitOrder: %v", err)
	}
	if second.Ticket != first.Ticket {
		t.Errorf("resubmission produced a new ticket: first=%d second=%d", first.Ticket, second.Ticket)
	}

	positions, err := m.OpenPositions(ctx, 0)
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected exactly one position after duplicate submission, got %d", len(positions))
	}
}

func TestMockSessionCloseOrder(t *testing.T) {
	m := NewMockSession()
	ctx := context.Background()

	fill, err := m.SubmitOrder(ctx, domain.OrderRequest{
		ClientTag: "open-1",
		Symbol:    "EURUSD",
		Side:      domain.OrderSideBuy,
		Volume:    decimal.NewFromFloat(0.1),
		Type:      domain.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	out, err := m.CloseOrder(ctx, fill.Ticket, decimal.Zero, "close-1")
	if err != nil {
		t.Fatalf("CloseOrder: %v", err)
	}
	if out.Kind != domain.OutcomeFilled {
		t.Fatalf("expected Filled close, got %v", out.Kind)
	}

	positions, err := m.OpenPositions(ctx, 0)
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no open positions after full close, got %d", len(positions))
	}
}

func TestMockSessionHealthProbe(t *testing.T) {
	m := NewMockSession()
	if err := m.HealthProbe(context.Background()); err != nil {
		t.Errorf("expected healthy probe, got %v", err)
	}
	m.Healthy = false
	if err := m.HealthProbe(context.Background()); err == nil {
		t.Error("expected error after marking session unhealthy")
	}
}
