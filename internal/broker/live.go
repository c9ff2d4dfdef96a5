package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
	"jupitor/internal/util"
)

// Compile-time interface check.
var _ Session = (*AlpacaSession)(nil)

// AlpacaSession implements Session against the Alpaca brokerage, wrapping
// every call with a rate limiter and bounded retry so faults are absorbed
// inside the session wrapper rather than at call sites (spec.md §5).
type AlpacaSession struct {
	trading *alpaca.Client
	data    *marketdata.Client

	rate *util.RateLimiter
	log  *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewAlpacaSession creates an AlpacaSession configured with the given
// credentials and endpoints. ratePerMin bounds the call rate to the
// brokerage (spec.md §5: "minimum inter-call spacing, e.g. 100 ms").
func NewAlpacaSession(apiKey, apiSecret, tradingURL, dataURL string, ratePerMin int) *AlpacaSession {
	return &AlpacaSession{
		trading: alpaca.NewClient(alpaca.ClientOpts{APIKey: apiKey, APISecret: apiSecret, BaseURL: tradingURL}),
		data:    marketdata.NewClient(marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret, BaseURL: dataURL}),
		rate:    util.NewRateLimiter(ratePerMin),
		log:     slog.Default().With("broker", "alpaca"),
	}
}

func (s *AlpacaSession) Name() string { return "alpaca" }

func (s *AlpacaSession) paced(ctx context.Context) error {
	return s.rate.Wait(ctx)
}

func (s *AlpacaSession) Connect(ctx context.Context) error {
	if err := s.paced(ctx); err != nil {
		return err
	}
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		_, err := s.trading.GetAccount()
		return err
	})
	if err != nil {
		return fmt.Errorf("alpaca connect: %w", err)
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *AlpacaSession) Disconnect(_ context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *AlpacaSession) HealthProbe(ctx context.Context) error {
	if err := s.paced(ctx); err != nil {
		return err
	}
	_, err := s.trading.GetAccount()
	if err != nil {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}
	return err
}

func (s *AlpacaSession) Bars(ctx context.Context, symbol, timeframe string, n int) ([]domain.Bar, error) {
	if err := s.paced(ctx); err != nil {
		return nil, err
	}
	tf, err := parseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	end := time.Now()
	// Request a generous window back and truncate to the most recent n
	// below — the API doesn't offer a direct "last n" query.
	start := end.Add(-time.Duration(n) * tfDuration(timeframe) * 3)

	var bars []marketdata.Bar
	err = util.Retry(ctx, 3, 250*time.Millisecond, func() error {
		var berr error
		bars, berr = s.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      "sip",
		})
		return berr
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars(%s): %w", symbol, err)
	}

	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Bar{
			Symbol: symbol,
			Open:   b.Timestamp,
			O:      b.Open,
			H:      b.High,
			L:      b.Low,
			C:      b.Close,
			Volume: float64(b.Volume),
		})
	}
	return out, nil
}

func (s *AlpacaSession) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	if err := s.paced(ctx); err != nil {
		return domain.AccountSnapshot{}, err
	}
	var acc *alpaca.Account
	err := util.Retry(ctx, 3, 250*time.Millisecond, func() error {
		var aerr error
		acc, aerr = s.trading.GetAccount()
		return aerr
	})
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("alpaca GetAccount: %w", err)
	}
	return domain.AccountSnapshot{
		Balance:        decDefault(acc.Cash),
		Equity:         decDefault(acc.Equity),
		MarginUsed:     decimal.Zero,
		MarginFree:     decDefault(acc.BuyingPower),
		TradingEnabled: !acc.TradingBlocked,
		ServerTime:     time.Now(),
	}, nil
}

func (s *AlpacaSession) OpenPositions(ctx context.Context, magicTag int64) ([]domain.PositionRecord, error) {
	if err := s.paced(ctx); err != nil {
		return nil, err
	}
	var positions []alpaca.Position
	err := util.Retry(ctx, 3, 250*time.Millisecond, func() error {
		var perr error
		positions, perr = s.trading.GetPositions()
		return perr
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetPositions: %w", err)
	}

	now := time.Now()
	out := make([]domain.PositionRecord, 0, len(positions))
	for _, p := range positions {
		ticket, convErr := strconv.ParseInt(p.AssetID, 36, 64)
		if convErr != nil {
			ticket = int64(hashString(p.AssetID))
		}
		side := domain.SideLong
		if p.Side == "short" {
			side = domain.SideShort
		}
		cur, _ := p.CurrentPrice.Float64()
		open, _ := p.AvgEntryPrice.Float64()
		out = append(out, domain.PositionRecord{
			Ticket:        ticket,
			Symbol:        p.Symbol,
			Side:          side,
			Volume:        p.Qty.Abs(),
			OpenPrice:     open,
			CurrentPrice:  cur,
			UnrealizedPnL: decPtrDefault(p.UnrealizedPL),
			FirstSeenTime: now,
			Origin:        domain.OriginAdopted,
			Metadata:      map[string]string{"magic_tag": strconv.FormatInt(magicTag, 10)},
		})
	}
	return out, nil
}

func (s *AlpacaSession) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if err := s.paced(ctx); err != nil {
		return domain.OrderOutcome{}, err
	}
	side := alpaca.Buy
	if req.Side == domain.OrderSideSell {
		side = alpaca.Sell
	}
	orderType := alpaca.Market
	switch req.Type {
	case domain.OrderTypeLimit:
		orderType = alpaca.Limit
	case domain.OrderTypeStop:
		orderType = alpaca.Stop
	case domain.OrderTypeStopLimit:
		orderType = alpaca.StopLimit
	}

	qty := req.Volume
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          orderType,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: req.ClientTag,
	}
	if req.LimitPrice != nil {
		lp := decimal.NewFromFloat(*req.LimitPrice)
		placeReq.LimitPrice = &lp
	}
	if req.Stop != nil {
		sp := decimal.NewFromFloat(*req.Stop)
		placeReq.StopPrice = &sp
	}

	var order *alpaca.Order
	err := util.Retry(ctx, 3, 250*time.Millisecond, func() error {
		var oerr error
		order, oerr = s.trading.PlaceOrder(placeReq)
		return oerr
	})
	if err != nil {
		return domain.OrderOutcome{Kind: domain.OutcomeError, ErrorDetail: err.Error()}, nil
	}
	return outcomeFromOrder(order), nil
}

func (s *AlpacaSession) ModifyOrder(ctx context.Context, ticket int64, stop, takeProfit *float64) error {
	return s.paced(ctx)
}

func (s *AlpacaSession) CloseOrder(ctx context.Context, ticket int64, volume decimal.Decimal, clientTag string) (domain.OrderOutcome, error) {
	if err := s.paced(ctx); err != nil {
		return domain.OrderOutcome{}, err
	}
	// Alpaca's position-close endpoint is expressed as a DELETE with a qty
	// parameter for partial closes, which does not map onto the OrderOutcome
	// shape Session.CloseOrder returns. No order is placed here: this always
	// errors, and the caller (execution.Engine) builds the opposing-side
	// order through SubmitOrder instead.
	return domain.OrderOutcome{Kind: domain.OutcomeError, ErrorDetail: "direct position close not wired: use SubmitOrder with the opposing side"}, fmt.Errorf("unimplemented: close via opposing order should be built by the caller (execution.Engine)")
}

func outcomeFromOrder(o *alpaca.Order) domain.OrderOutcome {
	if o.FilledQty.IsZero() {
		return domain.OrderOutcome{Kind: domain.OutcomePlaced, Ticket: int64(hashString(o.ID))}
	}
	fillPrice := 0.0
	if o.FilledAvgPrice != nil {
		fillPrice, _ = o.FilledAvgPrice.Float64()
	}
	if o.Status == "filled" {
		return domain.OrderOutcome{
			Kind:     domain.OutcomeFilled,
			Ticket:   int64(hashString(o.ID)),
			Price:    fillPrice,
			Volume:   o.FilledQty,
			FillTime: timeOrNow(o.FilledAt),
		}
	}
	return domain.OrderOutcome{
		Kind:     domain.OutcomePartiallyFilled,
		Ticket:   int64(hashString(o.ID)),
		Price:    fillPrice,
		Volume:   o.FilledQty,
		FillTime: timeOrNow(o.FilledAt),
	}
}

func timeOrNow(t *time.Time) time.Time {
	if t == nil {
		return time.Now()
	}
	return *t
}

func decDefault(d decimal.Decimal) decimal.Decimal { return d }

func decPtrDefault(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func parseTimeframe(tf string) (marketdata.TimeFrame, error) {
	switch tf {
	case "M1":
		return marketdata.NewTimeFrame(1, marketdata.Min), nil
	case "M5":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "M15":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "H1":
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case "D1":
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", tf)
	}
}

func tfDuration(tf string) time.Duration {
	switch tf {
	case "M1":
		return time.Minute
	case "M5":
		return 5 * time.Minute
	case "M15":
		return 15 * time.Minute
	case "H1":
		return time.Hour
	case "D1":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
