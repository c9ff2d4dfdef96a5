// Package execution implements the Execution Engine: the only component
// that issues mutating calls to the broker. New package — the teacher's
// broker package only stubbed SubmitOrder with no idempotency or
// partial-fill handling at all.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/broker"
	"jupitor/internal/domain"
)

// Engine wraps a broker.Session with idempotent Submit/Close and
// partial-fill polling (spec.md §4.3).
type Engine struct {
	session     broker.Session
	fillTimeout time.Duration
	pollEvery   time.Duration
	lotStep     decimal.Decimal

	mu    sync.Mutex
	cache *outcomeLRU

	log *slog.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithFillTimeout overrides how long Submit polls a PartiallyFilled order
// before cancelling the remainder (default 30s).
func WithFillTimeout(d time.Duration) Option { return func(e *Engine) { e.fillTimeout = d } }

// WithPollInterval overrides the spacing between partial-fill polls
// (default 1s).
func WithPollInterval(d time.Duration) Option { return func(e *Engine) { e.pollEvery = d } }

// WithLotStep sets the broker's lot step: every submitted volume is
// rounded down to the nearest multiple before it reaches the broker
// (spec.md §4.2: "Volume must be quantised to the broker's lot step; spec
// leaves step inference to the Execution Engine"). Zero (the default)
// disables quantization.
func WithLotStep(step decimal.Decimal) Option { return func(e *Engine) { e.lotStep = step } }

// NewEngine creates an Engine over session with an LRU of cacheSize
// client-tag -> outcome entries (spec.md §4.3: "a small LRU ... across
// reconnects").
func NewEngine(session broker.Session, cacheSize int, opts ...Option) *Engine {
	e := &Engine{
		session:     session,
		fillTimeout: 30 * time.Second,
		pollEvery:   time.Second,
		cache:       newOutcomeLRU(cacheSize),
		log:         slog.Default().With("component", "execution"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// quantizeToLotStep rounds volume down to the nearest multiple of step.
// A non-positive step means no broker lot-step constraint is known, so
// volume passes through unchanged.
func quantizeToLotStep(volume, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return volume
	}
	steps := volume.Div(step).Floor()
	return steps.Mul(step)
}

// Submit places req, idempotent over req.ClientTag: a resubmission with the
// same tag returns the cached prior outcome instead of duplicating the
// order. A PartiallyFilled result is polled until fillTimeout, at which
// point the remainder is cancelled and the consolidated outcome returned —
// under no circumstance is a partial treated as failed.
func (e *Engine) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	e.mu.Lock()
	if cached, ok := e.cache.get(req.ClientTag); ok {
		e.mu.Unlock()
		return cached.(domain.OrderOutcome), nil
	}
	e.mu.Unlock()

	req.Volume = quantizeToLotStep(req.Volume, e.lotStep)
	if req.Volume.LessThanOrEqual(decimal.Zero) {
		outcome := domain.OrderOutcome{Kind: domain.OutcomeRejected, RejectReason: "volume below one lot step after quantization"}
		e.remember(req.ClientTag, outcome)
		return outcome, nil
	}

	outcome, err := e.session.SubmitOrder(ctx, req)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("execution: submit %s: %w", req.ClientTag, err)
	}

	if outcome.Kind == domain.OutcomePartiallyFilled {
		outcome = e.pollToResolution(ctx, req.ClientTag, outcome)
	}

	e.remember(req.ClientTag, outcome)
	return outcome, nil
}

// Close closes volume of ticket (zero volume means full close; the
// caller — the Position Tracker — resolves "full" to an exact volume
// before calling, since an opposing order must carry a concrete
// quantity). Closing is idempotent over (ticket, reason): a retried call
// with the same ticket and reason returns the prior cached outcome rather
// than submitting a second close. reason is also folded into the
// generated tag rather than only logged, since the exit rules encode the
// condition that triggered the close into reason (e.g. the profit
// percentage or ladder rung), which keeps genuinely distinct closes of
// the same ticket from colliding in the cache.
//
// symbol and side are the closing position's own fields, needed to build
// the opposing-side order this falls back to when the broker has no
// direct ticket-based close primitive (spec.md §4.3: "submits an
// opposing-side order sized to the close volume").
func (e *Engine) Close(ctx context.Context, ticket int64, symbol string, side domain.Side, volume decimal.Decimal, reason string) (domain.OrderOutcome, error) {
	tag := fmt.Sprintf("close:%d:%s", ticket, reason)

	e.mu.Lock()
	if cached, ok := e.cache.get(tag); ok {
		e.mu.Unlock()
		return cached.(domain.OrderOutcome), nil
	}
	e.mu.Unlock()

	requested := volume
	volume = quantizeToLotStep(volume, e.lotStep)
	if requested.IsPositive() && !volume.IsPositive() {
		outcome := domain.OrderOutcome{Kind: domain.OutcomeRejected, RejectReason: "volume below one lot step after quantization"}
		e.remember(tag, outcome)
		return outcome, nil
	}
	e.log.Info("closing position", "ticket", ticket, "volume", volume.String(), "reason", reason)

	outcome, err := e.session.CloseOrder(ctx, ticket, volume, tag)
	if err != nil {
		e.log.Warn("direct close unsupported, falling back to an opposing order", "ticket", ticket, "error", err)
		outcome, err = e.closeViaOpposingOrder(ctx, ticket, symbol, side, volume, tag)
		if err != nil {
			return domain.OrderOutcome{}, fmt.Errorf("execution: close %d: %w", ticket, err)
		}
	}
	e.remember(tag, outcome)
	return outcome, nil
}

// closeViaOpposingOrder builds and submits the order that flattens
// ticket's position when the broker's Session has no ticket-based close
// primitive (AlpacaSession.CloseOrder deliberately errors rather than
// guess at semantics it can't express).
func (e *Engine) closeViaOpposingOrder(ctx context.Context, ticket int64, symbol string, side domain.Side, volume decimal.Decimal, tag string) (domain.OrderOutcome, error) {
	opposing := domain.OrderSideSell
	if side == domain.SideShort {
		opposing = domain.OrderSideBuy
	}
	req := domain.OrderRequest{
		ClientTag: tag,
		Symbol:    symbol,
		Side:      opposing,
		Volume:    volume,
		Type:      domain.OrderTypeMarket,
		MagicTag:  ticket,
	}
	return e.session.SubmitOrder(ctx, req)
}

func (e *Engine) remember(tag string, outcome domain.OrderOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.put(tag, outcome)
}

// pollToResolution polls the session's PollOutcome capability (if the
// backing Session implements it) until the order resolves or fillTimeout
// elapses, per spec.md §4.3's partial-fill policy.
func (e *Engine) pollToResolution(ctx context.Context, clientTag string, last domain.OrderOutcome) domain.OrderOutcome {
	poller, ok := e.session.(broker.PollOutcome)
	if !ok {
		return last
	}

	deadline := time.Now().Add(e.fillTimeout)
	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
			if time.Now().After(deadline) {
				e.log.Warn("fill timeout reached, remainder treated as cancelled", "client_tag", clientTag)
				last.Kind = domain.OutcomeCancelled
				return last
			}
			outcome, err := poller.PollOutcome(ctx, clientTag)
			if err != nil {
				e.log.Warn("poll outcome failed", "client_tag", clientTag, "error", err)
				continue
			}
			last = outcome
			if outcome.Kind != domain.OutcomePartiallyFilled {
				return last
			}
		}
	}
}
