// Command trader runs the autonomous trading orchestrator's control loop
// until it is stopped by SIGINT/SIGTERM or halts itself on a fatal
// condition. Grounded on cmd/jupitor-trader/main.go's load-config-then-wire
// shape, generalized from a stub into a full dependency wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"jupitor/internal/barfeed"
	"jupitor/internal/broker"
	"jupitor/internal/config"
	"jupitor/internal/controlloop"
	"jupitor/internal/domain"
	"jupitor/internal/execution"
	"jupitor/internal/exitarbiter"
	"jupitor/internal/indicator"
	"jupitor/internal/persistence"
	"jupitor/internal/risk"
	"jupitor/internal/strategy/builtins"
	"jupitor/internal/tracker"
	"jupitor/internal/util"
)

const (
	exitOK        = 0
	exitRunErr    = 1
	exitConfigErr = 2
	exitSignal    = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "config/jupitor.yaml", "path to the YAML configuration file")
	dryRun := flag.Bool("dry-run", false, "override config: fake broker mutations, real market data reads")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	mindset := flag.String("mindset", "", "override config: mindset preset name")
	flag.Parse()

	util.SetDefault(util.NewLogger(*logLevel))
	log := slog.Default().With("component", "cmd/trader")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return exitConfigErr
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *mindset != "" {
		cfg.Mindset = *mindset
	}

	loop, sink, err := wire(cfg, log)
	if err != nil {
		log.Error("failed to wire dependencies", "error", err)
		return exitConfigErr
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("trader starting", "symbol", cfg.Trading.Symbol, "dry_run", cfg.DryRun, "mindset", cfg.Mindset)
	if err := loop.Run(ctx); err != nil {
		log.Error("control loop exited with error", "error", err)
		return exitRunErr
	}

	if ctx.Err() != nil {
		log.Info("trader stopped by signal")
		return exitSignal
	}
	log.Info("trader stopped")
	return exitOK
}

// wire constructs every collaborator named in spec.md §4.1 from cfg and
// returns the assembled Loop plus its persistence sink (so main can flush
// and close it on the way out, independent of loop shutdown ordering).
func wire(cfg *config.Config, log *slog.Logger) (*controlloop.Loop, persistence.Sink, error) {
	var session broker.Session
	session = broker.NewAlpacaSession(cfg.Broker.Login, cfg.Broker.Password, cfg.Broker.Server, cfg.Broker.Server, 200)
	if cfg.DryRun {
		session = broker.NewDryRunSession(session)
		log.Info("dry-run mode: broker mutations are simulated")
	}

	feed := barfeed.New(session, cfg.Trading.Symbol, cfg.Trading.Timeframe, cfg.Trading.LookbackBars)

	specs := make([]indicator.Spec, 0, len(cfg.Indicators))
	for _, ind := range cfg.Indicators {
		specs = append(specs, indicator.Spec{Type: ind.Type, Params: ind.Params})
	}
	pipeline, err := indicator.NewPipeline(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("building indicator pipeline: %w", err)
	}

	strat, ok := builtins.Build(cfg.Strategy.Type, cfg.Strategy.Params)
	if !ok {
		return nil, nil, fmt.Errorf("unknown strategy type %q", cfg.Strategy.Type)
	}

	limits := domainRiskLimits(cfg)
	gate := risk.NewGate(limits, decimalFromFloat(cfg.Risk.BrokerMinVolume))

	engine := execution.NewEngine(session, 256, execution.WithLotStep(decimalFromFloat(cfg.Risk.LotStep)))

	policy := tracker.AdoptionPolicy{
		Enabled:   cfg.OrphanTrades.Enabled,
		Whitelist: cfg.OrphanTrades.AdoptSymbols,
		Blacklist: cfg.OrphanTrades.IgnoreSymbols,
		MaxAge:    time.Duration(cfg.OrphanTrades.MaxAgeHours * float64(time.Hour)),
		LogOnly:   cfg.OrphanTrades.LogOnly,
	}
	trk := tracker.New(session, engine, cfg.Trading.MagicTag, policy)

	var rules []exitarbiter.Rule
	for _, ex := range cfg.ExitStrategies {
		if !ex.Enabled {
			continue
		}
		rule, ok := exitarbiter.Build(ex.Type, ex.Params)
		if !ok {
			return nil, nil, fmt.Errorf("unknown exit strategy type %q", ex.Type)
		}
		rules = append(rules, rule)
	}
	arbiter := exitarbiter.NewArbiter(rules...)

	sqliteSink, err := persistence.NewSQLiteSink(cfg.Persistence.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening persistence sink: %w", err)
	}
	sink := persistence.NewBufferedSink(sqliteSink)

	deps := controlloop.Deps{
		Session: session, Feed: feed, Pipeline: pipeline, Strategy: strat,
		Gate: gate, Engine: engine, Tracker: trk, Arbiter: arbiter, Sink: sink,
	}
	loop := controlloop.New(
		cfg.Trading.Symbol, cfg.Trading.MagicTag, cfg.Trading.DeviationPoints,
		time.Duration(cfg.Trading.PollIntervalSeconds)*time.Second, deps,
		controlloop.WithFlattenOnShutdown(cfg.Trading.FlattenOnShutdown),
		controlloop.WithMetricsEveryTicks(cfg.Trading.MetricsEveryTicks),
		controlloop.WithShutdownGrace(time.Duration(cfg.Trading.ShutdownGraceSeconds)*time.Second),
		controlloop.WithReconnectPolicy(cfg.Trading.ReconnectMaxAttempts, time.Duration(cfg.Trading.ReconnectBaseDelayMS)*time.Millisecond),
	)
	return loop, sink, nil
}

func domainRiskLimits(cfg *config.Config) domain.RiskLimits {
	return domain.RiskLimits{
		MaxVolumePerOrder:               decimalFromFloat(cfg.Risk.MaxVolumePerOrder),
		DefaultVolume:                   decimalFromFloat(cfg.Risk.DefaultVolume),
		MaxDailyLoss:                    decimalFromFloat(cfg.Risk.MaxDailyLoss),
		MaxPositionsPerSymbol:           cfg.Risk.MaxPositionsPerSymbol,
		MaxTotalPositions:               cfg.Risk.MaxTotalPositions,
		PositionSizeAsFractionOfBalance: cfg.Risk.PositionSizePct,
		EmergencyDrawdownFraction:       cfg.Risk.EmergencyDrawdownPct,
		CircuitBreakerEnabled:           cfg.Risk.CircuitBreakerEnabled,
	}
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
