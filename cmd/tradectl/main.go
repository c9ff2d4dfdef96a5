// Command tradectl is a manual trade utility for operating against the
// same broker.Session the trader process uses: listing open positions,
// submitting a one-off order, or closing one/all positions out of band.
// Grounded on cmd/jupitor-cli/main.go's subcommand-switch style.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"jupitor/internal/broker"
	"jupitor/internal/config"
	"jupitor/internal/domain"
	"jupitor/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradectl <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list               List open positions\n")
		fmt.Fprintf(os.Stderr, "  submit             Submit a manual order (--symbol, --side, --volume)\n")
		fmt.Fprintf(os.Stderr, "  close              Close one position (--ticket, --volume)\n")
		fmt.Fprintf(os.Stderr, "  close-all          Close every open position\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		return 1
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "config/jupitor.yaml", "path to the YAML configuration file")
	dryRun := fs.Bool("dry-run", false, "operate against a simulated broker session instead of the live one")
	symbol := fs.String("symbol", "", "symbol for submit")
	side := fs.String("side", "buy", "buy or sell, for submit")
	volume := fs.Float64("volume", 0, "order/close volume (0 on close means close in full)")
	ticket := fs.Int64("ticket", 0, "position ticket, for close")
	magicTag := fs.Int64("magic-tag", 0, "magic tag scoping which positions list/close-all act on")
	fs.Parse(os.Args[2:])

	util.SetDefault(util.NewLogger("info"))
	log := slog.Default().With("component", "cmd/tradectl")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return 1
	}

	var session broker.Session = broker.NewAlpacaSession(cfg.Broker.Login, cfg.Broker.Password, cfg.Broker.Server, cfg.Broker.Server, 200)
	if *dryRun || cfg.DryRun {
		session = broker.NewDryRunSession(session)
	}

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		log.Error("connect failed", "error", err)
		return 1
	}
	defer session.Disconnect(ctx)

	tag := *magicTag
	if tag == 0 {
		tag = cfg.Trading.MagicTag
	}

	switch cmd {
	case "list":
		return doList(ctx, session, tag)
	case "submit":
		return doSubmit(ctx, session, *symbol, *side, *volume, tag)
	case "close":
		return doClose(ctx, session, *ticket, *volume)
	case "close-all":
		return doCloseAll(ctx, session, tag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		return 1
	}
}

func doList(ctx context.Context, session broker.Session, magicTag int64) int {
	positions, err := session.OpenPositions(ctx, magicTag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return 0
	}
	for _, p := range positions {
		fmt.Printf("%-10d %-10s %-6s vol=%-10s open=%-10.5f current=%-10.5f pnl=%s\n",
			p.Ticket, p.Symbol, p.Side, p.Volume.String(), p.OpenPrice, p.CurrentPrice, p.UnrealizedPnL.String())
	}
	return 0
}

func doSubmit(ctx context.Context, session broker.Session, symbol, side string, volume float64, magicTag int64) int {
	if symbol == "" || volume <= 0 {
		fmt.Fprintln(os.Stderr, "submit requires --symbol and --volume > 0")
		return 1
	}
	orderSide := domain.OrderSideBuy
	if side == "sell" {
		orderSide = domain.OrderSideSell
	}
	req := domain.OrderRequest{
		ClientTag: fmt.Sprintf("tradectl-%d", magicTag),
		Symbol:    symbol, Side: orderSide, Volume: decimal.NewFromFloat(volume),
		Type: domain.OrderTypeMarket, MagicTag: magicTag,
	}
	outcome, err := session.SubmitOrder(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}
	fmt.Printf("outcome=%s ticket=%d price=%.5f\n", outcome.Kind, outcome.Ticket, outcome.Price)
	if outcome.Kind == domain.OutcomeRejected || outcome.Kind == domain.OutcomeError {
		return 1
	}
	return 0
}

func doClose(ctx context.Context, session broker.Session, ticket int64, volume float64) int {
	if ticket == 0 {
		fmt.Fprintln(os.Stderr, "close requires --ticket")
		return 1
	}
	outcome, err := session.CloseOrder(ctx, ticket, decimal.NewFromFloat(volume), fmt.Sprintf("tradectl-close-%d", ticket))
	if err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
		return 1
	}
	fmt.Printf("outcome=%s ticket=%d price=%.5f\n", outcome.Kind, outcome.Ticket, outcome.Price)
	if outcome.Kind == domain.OutcomeRejected || outcome.Kind == domain.OutcomeError {
		return 1
	}
	return 0
}

func doCloseAll(ctx context.Context, session broker.Session, magicTag int64) int {
	positions, err := session.OpenPositions(ctx, magicTag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "close-all: %v\n", err)
		return 1
	}
	failed := 0
	for _, p := range positions {
		outcome, err := session.CloseOrder(ctx, p.Ticket, decimal.Zero, fmt.Sprintf("tradectl-close-all-%d", p.Ticket))
		if err != nil || outcome.Kind == domain.OutcomeRejected || outcome.Kind == domain.OutcomeError {
			fmt.Fprintf(os.Stderr, "close-all: ticket %d failed: %v %s\n", p.Ticket, err, outcome.RejectReason)
			failed++
			continue
		}
		fmt.Printf("closed ticket=%d price=%.5f\n", p.Ticket, outcome.Price)
	}
	if failed > 0 {
		return 1
	}
	return 0
}
