// Package infra contains infrastructure adapters for the arbitrage context.
package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	riskDomain "github.com/arbitron/arbitrage-engine/business/risk/domain"
	"github.com/arbitron/arbitrage-engine/internal/events"
)

const reporterBuffer = 64

// ConsoleReporter renders engine events to a terminal. It subscribes to the
// event bus, so the scanner and executor never depend on it.
type ConsoleReporter struct {
	out io.Writer
	bus *events.Bus
}

// NewConsoleReporter creates a ConsoleReporter writing to stdout.
func NewConsoleReporter(bus *events.Bus) *ConsoleReporter {
	return &ConsoleReporter{
		out: os.Stdout,
		bus: bus,
	}
}

// Run consumes events until ctx is cancelled or the bus is closed.
func (r *ConsoleReporter) Run(ctx context.Context) {
	ch := r.bus.Subscribe(reporterBuffer)

	fmt.Fprintln(r.out, "Arbitrage Engine Started")
	fmt.Fprintln(r.out, "========================")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "")
			fmt.Fprintln(r.out, "Arbitrage Engine Stopped")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.render(ev)
		}
	}
}

func (r *ConsoleReporter) render(ev events.Event) {
	switch ev.Type {
	case events.TypeOpportunitiesFound:
		if opps, ok := ev.Payload.([]*domain.Opportunity); ok && len(opps) > 0 {
			r.reportOpportunity(opps[0], len(opps))
		}
	case events.TypeTradeExecuted:
		if res, ok := ev.Payload.(domain.TradeResult); ok {
			r.reportTrade(res)
		}
	case events.TypeTradeFailed:
		if res, ok := ev.Payload.(domain.TradeResult); ok {
			r.reportTrade(res)
		}
	case events.TypeCircuitBreakerTripped:
		if state, ok := ev.Payload.(riskDomain.BreakerState); ok {
			r.reportBreaker(state)
		}
	case events.TypeRiskWarning:
		fmt.Fprintf(r.out, "[%s] RISK WARNING: %v\n",
			ev.Timestamp.Format("15:04:05"), ev.Payload)
	}
}

func (r *ConsoleReporter) reportOpportunity(opp *domain.Opportunity, total int) {
	fmt.Fprintln(r.out, "")
	fmt.Fprintln(r.out, "================================================================================")
	fmt.Fprintf(r.out, "ARBITRAGE OPPORTUNITY DETECTED (%d found, showing best)\n", total)
	fmt.Fprintln(r.out, "================================================================================")
	fmt.Fprintf(r.out, "Detected:       %s\n", opp.DetectedAt.Format(time.RFC3339))
	fmt.Fprintf(r.out, "Pair:           %s\n", opp.Pair())
	fmt.Fprintf(r.out, "Route:          buy %s, sell %s\n", opp.BuyVenue, opp.SellVenue)
	fmt.Fprintln(r.out, "--------------------------------------------------------------------------------")
	fmt.Fprintln(r.out, "LEGS")
	fmt.Fprintf(r.out, "  Size:           %s %s\n", opp.AmountIn.String(), opp.TokenA.Symbol())
	fmt.Fprintf(r.out, "  Buy yields:     %s %s\n", opp.BuyPrice.StringFixed(6), opp.TokenB.Symbol())
	fmt.Fprintf(r.out, "  Sell returns:   %s %s\n", opp.SellPrice.StringFixed(6), opp.TokenA.Symbol())
	if opp.GasCost != nil {
		fmt.Fprintf(r.out, "  Gas:            %s (%d gas units, $%s)\n",
			opp.GasCost.TotalCostNative.String(),
			opp.GasCost.TotalGas,
			opp.GasCost.TotalCostUSD.StringFixed(4))
	}
	fmt.Fprintln(r.out, "--------------------------------------------------------------------------------")
	fmt.Fprintln(r.out, "PROFIT")
	fmt.Fprintf(r.out, "  Gross:          %s (%s%%)\n",
		opp.GrossProfit.StringFixed(6), opp.ProfitPercent.StringFixed(4))
	fmt.Fprintf(r.out, "  Net:            %s\n", opp.NetProfit.StringFixed(6))
	fmt.Fprintln(r.out, "================================================================================")
}

func (r *ConsoleReporter) reportTrade(res domain.TradeResult) {
	status := "EXECUTED"
	if !res.Success {
		status = "FAILED"
	}
	fmt.Fprintln(r.out, "")
	fmt.Fprintf(r.out, "[%s] TRADE %s %s-%s (buy %s / sell %s)\n",
		res.Timestamp.Format("15:04:05"), status,
		res.TokenA, res.TokenB, res.BuyVenue, res.SellVenue)
	if res.TxHash != "" {
		fmt.Fprintf(r.out, "  Tx:       %s (block #%d)\n", res.TxHash, res.BlockNumber)
	}
	if res.Success {
		fmt.Fprintf(r.out, "  Net:      %s (gas $%s, %s)\n",
			res.NetProfit.StringFixed(6), res.GasCostUSD.StringFixed(4), res.Latency)
	}
}

func (r *ConsoleReporter) reportBreaker(state riskDomain.BreakerState) {
	fmt.Fprintln(r.out, "")
	fmt.Fprintln(r.out, "################################################################################")
	fmt.Fprintf(r.out, "CIRCUIT BREAKER TRIPPED: %s\n", state.Reason)
	fmt.Fprintf(r.out, "Auto-reset at: %s\n", state.AutoResetAt.Format(time.RFC3339))
	fmt.Fprintln(r.out, "################################################################################")
}
