// Package arbitrage implements the opportunity detection bounded context:
// the evaluator, the scan scheduler and their console surface.
package arbitrage

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/business/arbitrage/app"
	arbitrageDI "github.com/arbitron/arbitrage-engine/business/arbitrage/di"
	"github.com/arbitron/arbitrage-engine/business/arbitrage/infra"
	executionDI "github.com/arbitron/arbitrage-engine/business/execution/di"
	gasDI "github.com/arbitron/arbitrage-engine/business/gas/di"
	riskDI "github.com/arbitron/arbitrage-engine/business/risk/di"
	venuesDI "github.com/arbitron/arbitrage-engine/business/venues/di"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/di"
	"github.com/arbitron/arbitrage-engine/internal/events"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/monolith"
)

// Module implements the arbitrage bounded context.
type Module struct{}

// RegisterServices registers the evaluator and scheduler with the DI
// container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, arbitrageDI.Evaluator, func(sr di.ServiceRegistry) *app.Evaluator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		native, ok := registry.GetNative(cfg.Chain.ChainID)
		if !ok {
			panic("no native asset registered for chain")
		}

		ecfg := app.EvaluatorConfig{
			PerVenueTimeout: cfg.Scanner.PerVenueTimeout,
			BatchTimeout:    cfg.Scanner.BatchTimeout,
			GasCheckTimeout: cfg.Scanner.GasCheckTimeout,
		}

		evaluator, err := app.NewEvaluator(
			venuesDI.GetQuoteAggregator(sr),
			gasDI.GetGasOracle(sr),
			gasDI.GetCostModel(sr),
			native,
			ecfg,
			log,
		)
		if err != nil {
			panic("failed to create evaluator: " + err.Error())
		}
		return evaluator
	})

	di.RegisterToken(c, arbitrageDI.Scheduler, func(sr di.ServiceRegistry) *app.Scheduler {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)
		bus := sr.Get("eventBus").(*events.Bus)

		pairs, err := scanPairs(cfg, registry)
		if err != nil {
			panic("failed to build scan pairs: " + err.Error())
		}

		var executor app.TradeExecutor
		if cfg.Execution.Enabled {
			executor = executionDI.GetExecutor(sr)
		}

		scfg := app.SchedulerConfig{
			ScanInterval:    cfg.Scanner.ScanInterval,
			ScanTimeout:     cfg.Scanner.ScanTimeout,
			GasCheckTimeout: cfg.Scanner.GasCheckTimeout,
			MaxConcurrent:   cfg.Scanner.MaxConcurrent,
			TopK:            cfg.Scanner.TopK,
			MinProfitPct:    decimal.NewFromFloat(cfg.Scanner.MinProfitPct),
			MaxProfitPct:    decimal.NewFromFloat(cfg.Scanner.MaxProfitPct),
			MaxGasPriceWei:  cfg.Gas.MaxGasPriceWei(),
			OpportunityCap:  cfg.Scanner.OpportunityCap,
		}

		scheduler, err := app.NewScheduler(
			arbitrageDI.GetEvaluator(sr),
			riskDI.GetRiskGate(sr),
			executor,
			gasDI.GetGasOracle(sr),
			bus,
			pairs,
			scfg,
			log,
		)
		if err != nil {
			panic("failed to create scheduler: " + err.Error())
		}
		return scheduler
	})

	return nil
}

// Startup launches the scan loop and the console reporter.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	scheduler := arbitrageDI.GetScheduler(mono.Services())
	reporter := infra.NewConsoleReporter(mono.EventBus())

	go reporter.Run(ctx)
	go scheduler.Run(ctx)

	mono.Logger().Info(ctx, "arbitrage module started",
		"pairs", strings.Join(mono.Config().Scanner.Pairs, ","),
		"scan_interval", mono.Config().Scanner.ScanInterval,
		"execution_enabled", mono.Config().Execution.Enabled,
	)
	return nil
}

// scanPairs resolves the configured "TOKENA-TOKENB" pair labels against the
// asset registry and prices each scan at the configured trade size of the
// input token.
func scanPairs(cfg *config.Config, registry *asset.Registry) ([]app.ScanPair, error) {
	pairs := make([]app.ScanPair, 0, len(cfg.Scanner.Pairs))
	for _, label := range cfg.Scanner.Pairs {
		symbols := strings.SplitN(label, "-", 2)
		if len(symbols) != 2 || symbols[0] == "" || symbols[1] == "" {
			return nil, fmt.Errorf("malformed pair %q, want TOKENA-TOKENB", label)
		}

		tokenA, ok := registry.GetBySymbolAndChain(symbols[0], cfg.Chain.ChainID)
		if !ok {
			return nil, fmt.Errorf("unknown token %q in pair %q", symbols[0], label)
		}
		tokenB, ok := registry.GetBySymbolAndChain(symbols[1], cfg.Chain.ChainID)
		if !ok {
			return nil, fmt.Errorf("unknown token %q in pair %q", symbols[1], label)
		}

		amountIn, err := asset.ParseFloat64(tokenA, cfg.Scanner.TradeSize)
		if err != nil {
			return nil, fmt.Errorf("trade size for %q: %w", label, err)
		}

		pairs = append(pairs, app.ScanPair{
			TokenA:   tokenA,
			TokenB:   tokenB,
			AmountIn: amountIn,
		})
	}
	return pairs, nil
}
