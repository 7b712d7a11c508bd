// Package gas implements the gas cost modelling bounded context.
package gas

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arbitron/arbitrage-engine/business/gas/app"
	gasDI "github.com/arbitron/arbitrage-engine/business/gas/di"
	"github.com/arbitron/arbitrage-engine/business/gas/infra/ethereum"
	"github.com/arbitron/arbitrage-engine/business/gas/infra/pricefeed"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/di"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/monolith"
)

// Module implements the gas bounded context.
type Module struct{}

// RegisterServices registers all gas services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, gasDI.GasOracle, func(sr di.ServiceRegistry) app.GasOracle {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		ethClient := sr.Get("ethClient").(*ethclient.Client)

		oracle, err := ethereum.NewGasOracle(ethClient, cfg.Gas, log)
		if err != nil {
			panic("failed to create gas oracle: " + err.Error())
		}
		return oracle
	})

	di.RegisterToken(c, gasDI.PriceFeed, func(sr di.ServiceRegistry) app.NativePriceFeed {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		feed, err := pricefeed.New(cfg.Gas, log)
		if err != nil {
			panic("failed to create price feed: " + err.Error())
		}
		return feed
	})

	di.RegisterToken(c, gasDI.CostModel, func(sr di.ServiceRegistry) *app.CostModel {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)
		feed := gasDI.GetPriceFeed(sr)

		native, ok := registry.GetNative(cfg.Chain.ChainID)
		if !ok {
			panic("no native asset registered for chain")
		}
		return app.NewCostModel(feed, native, log)
	})

	return nil
}

// Startup initializes the gas module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	feed := gasDI.GetPriceFeed(mono.Services())
	if starter, ok := feed.(interface{ Start(context.Context) }); ok {
		starter.Start(ctx)
	}

	// Resolve the cost model eagerly so wiring errors surface at startup.
	gasDI.GetCostModel(mono.Services())

	log.Info(ctx, "gas module started",
		"price_symbol", mono.Config().Gas.PriceFeedSymbol)
	return nil
}
