// Package venues implements the venue adapter bounded context for
// multi-venue quote aggregation.
package venues

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arbitron/arbitrage-engine/business/venues/app"
	venuesDI "github.com/arbitron/arbitrage-engine/business/venues/di"
	"github.com/arbitron/arbitrage-engine/business/venues/infra/uniswapv2"
	"github.com/arbitron/arbitrage-engine/business/venues/infra/uniswapv3"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/di"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/monolith"
	"github.com/arbitron/arbitrage-engine/internal/ratelimit"
)

// Module implements the venues bounded context.
type Module struct{}

// RegisterServices registers all venue services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Venue adapters share one rate limiter so combined RPC traffic
	// stays under the node's budget.
	c.RegisterFactory("venues:limiter", func(sr di.ServiceRegistry) any {
		cfg := sr.Get("config").(*config.Config)
		return ratelimit.New(cfg.Chain.RateLimitRPM)
	})

	di.RegisterToken(c, venuesDI.Adapters, func(sr di.ServiceRegistry) []app.VenueAdapter {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		ethClient := sr.Get("ethClient").(*ethclient.Client)
		registry := sr.Get("assetRegistry").(*asset.Registry)
		limiter := sr.Get("venues:limiter").(*ratelimit.Limiter)

		var adapters []app.VenueAdapter

		if cfg.Venues.UniswapV3.Enabled {
			adapter, err := uniswapv3.NewAdapter(ethClient, cfg.Venues.UniswapV3, registry, limiter, log)
			if err != nil {
				panic("failed to create uniswap v3 adapter: " + err.Error())
			}
			adapters = append(adapters, adapter)
		}

		if cfg.Venues.QuickSwap.Enabled {
			adapter, err := uniswapv2.NewAdapter("quickswap", ethClient,
				cfg.Venues.QuickSwap.RouterAddressHex(), registry, limiter, log)
			if err != nil {
				panic("failed to create quickswap adapter: " + err.Error())
			}
			adapters = append(adapters, adapter)
		}

		if cfg.Venues.SushiSwap.Enabled {
			adapter, err := uniswapv2.NewAdapter("sushiswap", ethClient,
				cfg.Venues.SushiSwap.RouterAddressHex(), registry, limiter, log)
			if err != nil {
				panic("failed to create sushiswap adapter: " + err.Error())
			}
			adapters = append(adapters, adapter)
		}

		return adapters
	})

	di.RegisterToken(c, venuesDI.QuoteAggregator, func(sr di.ServiceRegistry) *app.QuoteAggregator {
		log := sr.Get("logger").(logger.LoggerInterface)
		adapters := venuesDI.GetAdapters(sr)

		aggregator, err := app.NewQuoteAggregator(adapters, log)
		if err != nil {
			panic("failed to create quote aggregator: " + err.Error())
		}
		return aggregator
	})

	return nil
}

// Startup initializes the venues module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	aggregator := venuesDI.GetQuoteAggregator(mono.Services())
	log.Info(ctx, "venues module started", "venues", aggregator.Venues())

	return nil
}
