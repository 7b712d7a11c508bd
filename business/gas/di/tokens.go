// Package di contains dependency injection tokens for the gas context.
package di

import (
	"github.com/arbitron/arbitrage-engine/business/gas/app"
	"github.com/arbitron/arbitrage-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	CostModel = di.NewToken[*app.CostModel]("gas.CostModel")
	GasOracle = di.NewToken[app.GasOracle]("gas.GasOracle")
)

// Private dependency tokens - internal to gas module
var (
	PriceFeed = di.NewToken[app.NativePriceFeed]("gas:priceFeed")
)

// Helper functions for type-safe access
func GetCostModel(c di.ServiceRegistry) *app.CostModel {
	return di.GetToken(c, CostModel)
}

func GetGasOracle(c di.ServiceRegistry) app.GasOracle {
	return di.GetToken(c, GasOracle)
}

func GetPriceFeed(c di.ServiceRegistry) app.NativePriceFeed {
	return di.GetToken(c, PriceFeed)
}
