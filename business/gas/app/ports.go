// Package app contains application services and port definitions for the gas context.
package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/business/gas/domain"
)

// GasOracle reports current network gas prices. Implementations must serve a
// static fallback table when the network call fails, so callers never block
// on oracle flakiness.
type GasOracle interface {
	// GasPrice returns the standard-tier gas price.
	GasPrice(ctx context.Context) (*domain.GasPrice, error)

	// Tiers returns the full gas price ladder.
	Tiers(ctx context.Context) (*domain.GasTiers, error)
}

// NativePriceFeed reports the native asset's USD price. Implementations
// refresh on a timer and serve the last known (possibly stale) value rather
// than blocking, falling back to a configured default when no observation
// exists yet.
type NativePriceFeed interface {
	// PriceUSD returns the current native/USD price. Never blocks on the
	// upstream feed.
	PriceUSD(ctx context.Context) decimal.Decimal
}
