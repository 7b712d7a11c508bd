// Package app contains application services and port definitions for the venues context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitron/arbitrage-engine/business/venues/domain"
)

// VenueAdapter is the uniform capability around one trading venue. Adapters
// must tolerate concurrent and repeated calls.
type VenueAdapter interface {
	// Name returns the stable venue identifier (e.g., "uniswap-v3").
	Name() string

	// Quote returns the output amount the venue reports for swapping
	// amountIn of tokenIn into tokenOut.
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*domain.Quote, error)

	// EstimateGas returns the gas units a swap on this venue costs.
	EstimateGas(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (uint64, error)
}
