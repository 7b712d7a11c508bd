// Package domain contains the core domain types for the gas context.
package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/internal/asset"
)

// GasPrice represents a single gas price observation.
type GasPrice struct {
	Wei       *big.Int
	Timestamp time.Time
}

// NewGasPrice creates a GasPrice from wei.
func NewGasPrice(wei *big.Int) *GasPrice {
	return &GasPrice{
		Wei:       new(big.Int).Set(wei),
		Timestamp: time.Now(),
	}
}

// Gwei returns the price in gwei.
func (g *GasPrice) Gwei() float64 {
	f := new(big.Float).SetInt(g.Wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

// GasTiers holds the current network gas price ladder.
type GasTiers struct {
	Low         *GasPrice
	Standard    *GasPrice
	Fast        *GasPrice
	Instant     *GasPrice
	BaseFee     *big.Int
	PriorityFee *big.Int
	Timestamp   time.Time

	// Fallback marks tiers served from the static table after an oracle
	// failure.
	Fallback bool
}

// CostEstimate is the modelled cost of a full arbitrage transaction:
// flash loan overhead, two swap legs and two approvals, with the safety
// multiplier already applied.
type CostEstimate struct {
	FlashLoanGas    uint64
	SwapGas         uint64 // both legs combined
	ApprovalGas     uint64 // both approvals combined
	TotalGas        uint64 // after safety multiplier
	GasPrice        *GasPrice
	TotalCostNative asset.Amount    // in the chain's native asset
	TotalCostUSD    decimal.Decimal // via the native/USD price feed
}
