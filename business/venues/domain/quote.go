// Package domain contains the core domain types for the venues context.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/internal/asset"
)

// Pair represents a trading pair using typed assets.
type Pair struct {
	Base  *asset.Asset // e.g., USDC
	Quote *asset.Asset // e.g., WMATIC
}

// NewPair creates a new trading pair.
func NewPair(base, quote *asset.Asset) Pair {
	if base == nil || quote == nil {
		panic("venues: nil asset in pair")
	}
	return Pair{Base: base, Quote: quote}
}

// String returns the pair symbol (e.g., "USDC-WMATIC").
func (p Pair) String() string {
	return p.Base.Symbol() + "-" + p.Quote.Symbol()
}

// Invert returns the inverted pair (e.g., USDC-WMATIC -> WMATIC-USDC).
func (p Pair) Invert() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// Quote is a single venue's answer to "how much tokenOut for this much
// tokenIn, right now". Quotes are produced fresh per request and go stale
// within seconds on a live network.
type Quote struct {
	Venue       string
	TokenIn     *asset.Asset
	TokenOut    *asset.Asset
	AmountIn    asset.Amount
	AmountOut   asset.Amount
	Price       asset.Price // Effective price (AmountOut/AmountIn, decimal-adjusted)
	GasEstimate uint64
	PriceImpact decimal.Decimal // Fraction of value lost to depth, e.g. 0.003 = 0.3%
	Route       []common.Address
	Timestamp   time.Time
}

// NewQuote creates a Quote and derives its effective price.
func NewQuote(venue string, tokenIn, tokenOut *asset.Asset, amountIn, amountOut asset.Amount, gasEstimate uint64, priceImpact decimal.Decimal, route []common.Address) Quote {
	rate := decimal.Zero
	if !amountIn.IsZero() {
		rate = amountOut.ToDecimal().Div(amountIn.ToDecimal())
	}
	price := asset.NewPriceNow(tokenIn, tokenOut, rate)

	return Quote{
		Venue:       venue,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Price:       price,
		GasEstimate: gasEstimate,
		PriceImpact: priceImpact,
		Route:       route,
		Timestamp:   time.Now(),
	}
}

// Better reports whether q should rank ahead of other: higher amountOut wins,
// ties broken by lower gas estimate.
func (q Quote) Better(other Quote) bool {
	cmp := q.AmountOut.Raw().Cmp(other.AmountOut.Raw())
	if cmp != 0 {
		return cmp > 0
	}
	return q.GasEstimate < other.GasEstimate
}

// VenueFailure records a venue that was excluded from a batch.
type VenueFailure struct {
	Venue string
	Err   error
}
