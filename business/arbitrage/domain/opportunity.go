// Package domain contains the core domain types for the arbitrage context.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	gasDomain "github.com/arbitron/arbitrage-engine/business/gas/domain"
	venuesDomain "github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/asset"
)

// Opportunity is a detected cross-venue spread: buy tokenB with tokenA on
// BuyVenue, sell it back on SellVenue, pocket the difference. Immutable once
// created. Quotes go stale within seconds on a live network, so the
// opportunity carries a validity window and callers must re-derive before
// acting on an expired one.
type Opportunity struct {
	ID        string
	TokenA    *asset.Asset
	TokenB    *asset.Asset
	AmountIn  asset.Amount
	BuyVenue  string
	SellVenue string

	// BuyPrice and SellPrice are tokenB-normalized leg outputs: what the
	// buy leg yields and what the sell leg returns for it.
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal

	GrossProfit   decimal.Decimal // sellPrice - buyPrice, normalized units
	ProfitPercent decimal.Decimal // grossProfit / buyPrice * 100
	GasCost       *gasDomain.CostEstimate
	NetProfit     decimal.Decimal // grossProfit - gas cost in trade units

	BuyQuote  venuesDomain.Quote
	SellQuote venuesDomain.Quote

	DetectedAt time.Time
	ValidUntil time.Time
}

// IsValid reports whether the opportunity's quotes are still inside the
// validity window at t.
func (o *Opportunity) IsValid(t time.Time) bool {
	return t.Before(o.ValidUntil)
}

// IsProfitable reports whether the opportunity clears gas costs.
func (o *Opportunity) IsProfitable() bool {
	return o.NetProfit.IsPositive()
}

// Pair returns the pair label, e.g. "USDC-WMATIC". An opportunity carried
// without token metadata renders as "?-?" rather than panicking; the MEV
// path logs pairs from opportunities it did not build itself.
func (o *Opportunity) Pair() string {
	return symbolOrPlaceholder(o.TokenA) + "-" + symbolOrPlaceholder(o.TokenB)
}

func symbolOrPlaceholder(a *asset.Asset) string {
	if a == nil {
		return "?"
	}
	return a.Symbol()
}

// String returns a one-line summary for logs.
func (o *Opportunity) String() string {
	return fmt.Sprintf("%s: buy %s / sell %s, gross %s (%s%%), net %s",
		o.Pair(), o.BuyVenue, o.SellVenue,
		o.GrossProfit.StringFixed(6), o.ProfitPercent.StringFixed(4),
		o.NetProfit.StringFixed(6))
}

// TradeResult records one execution attempt, success or failure. Append-only;
// the risk gate keeps a bounded history of these for its rolling metrics.
type TradeResult struct {
	Success     bool
	TxHash      string
	Profit      decimal.Decimal // gross, trade units
	NetProfit   decimal.Decimal
	Amount      asset.Amount
	TokenA      string
	TokenB      string
	BuyVenue    string
	SellVenue   string
	GasUsed     uint64
	GasCostUSD  decimal.Decimal
	Latency     time.Duration
	BlockNumber uint64
	Timestamp   time.Time
}

// IsLoss reports whether the trade lost money.
func (r *TradeResult) IsLoss() bool {
	return !r.Success || r.NetProfit.IsNegative()
}
