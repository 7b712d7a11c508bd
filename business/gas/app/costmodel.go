package app

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/gas/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

// Per-operation gas unit heuristics. Swap costs are keyed by venue family;
// unknown venues get the conservative default.
const (
	flashLoanGas   = 200_000
	approvalGas    = 46_000
	defaultSwapGas = 150_000

	// safetyMultiplierPct pads the summed estimate against tick crossings
	// and cold storage slots.
	safetyMultiplierPct = 20
)

var venueSwapGas = map[string]uint64{
	"uniswap-v3": 180_000,
	"quickswap":  120_000,
	"sushiswap":  120_000,
}

// CostModel converts gas units and a gas price into native and USD cost for
// a full flash-loan arbitrage transaction.
type CostModel struct {
	priceFeed NativePriceFeed
	native    *asset.Asset
	logger    logger.LoggerInterface
	tracer    trace.Tracer
}

// NewCostModel creates a CostModel. native is the chain's gas asset.
func NewCostModel(priceFeed NativePriceFeed, native *asset.Asset, log logger.LoggerInterface) *CostModel {
	return &CostModel{
		priceFeed: priceFeed,
		native:    native,
		logger:    log,
		tracer:    otel.Tracer("gas-cost-model"),
	}
}

// SwapGasFor returns the heuristic swap gas for a venue.
func SwapGasFor(venue string) uint64 {
	if g, ok := venueSwapGas[venue]; ok {
		return g
	}
	return defaultSwapGas
}

// Estimate models the cost of buying on buyVenue and selling on sellVenue at
// the given gas price: flash loan overhead + two swap legs + two approvals,
// padded by the safety multiplier.
func (m *CostModel) Estimate(ctx context.Context, buyVenue, sellVenue string, gasPrice *domain.GasPrice) (*domain.CostEstimate, error) {
	ctx, span := m.tracer.Start(ctx, "gas.cost_estimate",
		trace.WithAttributes(
			attribute.String("buy_venue", buyVenue),
			attribute.String("sell_venue", sellVenue),
		),
	)
	defer span.End()

	if gasPrice == nil || gasPrice.Wei == nil || gasPrice.Wei.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext("gas price must be positive"))
	}

	swapGas := SwapGasFor(buyVenue) + SwapGasFor(sellVenue)
	approvals := uint64(2 * approvalGas)

	raw := flashLoanGas + swapGas + approvals
	total := raw * (100 + safetyMultiplierPct) / 100

	costWei := new(big.Int).Mul(gasPrice.Wei, new(big.Int).SetUint64(total))
	costNative := asset.NewAmount(m.native, costWei)

	priceUSD := m.priceFeed.PriceUSD(ctx)
	costUSD := costNative.ToDecimal().Mul(priceUSD)

	span.SetAttributes(
		attribute.Int64("total_gas", int64(total)),
		attribute.String("cost_usd", costUSD.StringFixed(4)),
	)

	m.logger.Debug(ctx, "gas cost estimated",
		"buy_venue", buyVenue,
		"sell_venue", sellVenue,
		"total_gas", total,
		"gas_price_gwei", gasPrice.Gwei(),
		"cost_usd", costUSD.StringFixed(4),
	)

	return &domain.CostEstimate{
		FlashLoanGas:    flashLoanGas,
		SwapGas:         swapGas,
		ApprovalGas:     approvals,
		TotalGas:        total,
		GasPrice:        gasPrice,
		TotalCostNative: costNative,
		TotalCostUSD:    costUSD,
	}, nil
}

// MinProfitThreshold returns the profit floor a venue pair must clear,
// expressed in the traded amount's unit: the gas cost plus a percentage
// buffer. The traded unit is assumed to track USD (stable-quoted pairs).
func (m *CostModel) MinProfitThreshold(gasCostUSD decimal.Decimal, amountIn asset.Amount, bufferPercent decimal.Decimal) decimal.Decimal {
	threshold := gasCostUSD.Mul(decimal.NewFromInt(100).Add(bufferPercent)).
		Div(decimal.NewFromInt(100))

	// Never below a vanishing floor relative to trade size.
	floor := amountIn.ToDecimal().Mul(decimal.RequireFromString("0.0001"))
	if threshold.LessThan(floor) {
		return floor
	}
	return threshold
}
