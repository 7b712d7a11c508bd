// Package uniswapv2 implements the VenueAdapter interface for Uniswap-V2-family
// routers (QuickSwap, SushiSwap).
package uniswapv2

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/venues/app"
	"github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/circuitbreaker"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/ratelimit"
)

// RouterABI is the ABI for a Uniswap V2 router, getAmountsOut only.
const RouterABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"}
		],
		"name": "getAmountsOut",
		"outputs": [
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// V2 swaps are cheaper and more uniform than V3; a fixed estimate is close
// enough for ranking and cost modelling.
const swapGas = 120_000

// Ensure Adapter implements VenueAdapter.
var _ app.VenueAdapter = (*Adapter)(nil)

// adapterMetrics holds OTEL metric instruments.
type adapterMetrics struct {
	quotesTotal  metric.Int64Counter
	quoteLatency metric.Float64Histogram
	quoteErrors  metric.Int64Counter
}

// Adapter implements VenueAdapter for one V2-family router deployment.
type Adapter struct {
	name      string
	client    *ethclient.Client
	router    common.Address
	routerABI abi.ABI

	registry *asset.Registry
	limiter  *ratelimit.Limiter
	logger   logger.LoggerInterface
	cb       *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *adapterMetrics
}

// NewAdapter creates a V2-family adapter for the named venue.
func NewAdapter(name string, client *ethclient.Client, router common.Address, registry *asset.Registry, limiter *ratelimit.Limiter, log logger.LoggerInterface) (*Adapter, error) {
	routerABI, err := abi.JSON(strings.NewReader(RouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	a := &Adapter{
		name:      name,
		client:    client,
		router:    router,
		routerABI: routerABI,
		registry:  registry,
		limiter:   limiter,
		logger:    log,
		tracer:    otel.Tracer(name),
	}

	cbCfg := circuitbreaker.DefaultConfig(name + "-router")
	a.cb = circuitbreaker.New[[]byte](cbCfg)

	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return a, nil
}

func (a *Adapter) initMetrics() error {
	meter := otel.Meter(a.name)
	var err error

	a.metrics = &adapterMetrics{}

	a.metrics.quotesTotal, err = meter.Int64Counter(
		"v2_quotes_total",
		metric.WithDescription("Total quote requests"),
	)
	if err != nil {
		return err
	}

	a.metrics.quoteLatency, err = meter.Float64Histogram(
		"v2_quote_latency_ms",
		metric.WithDescription("Quote request latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	a.metrics.quoteErrors, err = meter.Int64Counter(
		"v2_quote_errors_total",
		metric.WithDescription("Total quote errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name returns the venue identifier.
func (a *Adapter) Name() string { return a.name }

// Quote calls the router's getAmountsOut for the direct pair path.
func (a *Adapter) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*domain.Quote, error) {
	ctx, span := a.tracer.Start(ctx, a.name+".quote",
		trace.WithAttributes(
			attribute.String("token_in", tokenIn.Hex()),
			attribute.String("token_out", tokenOut.Hex()),
			attribute.String("amount_in", amountIn.String()),
		),
	)
	defer span.End()

	start := time.Now()
	a.metrics.quotesTotal.Add(ctx, 1)

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, apperror.New(apperror.CodeVenueTimeout, apperror.WithCause(err))
	}

	path := []common.Address{tokenIn, tokenOut}
	amountOut, err := a.getAmountsOut(ctx, amountIn, path)

	a.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		a.metrics.quoteErrors.Add(ctx, 1)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if amountOut.Sign() == 0 {
		a.metrics.quoteErrors.Add(ctx, 1)
		span.SetStatus(codes.Error, "zero output")
		return nil, apperror.New(apperror.CodeNoLiquidity,
			apperror.WithContext("router returned zero output"))
	}

	impact := a.estimatePriceImpact(ctx, amountIn, amountOut, path)

	assetIn := a.resolveAsset(tokenIn)
	assetOut := a.resolveAsset(tokenOut)
	amtIn := asset.NewAmount(assetIn, amountIn)
	amtOut := asset.NewAmount(assetOut, amountOut)

	quote := domain.NewQuote(a.name, assetIn, assetOut, amtIn, amtOut, swapGas, impact, path)

	span.SetAttributes(attribute.String("amount_out", amountOut.String()))
	span.SetStatus(codes.Ok, "quote received")

	a.logger.Debug(ctx, "v2 quote",
		"venue", a.name,
		"token_in", tokenIn.Hex(),
		"token_out", tokenOut.Hex(),
		"amount_in", amountIn.String(),
		"amount_out", amountOut.String(),
	)

	return &quote, nil
}

// EstimateGas returns the fixed V2 swap gas.
func (a *Adapter) EstimateGas(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (uint64, error) {
	return swapGas, nil
}

func (a *Adapter) getAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	callData, err := a.routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getAmountsOut: %w", err)
	}

	result, err := a.cb.Execute(func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &a.router,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeVenueQuoteFailed,
			apperror.WithCause(err),
			apperror.WithContext(a.name+" getAmountsOut failed"))
	}

	outputs, err := a.routerABI.Unpack("getAmountsOut", result)
	if err != nil || len(outputs) < 1 {
		return nil, fmt.Errorf("failed to decode getAmountsOut result: %w", err)
	}

	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, apperror.New(apperror.CodeInvalidQuote,
			apperror.WithContext("malformed getAmountsOut response"))
	}

	return amounts[len(amounts)-1], nil
}

// estimatePriceImpact probes with 1% of the trade size and compares effective
// rates. Advisory only; failures yield zero impact.
func (a *Adapter) estimatePriceImpact(ctx context.Context, amountIn, amountOut *big.Int, path []common.Address) decimal.Decimal {
	probeIn := new(big.Int).Div(amountIn, big.NewInt(100))
	if probeIn.Sign() == 0 {
		return decimal.Zero
	}

	probeOut, err := a.getAmountsOut(ctx, probeIn, path)
	if err != nil || probeOut.Sign() == 0 {
		return decimal.Zero
	}

	probeRate := decimal.NewFromBigInt(probeOut, 0).Div(decimal.NewFromBigInt(probeIn, 0))
	fullRate := decimal.NewFromBigInt(amountOut, 0).Div(decimal.NewFromBigInt(amountIn, 0))

	if probeRate.IsZero() {
		return decimal.Zero
	}

	impact := decimal.NewFromInt(1).Sub(fullRate.Div(probeRate))
	if impact.IsNegative() {
		return decimal.Zero
	}
	return impact
}

// resolveAsset attempts to find the asset in the registry.
func (a *Adapter) resolveAsset(addr common.Address) *asset.Asset {
	if found, ok := a.registry.GetToken(asset.ChainIDPolygon, addr); ok {
		return found
	}
	return asset.NewAsset(
		asset.NewTokenAssetID(asset.ChainIDPolygon, addr),
		addr.Hex()[:8],
		18,
	)
}
