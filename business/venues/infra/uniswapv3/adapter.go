// Package uniswapv3 implements the VenueAdapter interface for Uniswap V3.
package uniswapv3

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
	"github.com/arbitron/arbitrage-engine/internal/cache"
	"github.com/arbitron/arbitrage-engine/internal/circuitbreaker"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/ratelimit"
)

const (
	// VenueName is the stable identifier this adapter reports.
	VenueName = "uniswap-v3"

	tracerName = "uniswap-v3"
	meterName  = "uniswap-v3"

	// Fallback swap gas when the quoter gives no estimate.
	defaultSwapGas = 150_000
)

// Ensure Adapter implements VenueAdapter.
var _ app.VenueAdapter = (*Adapter)(nil)

// adapterMetrics holds OTEL metric instruments.
type adapterMetrics struct {
	quotesTotal  metric.Int64Counter
	quoteLatency metric.Float64Histogram
	quoteErrors  metric.Int64Counter
	poolCacheHit metric.Int64Counter
}

// Adapter implements VenueAdapter for Uniswap V3 via QuoterV2.
type Adapter struct {
	client     *ethclient.Client
	quoter     common.Address
	factory    common.Address
	quoterABI  abi.ABI
	factoryABI abi.ABI
	feeTiers   []int

	// poolCache maps (tokenA, tokenB, fee) to the pool address. The zero
	// address marks a pair known to have no pool at that tier, so absent
	// pools are not re-resolved every scan.
	poolCache    *cache.Cache[string, common.Address]
	poolCacheTTL time.Duration

	registry *asset.Registry
	limiter  *ratelimit.Limiter
	logger   logger.LoggerInterface
	cb       *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *adapterMetrics
}

// NewAdapter creates a Uniswap V3 adapter.
func NewAdapter(client *ethclient.Client, cfg config.UniswapV3Config, registry *asset.Registry, limiter *ratelimit.Limiter, log logger.LoggerInterface) (*Adapter, error) {
	quoterABI, err := abi.JSON(strings.NewReader(QuoterV2ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(FactoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}

	a := &Adapter{
		client:       client,
		quoter:       cfg.QuoterAddressHex(),
		factory:      cfg.FactoryAddressHex(),
		quoterABI:    quoterABI,
		factoryABI:   factoryABI,
		feeTiers:     []int{FeeTier005, FeeTier030, FeeTier100},
		poolCache:    cache.New[string, common.Address](cfg.PoolCacheTTL),
		poolCacheTTL: cfg.PoolCacheTTL,
		registry:     registry,
		limiter:      limiter,
		logger:       log,
		tracer:       otel.Tracer(tracerName),
	}

	if cfg.DefaultFeeTier != 0 && cfg.DefaultFeeTier != FeeTier005 {
		a.feeTiers = append([]int{cfg.DefaultFeeTier}, a.feeTiers...)
	}

	cbCfg := circuitbreaker.DefaultConfig("uniswap-v3-quoter")
	a.cb = circuitbreaker.New[[]byte](cbCfg)

	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return a, nil
}

func (a *Adapter) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &adapterMetrics{}

	a.metrics.quotesTotal, err = meter.Int64Counter(
		"uniswap_v3_quotes_total",
		metric.WithDescription("Total quote requests"),
	)
	if err != nil {
		return err
	}

	a.metrics.quoteLatency, err = meter.Float64Histogram(
		"uniswap_v3_quote_latency_ms",
		metric.WithDescription("Quote request latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	a.metrics.quoteErrors, err = meter.Int64Counter(
		"uniswap_v3_quote_errors_total",
		metric.WithDescription("Total quote errors"),
	)
	if err != nil {
		return err
	}

	a.metrics.poolCacheHit, err = meter.Int64Counter(
		"uniswap_v3_pool_cache_hits_total",
		metric.WithDescription("Pool existence cache hits"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name returns the venue identifier.
func (a *Adapter) Name() string { return VenueName }

// Close releases the pool cache janitor.
func (a *Adapter) Close() {
	a.poolCache.Close()
}

// Quote queries QuoterV2 across the known fee tiers and returns the best
// output. Tiers whose pool does not exist are skipped via the pool cache.
func (a *Adapter) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*domain.Quote, error) {
	ctx, span := a.tracer.Start(ctx, "uniswap_v3.quote",
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

	var best *QuoteResult
	var bestFeeTier int

	for _, feeTier := range a.feeTiers {
		exists, err := a.poolExists(ctx, tokenIn, tokenOut, feeTier)
		if err != nil {
			span.AddEvent("pool_lookup_failed",
				trace.WithAttributes(attribute.Int("fee_tier", feeTier)))
			continue
		}
		if !exists {
			continue
		}

		result, err := a.quoteFeeTier(ctx, tokenIn, tokenOut, amountIn, feeTier)
		if err != nil {
			span.AddEvent("fee_tier_failed",
				trace.WithAttributes(
					attribute.Int("fee_tier", feeTier),
					attribute.String("error", err.Error()),
				),
			)
			continue
		}

		if best == nil || result.AmountOut.Cmp(best.AmountOut) > 0 {
			best = result
			bestFeeTier = feeTier
		}
	}

	a.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))

	if best == nil {
		a.metrics.quoteErrors.Add(ctx, 1)
		span.SetStatus(codes.Error, "no valid quote")
		return nil, apperror.New(apperror.CodeVenuePoolNotFound,
			apperror.WithContext("no pool quoted for token pair"))
	}
	if best.AmountOut.Sign() == 0 {
		a.metrics.quoteErrors.Add(ctx, 1)
		span.SetStatus(codes.Error, "zero output")
		return nil, apperror.New(apperror.CodeNoLiquidity,
			apperror.WithContext(fmt.Sprintf("fee tier %d returned zero output", bestFeeTier)))
	}

	impact := a.estimatePriceImpact(ctx, tokenIn, tokenOut, amountIn, best, bestFeeTier)

	gas := uint64(defaultSwapGas)
	if best.GasEstimate != nil && best.GasEstimate.IsUint64() && best.GasEstimate.Uint64() > 0 {
		gas = best.GasEstimate.Uint64()
	}

	assetIn := a.resolveAsset(tokenIn)
	assetOut := a.resolveAsset(tokenOut)
	amtIn := asset.NewAmount(assetIn, amountIn)
	amtOut := asset.NewAmount(assetOut, best.AmountOut)

	quote := domain.NewQuote(VenueName, assetIn, assetOut, amtIn, amtOut, gas, impact,
		[]common.Address{tokenIn, tokenOut})

	span.SetAttributes(
		attribute.String("amount_out", best.AmountOut.String()),
		attribute.Int("fee_tier", bestFeeTier),
	)
	span.SetStatus(codes.Ok, "quote received")

	a.logger.Debug(ctx, "uniswap v3 quote",
		"token_in", tokenIn.Hex(),
		"token_out", tokenOut.Hex(),
		"amount_in", amountIn.String(),
		"amount_out", best.AmountOut.String(),
		"fee_tier", bestFeeTier,
	)

	return &quote, nil
}

// EstimateGas returns the quoter's gas estimate for the swap, or the static
// default when the quoter cannot answer.
func (a *Adapter) EstimateGas(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (uint64, error) {
	quote, err := a.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return defaultSwapGas, err
	}
	return quote.GasEstimate, nil
}

// poolExists resolves the pool address for a pair and fee tier through the
// factory, caching both positive and "known absent" answers.
func (a *Adapter) poolExists(ctx context.Context, tokenA, tokenB common.Address, feeTier int) (bool, error) {
	key := poolKey(tokenA, tokenB, feeTier)
	if addr, ok := a.poolCache.Get(ctx, key); ok {
		a.metrics.poolCacheHit.Add(ctx, 1)
		return addr != (common.Address{}), nil
	}

	callData, err := a.factoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(feeTier)))
	if err != nil {
		return false, fmt.Errorf("failed to encode getPool: %w", err)
	}

	result, err := a.cb.Execute(func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &a.factory,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return false, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext("factory getPool"))
	}

	outputs, err := a.factoryABI.Unpack("getPool", result)
	if err != nil || len(outputs) < 1 {
		return false, fmt.Errorf("failed to decode getPool result: %w", err)
	}

	pool, ok := outputs[0].(common.Address)
	if !ok {
		return false, fmt.Errorf("unexpected getPool output type %T", outputs[0])
	}

	a.poolCache.Set(ctx, key, pool, a.poolCacheTTL)
	return pool != (common.Address{}), nil
}

// quoteFeeTier calls QuoterV2.quoteExactInputSingle for a specific fee tier.
func (a *Adapter) quoteFeeTier(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier int) (*QuoteResult, error) {
	callData, err := a.quoterABI.Pack("quoteExactInputSingle", QuoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(feeTier)),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode call: %w", err)
	}

	result, err := a.cb.Execute(func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &a.quoter,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeVenueQuoteFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("quoter call failed for fee tier %d", feeTier)))
	}

	outputs, err := a.quoterABI.Unpack("quoteExactInputSingle", result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if len(outputs) < 4 {
		return nil, fmt.Errorf("unexpected output length: %d", len(outputs))
	}

	return &QuoteResult{
		AmountOut:               outputs[0].(*big.Int),
		SqrtPriceX96After:       outputs[1].(*big.Int),
		InitializedTicksCrossed: outputs[2].(uint32),
		GasEstimate:             outputs[3].(*big.Int),
	}, nil
}

// estimatePriceImpact probes the winning tier with 1% of the trade size and
// compares effective rates. Advisory only; failures yield zero impact.
func (a *Adapter) estimatePriceImpact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, full *QuoteResult, feeTier int) decimal.Decimal {
	probeIn := new(big.Int).Div(amountIn, big.NewInt(100))
	if probeIn.Sign() == 0 {
		return decimal.Zero
	}

	probe, err := a.quoteFeeTier(ctx, tokenIn, tokenOut, probeIn, feeTier)
	if err != nil || probe.AmountOut.Sign() == 0 {
		return decimal.Zero
	}

	probeRate := decimal.NewFromBigInt(probe.AmountOut, 0).
		Div(decimal.NewFromBigInt(probeIn, 0))
	fullRate := decimal.NewFromBigInt(full.AmountOut, 0).
		Div(decimal.NewFromBigInt(amountIn, 0))

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
	// Return a generic ERC20 if not found
	return asset.NewAsset(
		asset.NewTokenAssetID(asset.ChainIDPolygon, addr),
		addr.Hex()[:8],
		18, // Assume 18 decimals
	)
}

func poolKey(tokenA, tokenB common.Address, feeTier int) string {
	return fmt.Sprintf("%s:%s:%d", tokenA.Hex(), tokenB.Hex(), feeTier)
}
