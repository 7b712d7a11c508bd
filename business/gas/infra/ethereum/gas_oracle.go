// Package ethereum implements the gas oracle against a JSON-RPC node.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/gas/app"
	"github.com/arbitron/arbitrage-engine/business/gas/domain"
	"github.com/arbitron/arbitrage-engine/internal/cache"
	"github.com/arbitron/arbitrage-engine/internal/circuitbreaker"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	tracerName = "gas-oracle"
	meterName  = "gas-oracle"
)

// Static fallback ladder (Polygon mainnet ballpark), served when the node
// cannot answer.
var fallbackTiers = struct {
	low, standard, fast, instant, priority int64 // gwei
}{35, 50, 80, 120, 30}

// Ensure GasOracle implements the port.
var _ app.GasOracle = (*GasOracle)(nil)

// gasOracleMetrics holds OTEL metric instruments.
type gasOracleMetrics struct {
	fetches      metric.Int64Counter
	fallbacks    metric.Int64Counter
	gasPriceGwei metric.Float64Gauge
	cacheHits    metric.Int64Counter
}

// GasOracle reads gas prices from the node with caching, a circuit breaker
// and a ceiling clamp.
type GasOracle struct {
	client      *ethclient.Client
	maxGasPrice *big.Int
	cacheTTL    time.Duration

	priceCache *cache.Cache[string, *domain.GasTiers]
	cb         *circuitbreaker.CircuitBreaker[*big.Int]

	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *gasOracleMetrics
}

// NewGasOracle creates a gas oracle over an already-connected client.
func NewGasOracle(client *ethclient.Client, cfg config.GasConfig, log logger.LoggerInterface) (*GasOracle, error) {
	g := &GasOracle{
		client:      client,
		maxGasPrice: cfg.MaxGasPriceWei(),
		cacheTTL:    cfg.CacheTTL,
		priceCache:  cache.New[string, *domain.GasTiers](5 * time.Minute),
		logger:      log,
		tracer:      otel.Tracer(tracerName),
	}

	cbCfg := circuitbreaker.DefaultConfig("gas-oracle")
	g.cb = circuitbreaker.New[*big.Int](cbCfg)

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return g, nil
}

func (g *GasOracle) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gasOracleMetrics{}

	g.metrics.fetches, err = meter.Int64Counter(
		"gas_price_fetches_total",
		metric.WithDescription("Total gas price fetch attempts"),
	)
	if err != nil {
		return err
	}

	g.metrics.fallbacks, err = meter.Int64Counter(
		"gas_price_fallbacks_total",
		metric.WithDescription("Times the static fallback ladder was served"),
	)
	if err != nil {
		return err
	}

	g.metrics.gasPriceGwei, err = meter.Float64Gauge(
		"gas_price_gwei",
		metric.WithDescription("Current standard gas price in gwei"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheHits, err = meter.Int64Counter(
		"gas_cache_hits_total",
		metric.WithDescription("Gas price cache hits"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Close releases the cache janitor.
func (g *GasOracle) Close() {
	g.priceCache.Close()
}

// GasPrice returns the standard tier.
func (g *GasOracle) GasPrice(ctx context.Context) (*domain.GasPrice, error) {
	tiers, err := g.Tiers(ctx)
	if err != nil {
		return nil, err
	}
	return tiers.Standard, nil
}

// Tiers returns the current gas price ladder, from cache when fresh, from the
// static fallback table when the node cannot answer.
func (g *GasOracle) Tiers(ctx context.Context) (*domain.GasTiers, error) {
	ctx, span := g.tracer.Start(ctx, "gas.tiers")
	defer span.End()

	if tiers, found := g.priceCache.Get(ctx, "current"); found {
		g.metrics.cacheHits.Add(ctx, 1)
		span.AddEvent("cache_hit")
		return tiers, nil
	}

	g.metrics.fetches.Add(ctx, 1)

	wei, err := g.cb.Execute(func() (*big.Int, error) {
		return g.client.SuggestGasPrice(ctx)
	})
	if err != nil {
		g.metrics.fallbacks.Add(ctx, 1)
		span.AddEvent("fallback_served")
		g.logger.Warn(ctx, "gas oracle degraded, serving static fallback", "error", err)

		tiers := g.staticTiers()
		// Cached briefly so a dead node is not hammered every call.
		g.priceCache.Set(ctx, "current", tiers, g.cacheTTL)
		return tiers, nil
	}

	if g.maxGasPrice != nil && wei.Cmp(g.maxGasPrice) > 0 {
		span.AddEvent("gas_price_exceeded_max",
			trace.WithAttributes(attribute.String("wei", wei.String())))
		g.logger.Warn(ctx, "gas price exceeds max, clamping", "wei", wei.String())
		wei = new(big.Int).Set(g.maxGasPrice)
	}

	priorityFee, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		priorityFee = scale(wei, 60) // rough tip when the node lacks the API
	}

	var baseFee *big.Int
	if header, err := g.client.HeaderByNumber(ctx, nil); err == nil && header.BaseFee != nil {
		baseFee = header.BaseFee
	}

	tiers := &domain.GasTiers{
		Low:         domain.NewGasPrice(scale(wei, 80)),
		Standard:    domain.NewGasPrice(wei),
		Fast:        domain.NewGasPrice(scale(wei, 120)),
		Instant:     domain.NewGasPrice(scale(wei, 150)),
		BaseFee:     baseFee,
		PriorityFee: priorityFee,
		Timestamp:   time.Now(),
	}

	g.priceCache.Set(ctx, "current", tiers, g.cacheTTL)
	g.metrics.gasPriceGwei.Record(ctx, tiers.Standard.Gwei())

	span.SetAttributes(attribute.Float64("gwei", tiers.Standard.Gwei()))
	span.SetStatus(codes.Ok, "fetched")

	return tiers, nil
}

func (g *GasOracle) staticTiers() *domain.GasTiers {
	gweiToWei := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
	}
	return &domain.GasTiers{
		Low:         domain.NewGasPrice(gweiToWei(fallbackTiers.low)),
		Standard:    domain.NewGasPrice(gweiToWei(fallbackTiers.standard)),
		Fast:        domain.NewGasPrice(gweiToWei(fallbackTiers.fast)),
		Instant:     domain.NewGasPrice(gweiToWei(fallbackTiers.instant)),
		PriorityFee: gweiToWei(fallbackTiers.priority),
		Timestamp:   time.Now(),
		Fallback:    true,
	}
}

// scale returns wei * pct / 100.
func scale(wei *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(wei, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}
