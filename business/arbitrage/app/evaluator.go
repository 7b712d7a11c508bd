package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	gasApp "github.com/arbitron/arbitrage-engine/business/gas/app"
	gasDomain "github.com/arbitron/arbitrage-engine/business/gas/domain"
	venuesDomain "github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	evaluatorTracer = "opportunity-evaluator"
	evaluatorMeter  = "opportunity-evaluator"

	// noiseFloorPct discards sub-basis-point spreads as noise.
	noiseFloorPct = "0.01"

	// opportunityTTL is how long an emitted opportunity's quotes are
	// considered actionable.
	opportunityTTL = 5 * time.Second

	// Conservative fallbacks when the gas model cannot answer: a heavy
	// full-route estimate at an unfavourable price.
	fallbackTotalGas     = 1_000_000
	fallbackGasPriceGwei = 200
)

// EvaluatorConfig holds evaluator timeouts.
type EvaluatorConfig struct {
	PerVenueTimeout time.Duration
	BatchTimeout    time.Duration
	GasCheckTimeout time.Duration
}

// evaluatorMetrics holds OTEL metric instruments.
type evaluatorMetrics struct {
	evaluations   metric.Int64Counter
	opportunities metric.Int64Counter
	gasFallbacks  metric.Int64Counter
}

// Evaluator combines forward and reverse quote batches into at most one
// arbitrage opportunity per pair.
type Evaluator struct {
	quotes    QuoteSource
	gasOracle gasApp.GasOracle
	costModel *gasApp.CostModel
	cfg       EvaluatorConfig
	native    *asset.Asset
	logger    logger.LoggerInterface

	tracer  trace.Tracer
	metrics *evaluatorMetrics
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(quotes QuoteSource, gasOracle gasApp.GasOracle, costModel *gasApp.CostModel, native *asset.Asset, cfg EvaluatorConfig, log logger.LoggerInterface) (*Evaluator, error) {
	e := &Evaluator{
		quotes:    quotes,
		gasOracle: gasOracle,
		costModel: costModel,
		cfg:       cfg,
		native:    native,
		logger:    log,
		tracer:    otel.Tracer(evaluatorTracer),
	}
	if err := e.initMetrics(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Evaluator) initMetrics() error {
	meter := otel.Meter(evaluatorMeter)
	var err error

	e.metrics = &evaluatorMetrics{}

	e.metrics.evaluations, err = meter.Int64Counter(
		"opportunity_evaluations_total",
		metric.WithDescription("Pair evaluations run"),
	)
	if err != nil {
		return err
	}

	e.metrics.opportunities, err = meter.Int64Counter(
		"opportunities_found_total",
		metric.WithDescription("Opportunities emitted"),
	)
	if err != nil {
		return err
	}

	e.metrics.gasFallbacks, err = meter.Int64Counter(
		"gas_model_fallbacks_total",
		metric.WithDescription("Evaluations that used the conservative gas fallback"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Evaluate runs the forward (A→B) and reverse (B→A) batches and returns an
// opportunity, or nil when the pair shows nothing exploitable this cycle.
// "Nothing found" is a normal outcome, never an error.
func (e *Evaluator) Evaluate(ctx context.Context, tokenA, tokenB *asset.Asset, amountIn asset.Amount) *domain.Opportunity {
	ctx, span := e.tracer.Start(ctx, "evaluator.evaluate",
		trace.WithAttributes(
			attribute.String("pair", tokenA.Symbol()+"-"+tokenB.Symbol()),
			attribute.String("amount_in", amountIn.String()),
		),
	)
	defer span.End()

	e.metrics.evaluations.Add(ctx, 1)

	forward := e.quotes.GetQuotes(ctx, tokenA.Address(), tokenB.Address(),
		amountIn.Raw(), e.cfg.PerVenueTimeout, e.cfg.BatchTimeout)
	if len(forward) == 0 {
		span.AddEvent("no_forward_quotes")
		return nil
	}

	bestBuy := forward[0]

	// The reverse leg sells what the best forward leg bought, so its input
	// is that leg's output.
	reverse := e.quotes.GetQuotes(ctx, tokenB.Address(), tokenA.Address(),
		bestBuy.AmountOut.Raw(), e.cfg.PerVenueTimeout, e.cfg.BatchTimeout)
	if len(reverse) == 0 {
		span.AddEvent("no_reverse_quotes")
		return nil
	}

	// Arbitrage needs a venue to buy on and a different one to sell on.
	if distinctVenues(forward, reverse) < 2 {
		span.AddEvent("insufficient_venues")
		return nil
	}

	bestSell := reverse[0]
	if bestSell.Venue == bestBuy.Venue {
		span.AddEvent("same_venue_both_legs")
		return nil
	}

	// Decimal-normalized leg outputs: what the buy leg yields vs what the
	// sell leg returns for it.
	buyOut := bestBuy.AmountOut.ToDecimal()
	sellOut := bestSell.AmountOut.ToDecimal()

	gross := sellOut.Sub(buyOut)
	if !gross.IsPositive() {
		span.AddEvent("non_positive_spread")
		return nil
	}
	if buyOut.IsZero() {
		return nil
	}

	profitPct := gross.Div(buyOut).Mul(decimal.NewFromInt(100))
	if profitPct.LessThan(decimal.RequireFromString(noiseFloorPct)) {
		span.AddEvent("sub_noise_floor")
		return nil
	}

	gasCost := e.gasCost(ctx, bestBuy.Venue, bestSell.Venue)
	net := gross.Sub(gasCost.TotalCostUSD)

	now := time.Now()
	opp := &domain.Opportunity{
		ID:            fmt.Sprintf("%s-%s-%d", tokenA.Symbol(), tokenB.Symbol(), now.UnixNano()),
		TokenA:        tokenA,
		TokenB:        tokenB,
		AmountIn:      amountIn,
		BuyVenue:      bestBuy.Venue,
		SellVenue:     bestSell.Venue,
		BuyPrice:      buyOut,
		SellPrice:     sellOut,
		GrossProfit:   gross,
		ProfitPercent: profitPct,
		GasCost:       gasCost,
		NetProfit:     net,
		BuyQuote:      bestBuy,
		SellQuote:     bestSell,
		DetectedAt:    now,
		ValidUntil:    now.Add(opportunityTTL),
	}

	e.metrics.opportunities.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("buy_venue", opp.BuyVenue),
		attribute.String("sell_venue", opp.SellVenue),
		attribute.String("gross_profit", gross.StringFixed(6)),
		attribute.String("net_profit", net.StringFixed(6)),
	)

	e.logger.Info(ctx, "opportunity found", "opportunity", opp.String())

	return opp
}

// gasCost obtains the modelled cost, falling back to a fixed conservative
// estimate rather than failing the evaluation.
func (e *Evaluator) gasCost(ctx context.Context, buyVenue, sellVenue string) *gasDomain.CostEstimate {
	gasCtx, cancel := context.WithTimeout(ctx, e.cfg.GasCheckTimeout)
	defer cancel()

	gasPrice, err := e.gasOracle.GasPrice(gasCtx)
	if err == nil {
		if est, err := e.costModel.Estimate(gasCtx, buyVenue, sellVenue, gasPrice); err == nil {
			return est
		}
	}

	e.metrics.gasFallbacks.Add(ctx, 1)
	e.logger.Warn(ctx, "gas model unavailable, using conservative fallback",
		"buy_venue", buyVenue, "sell_venue", sellVenue)

	wei := new(big.Int).Mul(big.NewInt(fallbackGasPriceGwei), big.NewInt(1_000_000_000))
	price := gasDomain.NewGasPrice(wei)

	costWei := new(big.Int).Mul(price.Wei, big.NewInt(fallbackTotalGas))
	costNative := asset.NewAmount(e.native, costWei)

	if est, err := e.costModel.Estimate(ctx, buyVenue, sellVenue, price); err == nil {
		return est
	}

	return &gasDomain.CostEstimate{
		TotalGas:        fallbackTotalGas,
		GasPrice:        price,
		TotalCostNative: costNative,
		TotalCostUSD:    costNative.ToDecimal(), // assume $1/native, deliberately harsh
	}
}

func distinctVenues(batches ...[]venuesDomain.Quote) int {
	seen := make(map[string]struct{})
	for _, batch := range batches {
		for _, q := range batch {
			seen[q.Venue] = struct{}{}
		}
	}
	return len(seen)
}
