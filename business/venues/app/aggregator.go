package app

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	tracerName = "quote-aggregator"
	meterName  = "quote-aggregator"
)

// aggregatorMetrics holds OTEL metric instruments.
type aggregatorMetrics struct {
	batchesTotal  metric.Int64Counter
	venueFailures metric.Int64Counter
	batchLatency  metric.Float64Histogram
}

// QuoteAggregator fans a quote request out to every enabled venue adapter
// concurrently and merges the successes into a ranked list.
type QuoteAggregator struct {
	adapters []VenueAdapter
	logger   logger.LoggerInterface

	tracer  trace.Tracer
	metrics *aggregatorMetrics
}

// NewQuoteAggregator creates a QuoteAggregator over the given adapters.
func NewQuoteAggregator(adapters []VenueAdapter, log logger.LoggerInterface) (*QuoteAggregator, error) {
	a := &QuoteAggregator{
		adapters: adapters,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}
	if err := a.initMetrics(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *QuoteAggregator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &aggregatorMetrics{}

	a.metrics.batchesTotal, err = meter.Int64Counter(
		"quote_batches_total",
		metric.WithDescription("Total quote batches dispatched"),
	)
	if err != nil {
		return err
	}

	a.metrics.venueFailures, err = meter.Int64Counter(
		"quote_venue_failures_total",
		metric.WithDescription("Venue calls excluded from a batch"),
	)
	if err != nil {
		return err
	}

	a.metrics.batchLatency, err = meter.Float64Histogram(
		"quote_batch_latency_ms",
		metric.WithDescription("Quote batch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Venues returns the names of the adapters the aggregator queries.
func (a *QuoteAggregator) Venues() []string {
	names := make([]string, len(a.adapters))
	for i, ad := range a.adapters {
		names[i] = ad.Name()
	}
	return names
}

type venueResult struct {
	quote *domain.Quote
	fail  *domain.VenueFailure
}

// GetQuotes queries every adapter concurrently. Each call races
// perVenueTimeout; the whole batch races batchTimeout. Failed venues are
// logged and excluded; they never abort the batch. The result is sorted
// descending by amountOut, ties broken by lower gas estimate. An all-failing
// venue set yields an empty slice, not an error.
func (a *QuoteAggregator) GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, perVenueTimeout, batchTimeout time.Duration) []domain.Quote {
	ctx, span := a.tracer.Start(ctx, "aggregator.get_quotes",
		trace.WithAttributes(
			attribute.String("token_in", tokenIn.Hex()),
			attribute.String("token_out", tokenOut.Hex()),
			attribute.String("amount_in", amountIn.String()),
			attribute.Int("venues", len(a.adapters)),
		),
	)
	defer span.End()

	start := time.Now()
	a.metrics.batchesTotal.Add(ctx, 1)

	batchCtx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	results := make(chan venueResult, len(a.adapters))
	for _, adapter := range a.adapters {
		go func(ad VenueAdapter) {
			callCtx, callCancel := context.WithTimeout(batchCtx, perVenueTimeout)
			defer callCancel()

			quote, err := ad.Quote(callCtx, tokenIn, tokenOut, amountIn)
			if err != nil {
				results <- venueResult{fail: &domain.VenueFailure{Venue: ad.Name(), Err: err}}
				return
			}
			results <- venueResult{quote: quote}
		}(adapter)
	}

	quotes := make([]domain.Quote, 0, len(a.adapters))

collect:
	for range a.adapters {
		select {
		case res := <-results:
			if res.fail != nil {
				a.metrics.venueFailures.Add(ctx, 1,
					metric.WithAttributes(attribute.String("venue", res.fail.Venue)))
				a.logger.Warn(ctx, "venue excluded from quote batch",
					"venue", res.fail.Venue,
					"error", res.fail.Err,
				)
				span.AddEvent("venue_failed",
					trace.WithAttributes(attribute.String("venue", res.fail.Venue)))
				continue
			}
			quotes = append(quotes, *res.quote)
		case <-batchCtx.Done():
			// Stragglers keep their buffered slot; nothing leaks.
			a.logger.Warn(ctx, "quote batch timeout, returning partial results",
				"received", len(quotes),
				"venues", len(a.adapters),
			)
			break collect
		}
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Better(quotes[j])
	})

	a.metrics.batchLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("quotes", len(quotes)))

	return quotes
}
