package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	arbitrageDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	executorTracer = "trade-executor"
	executorMeter  = "trade-executor"
)

type executorMetrics struct {
	trades    metric.Int64Counter
	failures  metric.Int64Counter
	latencyMs metric.Float64Histogram
}

// Executor turns an approved opportunity into an on-chain transaction: plan
// the protections, wait out the jitter, submit, and translate the receipt
// into a trade result the risk gate can consume.
type Executor struct {
	protector *Protector
	submitter TradeSubmitter
	logger    logger.LoggerInterface

	tracer  trace.Tracer
	metrics *executorMetrics
}

// NewExecutor creates an Executor.
func NewExecutor(protector *Protector, submitter TradeSubmitter, log logger.LoggerInterface) (*Executor, error) {
	e := &Executor{
		protector: protector,
		submitter: submitter,
		logger:    log,
		tracer:    otel.Tracer(executorTracer),
	}
	if err := e.initMetrics(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Executor) initMetrics() error {
	meter := otel.Meter(executorMeter)
	var err error

	e.metrics = &executorMetrics{}

	e.metrics.trades, err = meter.Int64Counter(
		"trades_submitted_total",
		metric.WithDescription("Trades submitted on-chain"),
	)
	if err != nil {
		return err
	}

	e.metrics.failures, err = meter.Int64Counter(
		"trade_failures_total",
		metric.WithDescription("Submissions that errored or reverted"),
	)
	if err != nil {
		return err
	}

	e.metrics.latencyMs, err = meter.Float64Histogram(
		"trade_latency_ms",
		metric.WithDescription("Detection-to-receipt latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// Execute submits opp and blocks until it is mined or ctx expires.
func (e *Executor) Execute(ctx context.Context, opp *arbitrageDomain.Opportunity) (*arbitrageDomain.TradeResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(attribute.String("opportunity", opp.ID)))
	defer span.End()

	start := time.Now()

	if !opp.IsValid(start) {
		e.metrics.failures.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeSubmissionFailed,
			apperror.WithContext("opportunity expired before submission"))
	}

	plan, err := e.protector.Plan(ctx, opp)
	if err != nil {
		e.metrics.failures.Add(ctx, 1)
		return nil, err
	}

	if plan.Mempool.SuspectedSandwich {
		e.logger.Warn(ctx, "submitting despite sandwich signal",
			"opportunity", opp.ID,
			"competing_txs", plan.Mempool.CompetingTxs,
		)
	}

	if err := e.wait(ctx, plan.Delay); err != nil {
		e.protector.ReleaseNonce()
		e.metrics.failures.Add(ctx, 1)
		return nil, err
	}

	res, err := e.submitter.Submit(ctx, opp, plan)
	if err != nil {
		e.protector.ReleaseNonce()
		e.metrics.failures.Add(ctx, 1)
		span.AddEvent("submission_failed")
		return nil, apperror.New(apperror.CodeSubmissionFailed,
			apperror.WithCause(err),
			apperror.WithContext("opportunity "+opp.ID),
		)
	}

	e.metrics.trades.Add(ctx, 1)
	e.metrics.latencyMs.Record(ctx, float64(time.Since(start).Milliseconds()))
	if !res.Success {
		e.metrics.failures.Add(ctx, 1)
	}

	result := e.buildResult(opp, res, time.Since(start))
	e.logger.Info(ctx, "trade settled",
		"opportunity", opp.ID,
		"tx", result.TxHash,
		"success", result.Success,
		"block", result.BlockNumber,
	)
	return result, nil
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// buildResult maps a receipt onto a trade result. Profit figures are the
// quoted estimates.
// TODO: derive realized profit from the swap logs instead of the quote.
func (e *Executor) buildResult(opp *arbitrageDomain.Opportunity, res *domain.SubmissionResult, latency time.Duration) *arbitrageDomain.TradeResult {
	result := &arbitrageDomain.TradeResult{
		Success:     res.Success,
		TxHash:      res.TxHash.Hex(),
		Amount:      opp.AmountIn,
		TokenA:      opp.TokenA.Symbol(),
		TokenB:      opp.TokenB.Symbol(),
		BuyVenue:    opp.BuyVenue,
		SellVenue:   opp.SellVenue,
		GasUsed:     res.GasUsed,
		Latency:     latency,
		BlockNumber: res.BlockNumber,
		Timestamp:   time.Now(),
	}
	if res.Success {
		result.Profit = opp.GrossProfit
		result.NetProfit = opp.NetProfit
	} else if opp.GasCost != nil && opp.GasCost.TotalGas > 0 {
		// A revert still burns gas. Book the realized share of the
		// estimated cost as the loss so daily PnL tracks it.
		burned := opp.GasCost.TotalCostUSD.
			Mul(decimal.NewFromUint64(res.GasUsed)).
			Div(decimal.NewFromUint64(opp.GasCost.TotalGas))
		result.NetProfit = burned.Neg()
	}
	if opp.GasCost != nil {
		result.GasCostUSD = opp.GasCost.TotalCostUSD
	}
	return result
}
