// Package app contains the risk gate service.
package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	arbDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/risk/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/events"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	tracerName = "risk-gate"
	meterName  = "risk-gate"

	// breakerCooldown is how long a trip lasts before a later evaluate call
	// may reset it.
	breakerCooldown = 24 * time.Hour

	// denyScore is the composite score at which an opportunity is denied
	// even when every discrete check passes.
	denyScore = 80

	// warnScore triggers a risk warning event without denying.
	warnScore = 60

	// volatilityWindow is how many recent trades feed the stddev.
	volatilityWindow = 20

	// profitCeilingPct marks a spread too good to be real (stale quote or
	// thin pool about to slip).
	profitCeilingPct = 10
)

// gateMetrics holds OTEL metric instruments.
type gateMetrics struct {
	evaluations metric.Int64Counter
	denials     metric.Int64Counter
	trips       metric.Int64Counter
	riskScore   metric.Int64Gauge
}

// Gate is the stateful risk circuit breaker. It owns RiskMetrics and the
// breaker state exclusively; everything else reads snapshots.
type Gate struct {
	mu      sync.Mutex
	limits  domain.Limits
	metrics domain.Metrics
	breaker domain.BreakerState

	history    []arbDomain.TradeResult
	hourly     []time.Time
	returns    []decimal.Decimal // recent per-trade returns for volatility
	dailyDay   int               // yyyymmdd of the current daily window
	peak       decimal.Decimal

	now func() time.Time

	bus    *events.Bus
	logger logger.LoggerInterface

	tracer trace.Tracer
	otelm  *gateMetrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the gate's time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a risk gate with the given limits.
func NewGate(limits domain.Limits, bus *events.Bus, log logger.LoggerInterface, opts ...Option) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, apperror.New(apperror.CodeRiskLimitsInvalid, apperror.WithCause(err))
	}

	g := &Gate{
		limits: limits,
		metrics: domain.Metrics{
			DailyPnL:        decimal.Zero,
			TotalPnL:        decimal.Zero,
			CurrentDrawdown: decimal.Zero,
			MaxDrawdown:     decimal.Zero,
			Volatility:      decimal.Zero,
			PortfolioValue:  limits.InitialPortfolioUSD,
			PeakPortfolio:   limits.InitialPortfolioUSD,
		},
		peak:   limits.InitialPortfolioUSD,
		now:    time.Now,
		bus:    bus,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(g)
	}
	g.dailyDay = dayOf(g.now())

	if err := g.initMetrics(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Gate) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.otelm = &gateMetrics{}

	g.otelm.evaluations, err = meter.Int64Counter(
		"risk_evaluations_total",
		metric.WithDescription("Total opportunities evaluated"),
	)
	if err != nil {
		return err
	}

	g.otelm.denials, err = meter.Int64Counter(
		"risk_denials_total",
		metric.WithDescription("Opportunities denied"),
	)
	if err != nil {
		return err
	}

	g.otelm.trips, err = meter.Int64Counter(
		"risk_breaker_trips_total",
		metric.WithDescription("Circuit breaker trips"),
	)
	if err != nil {
		return err
	}

	g.otelm.riskScore, err = meter.Int64Gauge(
		"risk_score",
		metric.WithDescription("Composite risk score of the last evaluation"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Evaluate runs every risk check against the opportunity and the rolling
// metrics. Critical check failures trip the breaker. A tripped breaker denies
// until its cooldown elapses; the reset happens lazily on the first call that
// observes the cooldown has passed.
func (g *Gate) Evaluate(ctx context.Context, opp *arbDomain.Opportunity) domain.Decision {
	ctx, span := g.tracer.Start(ctx, "risk.evaluate",
		trace.WithAttributes(attribute.String("pair", opp.Pair())),
	)
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.resetDailyIfNeeded(now)
	g.pruneHourly(now)
	g.otelm.evaluations.Add(ctx, 1)

	if g.breaker.Tripped {
		if now.Before(g.breaker.AutoResetAt) {
			g.otelm.denials.Add(ctx, 1)
			span.SetAttributes(attribute.String("deny", "breaker"))
			return domain.Deny("circuit breaker active: "+g.breaker.Reason, 100)
		}
		g.resetBreaker(ctx, now)
	}

	score := g.riskScore(opp)
	g.metrics.RiskScore = score
	g.otelm.riskScore.Record(ctx, int64(score))

	if reason, critical := g.failingCheck(opp); reason != "" {
		if critical {
			g.trip(ctx, now, reason)
		}
		g.otelm.denials.Add(ctx, 1)
		span.SetAttributes(attribute.String("deny", reason))
		return domain.Deny(reason, score)
	}

	if score >= denyScore {
		g.otelm.denials.Add(ctx, 1)
		span.SetAttributes(attribute.String("deny", "risk score"))
		return domain.Deny(fmt.Sprintf("composite risk score %d exceeds %d", score, denyScore), score)
	}

	if score >= warnScore {
		g.publish(events.TypeRiskWarning,
			fmt.Sprintf("elevated risk score %d for %s", score, opp.Pair()))
	}

	return domain.Approve(score)
}

// RecordTrade appends to the bounded history and updates the rolling metrics.
// Critical thresholds are re-checked afterwards, so a losing streak trips the
// breaker without waiting for the next Evaluate.
func (g *Gate) RecordTrade(ctx context.Context, result arbDomain.TradeResult) {
	ctx, span := g.tracer.Start(ctx, "risk.record_trade",
		trace.WithAttributes(attribute.Bool("success", result.Success)),
	)
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.resetDailyIfNeeded(now)

	g.history = append(g.history, result)
	if len(g.history) > g.limits.HistoryCap {
		g.history = g.history[len(g.history)-g.limits.HistoryCap:]
	}

	g.hourly = append(g.hourly, result.Timestamp)
	g.pruneHourly(now)

	g.metrics.DailyPnL = g.metrics.DailyPnL.Add(result.NetProfit)
	g.metrics.TotalPnL = g.metrics.TotalPnL.Add(result.NetProfit)
	g.metrics.PortfolioValue = g.metrics.PortfolioValue.Add(result.NetProfit)

	if result.IsLoss() {
		g.metrics.ConsecutiveLosses++
	} else {
		g.metrics.ConsecutiveLosses = 0
	}

	// Drawdown against the running peak.
	if g.metrics.PortfolioValue.GreaterThan(g.peak) {
		g.peak = g.metrics.PortfolioValue
	}
	g.metrics.PeakPortfolio = g.peak
	if g.peak.IsPositive() {
		dd := g.peak.Sub(g.metrics.PortfolioValue).
			Div(g.peak).Mul(decimal.NewFromInt(100))
		if dd.IsNegative() {
			dd = decimal.Zero
		}
		g.metrics.CurrentDrawdown = dd
		if dd.GreaterThan(g.metrics.MaxDrawdown) {
			g.metrics.MaxDrawdown = dd
		}
	}

	// Volatility over the recent return window.
	if g.limits.InitialPortfolioUSD.IsPositive() {
		ret := result.NetProfit.Div(g.limits.InitialPortfolioUSD)
		g.returns = append(g.returns, ret)
		if len(g.returns) > volatilityWindow {
			g.returns = g.returns[len(g.returns)-volatilityWindow:]
		}
		g.metrics.Volatility = sampleStddev(g.returns)
	}

	g.metrics.TradesInLastHour = len(g.hourly)
	g.metrics.UpdatedAt = now

	// Post-trade critical re-check.
	if reason := g.failingCriticalCheck(); reason != "" && !g.breaker.Tripped {
		g.trip(ctx, now, reason)
	}

	g.logger.Info(ctx, "trade recorded",
		"success", result.Success,
		"net_profit", result.NetProfit.StringFixed(4),
		"daily_pnl", g.metrics.DailyPnL.StringFixed(4),
		"consecutive_losses", g.metrics.ConsecutiveLosses,
	)
}

// Snapshot returns copies of the current metrics and breaker state.
func (g *Gate) Snapshot() (domain.Metrics, domain.BreakerState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metrics, g.breaker
}

// UpdateLimits validates and swaps the limits struct atomically.
func (g *Gate) UpdateLimits(limits domain.Limits) error {
	if err := limits.Validate(); err != nil {
		return apperror.New(apperror.CodeRiskLimitsInvalid, apperror.WithCause(err))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits
	return nil
}

// failingCheck runs the eight discrete checks in order and returns the first
// failure with its criticality. Caller holds the lock.
func (g *Gate) failingCheck(opp *arbDomain.Opportunity) (reason string, critical bool) {
	if reason := g.failingCriticalCheck(); reason != "" {
		return reason, true
	}

	if g.metrics.Volatility.GreaterThan(g.limits.VolatilityThreshold) {
		return fmt.Sprintf("volatility %s exceeds threshold %s",
			g.metrics.Volatility.StringFixed(4), g.limits.VolatilityThreshold.StringFixed(4)), false
	}

	// Slippage / profit-percent ceiling: a spread wider than any plausible
	// inefficiency means a stale quote or a pool about to slip.
	impactPct := opp.BuyQuote.PriceImpact.Add(opp.SellQuote.PriceImpact).
		Mul(decimal.NewFromInt(100))
	if impactPct.GreaterThan(g.limits.MaxSlippagePct) {
		return fmt.Sprintf("combined price impact %s%% exceeds %s%%",
			impactPct.StringFixed(2), g.limits.MaxSlippagePct.StringFixed(2)), false
	}
	if opp.ProfitPercent.GreaterThan(decimal.NewFromInt(profitCeilingPct)) {
		return fmt.Sprintf("profit %s%% implausibly high", opp.ProfitPercent.StringFixed(2)), false
	}

	if g.metrics.PortfolioValue.IsPositive() {
		positionPct := opp.AmountIn.ToDecimal().
			Div(g.metrics.PortfolioValue).Mul(decimal.NewFromInt(100))
		if positionPct.GreaterThan(g.limits.PositionSizeLimitPct) {
			return fmt.Sprintf("position %s%% of portfolio exceeds %s%%",
				positionPct.StringFixed(2), g.limits.PositionSizeLimitPct.StringFixed(2)), false
		}
	}

	if len(g.hourly) >= g.limits.HourlyTradeLimit {
		return fmt.Sprintf("hourly trade limit %d reached", g.limits.HourlyTradeLimit), false
	}

	if opp.GasCost != nil && opp.GasCost.GasPrice != nil {
		gwei := decimal.NewFromFloat(opp.GasCost.GasPrice.Gwei())
		if gwei.GreaterThan(g.limits.GasPriceLimitGwei) {
			return fmt.Sprintf("gas price %s gwei exceeds limit %s",
				gwei.StringFixed(1), g.limits.GasPriceLimitGwei.StringFixed(1)), false
		}
	}

	return "", false
}

// failingCriticalCheck covers the checks that trip the breaker: daily loss,
// consecutive losses, drawdown. Caller holds the lock.
func (g *Gate) failingCriticalCheck() string {
	if g.limits.InitialPortfolioUSD.IsPositive() {
		lossLimit := g.limits.InitialPortfolioUSD.
			Mul(g.limits.DailyLossLimitPct).Div(decimal.NewFromInt(100)).Neg()
		if g.metrics.DailyPnL.LessThanOrEqual(lossLimit) && !lossLimit.IsZero() {
			return fmt.Sprintf("daily loss %s breaches limit %s",
				g.metrics.DailyPnL.StringFixed(2), lossLimit.StringFixed(2))
		}
	}

	if g.metrics.ConsecutiveLosses >= g.limits.ConsecutiveLossLimit {
		return fmt.Sprintf("%d consecutive losses reached limit %d",
			g.metrics.ConsecutiveLosses, g.limits.ConsecutiveLossLimit)
	}

	if g.metrics.CurrentDrawdown.GreaterThanOrEqual(g.limits.DrawdownLimitPct) &&
		g.limits.DrawdownLimitPct.IsPositive() {
		return fmt.Sprintf("drawdown %s%% breaches limit %s%%",
			g.metrics.CurrentDrawdown.StringFixed(2), g.limits.DrawdownLimitPct.StringFixed(2))
	}

	return ""
}

// riskScore composes a 0-100 score from abnormality signals. Higher is
// riskier. Caller holds the lock.
func (g *Gate) riskScore(opp *arbDomain.Opportunity) int {
	score := decimal.Zero
	add := func(d decimal.Decimal) { score = score.Add(d) }

	// Abnormal profit percent: vanishing spreads are noise, huge ones are
	// stale quotes.
	switch {
	case opp.ProfitPercent.LessThan(decimal.RequireFromString("0.05")):
		add(decimal.NewFromInt(10))
	case opp.ProfitPercent.GreaterThan(decimal.NewFromInt(5)):
		add(decimal.NewFromInt(20))
	}

	// Position size proximity to its limit.
	if g.metrics.PortfolioValue.IsPositive() && g.limits.PositionSizeLimitPct.IsPositive() {
		positionPct := opp.AmountIn.ToDecimal().
			Div(g.metrics.PortfolioValue).Mul(decimal.NewFromInt(100))
		ratio := positionPct.Div(g.limits.PositionSizeLimitPct)
		add(clampRatio(ratio).Mul(decimal.NewFromInt(15)))
	}

	// Gas-heavy transactions have more ways to fail mid-flight.
	if opp.GasCost != nil && opp.GasCost.TotalGas > 800_000 {
		add(decimal.NewFromInt(10))
	}

	// Recent volatility.
	if g.limits.VolatilityThreshold.IsPositive() {
		ratio := g.metrics.Volatility.Div(g.limits.VolatilityThreshold)
		add(clampRatio(ratio).Mul(decimal.NewFromInt(15)))
	}

	// Losing streak.
	if g.limits.ConsecutiveLossLimit > 0 {
		ratio := decimal.NewFromInt(int64(g.metrics.ConsecutiveLosses)).
			Div(decimal.NewFromInt(int64(g.limits.ConsecutiveLossLimit)))
		add(clampRatio(ratio).Mul(decimal.NewFromInt(20)))
	}

	// Current drawdown.
	if g.limits.DrawdownLimitPct.IsPositive() {
		ratio := g.metrics.CurrentDrawdown.Div(g.limits.DrawdownLimitPct)
		add(clampRatio(ratio).Mul(decimal.NewFromInt(25)))
	}

	n := int(score.Round(0).IntPart())
	if n > 100 {
		n = 100
	}
	if n < 0 {
		n = 0
	}
	return n
}

// trip moves the breaker to Tripped. Caller holds the lock.
func (g *Gate) trip(ctx context.Context, now time.Time, reason string) {
	g.breaker = domain.BreakerState{
		Tripped:     true,
		Reason:      reason,
		TrippedAt:   now,
		AutoResetAt: now.Add(breakerCooldown),
	}
	g.otelm.trips.Add(ctx, 1)
	g.logger.Error(ctx, "risk circuit breaker tripped",
		"reason", reason,
		"auto_reset_at", g.breaker.AutoResetAt,
	)
	g.publish(events.TypeCircuitBreakerTripped, g.breaker)
}

// resetBreaker returns to Normal after the cooldown. Caller holds the lock.
func (g *Gate) resetBreaker(ctx context.Context, now time.Time) {
	g.logger.Info(ctx, "risk circuit breaker reset",
		"tripped_at", g.breaker.TrippedAt,
		"reason", g.breaker.Reason,
	)
	g.breaker = domain.BreakerState{}
	g.metrics.ConsecutiveLosses = 0
}

// resetDailyIfNeeded rolls the daily window at local calendar day boundaries.
// Caller holds the lock.
func (g *Gate) resetDailyIfNeeded(now time.Time) {
	day := dayOf(now)
	if day != g.dailyDay {
		g.dailyDay = day
		g.metrics.DailyPnL = decimal.Zero
	}
}

// pruneHourly drops entries older than one hour. Caller holds the lock.
func (g *Gate) pruneHourly(now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(g.hourly) && g.hourly[idx].Before(cutoff) {
		idx++
	}
	g.hourly = g.hourly[idx:]
	g.metrics.TradesInLastHour = len(g.hourly)
}

func (g *Gate) publish(t events.Type, payload any) {
	if g.bus != nil {
		g.bus.Publish(t, payload)
	}
}

// sampleStddev computes the sample standard deviation of the values.
func sampleStddev(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n < 2 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))

	sq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.Div(decimal.NewFromInt(int64(n - 1)))

	// decimal has no Sqrt; float64 precision is plenty for a volatility
	// signal.
	f, _ := variance.Float64()
	if f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(f))
}

// clampRatio bounds a ratio to [0, 1].
func clampRatio(r decimal.Decimal) decimal.Decimal {
	if r.IsNegative() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if r.GreaterThan(one) {
		return one
	}
	return r
}

func dayOf(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
