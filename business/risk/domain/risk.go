// Package domain contains the core domain types for the risk context.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/internal/config"
)

// Limits are the configured risk boundaries. Immutable during a run; the
// gate replaces the whole struct atomically on UpdateLimits.
type Limits struct {
	InitialPortfolioUSD  decimal.Decimal
	DailyLossLimitPct    decimal.Decimal
	ConsecutiveLossLimit int
	VolatilityThreshold  decimal.Decimal
	GasPriceLimitGwei    decimal.Decimal
	MaxSlippagePct       decimal.Decimal
	PositionSizeLimitPct decimal.Decimal
	DrawdownLimitPct     decimal.Decimal
	HourlyTradeLimit     int
	HistoryCap           int
}

// LimitsFromConfig builds Limits from the risk configuration section.
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		InitialPortfolioUSD:  decimal.NewFromFloat(cfg.InitialPortfolioUSD),
		DailyLossLimitPct:    decimal.NewFromFloat(cfg.DailyLossLimitPct),
		ConsecutiveLossLimit: cfg.ConsecutiveLossLimit,
		VolatilityThreshold:  decimal.NewFromFloat(cfg.VolatilityThreshold),
		GasPriceLimitGwei:    decimal.NewFromFloat(cfg.GasPriceLimitGwei),
		MaxSlippagePct:       decimal.NewFromFloat(cfg.MaxSlippagePct),
		PositionSizeLimitPct: decimal.NewFromFloat(cfg.PositionSizeLimitPct),
		DrawdownLimitPct:     decimal.NewFromFloat(cfg.DrawdownLimitPct),
		HourlyTradeLimit:     cfg.HourlyTradeLimit,
		HistoryCap:           cfg.HistoryCap,
	}
}

// Validate checks the limits are internally coherent.
func (l Limits) Validate() error {
	if !l.InitialPortfolioUSD.IsPositive() {
		return fmt.Errorf("initial portfolio must be positive")
	}
	if l.ConsecutiveLossLimit < 1 {
		return fmt.Errorf("consecutive loss limit must be at least 1")
	}
	if l.HistoryCap < 1 {
		return fmt.Errorf("history cap must be at least 1")
	}
	if l.HourlyTradeLimit < 1 {
		return fmt.Errorf("hourly trade limit must be at least 1")
	}
	if l.DailyLossLimitPct.IsNegative() || l.DrawdownLimitPct.IsNegative() {
		return fmt.Errorf("loss limits must not be negative")
	}
	return nil
}

// Metrics is the rolling trading state. The gate is the only writer; every
// other component reads copies via Snapshot.
type Metrics struct {
	DailyPnL          decimal.Decimal
	TotalPnL          decimal.Decimal
	ConsecutiveLosses int
	CurrentDrawdown   decimal.Decimal // percent from peak
	MaxDrawdown       decimal.Decimal
	Volatility        decimal.Decimal // sample stddev of recent returns
	TradesInLastHour  int
	PortfolioValue    decimal.Decimal
	PeakPortfolio     decimal.Decimal
	RiskScore         int
	UpdatedAt         time.Time
}

// BreakerState is the circuit breaker position. Transitions only through
// the gate.
type BreakerState struct {
	Tripped     bool
	Reason      string
	TrippedAt   time.Time
	AutoResetAt time.Time
}

// Decision is the outcome of evaluating one opportunity.
type Decision struct {
	Approved  bool
	Reason    string
	RiskScore int
}

// Approve returns an approving decision with the given score.
func Approve(score int) Decision {
	return Decision{Approved: true, RiskScore: score}
}

// Deny returns a denying decision.
func Deny(reason string, score int) Decision {
	return Decision{Approved: false, Reason: reason, RiskScore: score}
}
