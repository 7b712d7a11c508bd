package app

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	arbDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/risk/domain"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

func testLimits() domain.Limits {
	return domain.Limits{
		InitialPortfolioUSD:  decimal.NewFromInt(10_000),
		DailyLossLimitPct:    decimal.NewFromInt(5),
		ConsecutiveLossLimit: 5,
		VolatilityThreshold:  decimal.RequireFromString("0.05"),
		GasPriceLimitGwei:    decimal.NewFromInt(300),
		MaxSlippagePct:       decimal.NewFromInt(3),
		PositionSizeLimitPct: decimal.NewFromInt(20),
		DrawdownLimitPct:     decimal.NewFromInt(15),
		HourlyTradeLimit:     20,
		HistoryCap:           100,
	}
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(t *testing.T, limits domain.Limits, c *clock) *Gate {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	gate, err := NewGate(limits, nil, log, WithClock(c.now))
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return gate
}

func goodOpportunity() *arbDomain.Opportunity {
	amountIn, _ := asset.ParseString(asset.USDC, "1000")
	return &arbDomain.Opportunity{
		ID:            "test-opp",
		TokenA:        asset.USDC,
		TokenB:        asset.WMATIC,
		AmountIn:      amountIn,
		BuyVenue:      "uniswap-v3",
		SellVenue:     "quickswap",
		GrossProfit:   decimal.NewFromInt(15),
		ProfitPercent: decimal.RequireFromString("1.47"),
		NetProfit:     decimal.NewFromInt(12),
	}
}

func lossTrade(ts time.Time) arbDomain.TradeResult {
	return arbDomain.TradeResult{
		Success:   false,
		NetProfit: decimal.NewFromInt(-10),
		TokenA:    "USDC",
		TokenB:    "WMATIC",
		Timestamp: ts,
	}
}

func TestEvaluateApprovesHealthyOpportunity(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, testLimits(), c)

	decision := gate.Evaluate(context.Background(), goodOpportunity())
	if !decision.Approved {
		t.Fatalf("expected approval, got deny: %s", decision.Reason)
	}
	if decision.RiskScore < 0 || decision.RiskScore > 100 {
		t.Errorf("risk score %d out of range", decision.RiskScore)
	}
}

func TestConsecutiveLossesTripBreaker(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := testLimits()
	limits.DailyLossLimitPct = decimal.NewFromInt(50) // keep daily loss out of the way
	gate := newTestGate(t, limits, c)

	for i := 0; i < 5; i++ {
		gate.RecordTrade(context.Background(), lossTrade(c.t))
		c.advance(time.Minute)
	}

	_, breaker := gate.Snapshot()
	if !breaker.Tripped {
		t.Fatal("breaker should trip after 5 consecutive losses")
	}
	if !containsStr(breaker.Reason, "consecutive losses") {
		t.Errorf("reason %q should mention consecutive losses", breaker.Reason)
	}

	decision := gate.Evaluate(context.Background(), goodOpportunity())
	if decision.Approved {
		t.Fatal("tripped breaker must deny")
	}
	if !containsStr(decision.Reason, "circuit breaker active") {
		t.Errorf("deny reason %q should mention the breaker", decision.Reason)
	}
}

func TestBreakerAutoResetAfterCooldown(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := testLimits()
	limits.DailyLossLimitPct = decimal.NewFromInt(50)
	gate := newTestGate(t, limits, c)

	for i := 0; i < 5; i++ {
		gate.RecordTrade(context.Background(), lossTrade(c.t))
	}

	if d := gate.Evaluate(context.Background(), goodOpportunity()); d.Approved {
		t.Fatal("expected deny while tripped")
	}

	c.advance(24*time.Hour + time.Second)

	decision := gate.Evaluate(context.Background(), goodOpportunity())
	if !decision.Approved {
		t.Fatalf("expected approval after cooldown, got: %s", decision.Reason)
	}

	_, breaker := gate.Snapshot()
	if breaker.Tripped {
		t.Error("breaker should be back to normal after cooldown")
	}
}

func TestDrawdownComputedFromRunningPeak(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := testLimits()
	limits.DailyLossLimitPct = decimal.NewFromInt(90)
	limits.DrawdownLimitPct = decimal.NewFromInt(50)
	gate := newTestGate(t, limits, c)

	win := arbDomain.TradeResult{Success: true, NetProfit: decimal.NewFromInt(500), Timestamp: c.t}
	gate.RecordTrade(context.Background(), win)

	loss := arbDomain.TradeResult{Success: false, NetProfit: decimal.NewFromInt(-1500), Timestamp: c.t}
	gate.RecordTrade(context.Background(), loss)

	metrics, _ := gate.Snapshot()

	// peak 10500, low 9000: (10500-9000)/10500*100 = 14.2857...
	want := decimal.RequireFromString("14.28")
	got := metrics.CurrentDrawdown
	if got.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
		t.Errorf("CurrentDrawdown = %s, want ~14.29", got.StringFixed(4))
	}
	if !metrics.PortfolioValue.Equal(decimal.NewFromInt(9000)) {
		t.Errorf("PortfolioValue = %s, want 9000", metrics.PortfolioValue)
	}
}

func TestDailyLossTripsBreaker(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, testLimits(), c)

	// 5% of 10,000 = 500 daily loss limit.
	big := arbDomain.TradeResult{Success: false, NetProfit: decimal.NewFromInt(-600), Timestamp: c.t}
	gate.RecordTrade(context.Background(), big)

	_, breaker := gate.Snapshot()
	if !breaker.Tripped {
		t.Fatal("daily loss breach should trip the breaker")
	}
	if !containsStr(breaker.Reason, "daily loss") {
		t.Errorf("reason %q should mention daily loss", breaker.Reason)
	}
}

func TestDailyPnLResetsAtDayBoundary(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	limits := testLimits()
	limits.DailyLossLimitPct = decimal.NewFromInt(50)
	gate := newTestGate(t, limits, c)

	gate.RecordTrade(context.Background(), lossTrade(c.t))

	metrics, _ := gate.Snapshot()
	if !metrics.DailyPnL.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("DailyPnL = %s, want -10", metrics.DailyPnL)
	}

	c.advance(2 * time.Hour) // crosses midnight
	gate.Evaluate(context.Background(), goodOpportunity())

	metrics, _ = gate.Snapshot()
	if !metrics.DailyPnL.IsZero() {
		t.Errorf("DailyPnL = %s after day boundary, want 0", metrics.DailyPnL)
	}
	if !metrics.TotalPnL.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("TotalPnL = %s, want -10 (unaffected by daily reset)", metrics.TotalPnL)
	}
}

func TestHourlyTradeLimitDenies(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := testLimits()
	limits.HourlyTradeLimit = 3
	limits.DailyLossLimitPct = decimal.NewFromInt(90)
	gate := newTestGate(t, limits, c)

	for i := 0; i < 3; i++ {
		win := arbDomain.TradeResult{Success: true, NetProfit: decimal.NewFromInt(5), Timestamp: c.t}
		gate.RecordTrade(context.Background(), win)
		c.advance(time.Minute)
	}

	decision := gate.Evaluate(context.Background(), goodOpportunity())
	if decision.Approved {
		t.Fatal("expected deny at hourly trade limit")
	}
	if !containsStr(decision.Reason, "hourly trade limit") {
		t.Errorf("reason %q should mention the hourly limit", decision.Reason)
	}

	// Window slides: an hour later the same evaluate passes.
	c.advance(61 * time.Minute)
	decision = gate.Evaluate(context.Background(), goodOpportunity())
	if !decision.Approved {
		t.Fatalf("expected approval after window slid, got: %s", decision.Reason)
	}
}

func TestPositionSizeLimitDenies(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, testLimits(), c)

	opp := goodOpportunity()
	opp.AmountIn, _ = asset.ParseString(asset.USDC, "5000") // 50% of 10k portfolio

	decision := gate.Evaluate(context.Background(), opp)
	if decision.Approved {
		t.Fatal("expected deny for oversized position")
	}
	if !containsStr(decision.Reason, "position") {
		t.Errorf("reason %q should mention position size", decision.Reason)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := testLimits()
	limits.HistoryCap = 10
	limits.DailyLossLimitPct = decimal.NewFromInt(95)
	limits.ConsecutiveLossLimit = 1000
	limits.DrawdownLimitPct = decimal.NewFromInt(99)
	gate := newTestGate(t, limits, c)

	for i := 0; i < 50; i++ {
		gate.RecordTrade(context.Background(), arbDomain.TradeResult{
			Success: true, NetProfit: decimal.NewFromInt(1), Timestamp: c.t,
		})
	}

	gate.mu.Lock()
	got := len(gate.history)
	gate.mu.Unlock()
	if got != 10 {
		t.Errorf("history length = %d, want 10", got)
	}
}

func TestUpdateLimitsRejectsInvalid(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, testLimits(), c)

	bad := testLimits()
	bad.ConsecutiveLossLimit = 0
	if err := gate.UpdateLimits(bad); err == nil {
		t.Error("expected error for invalid limits")
	}

	good := testLimits()
	good.HourlyTradeLimit = 50
	if err := gate.UpdateLimits(good); err != nil {
		t.Errorf("UpdateLimits: %v", err)
	}
}

func containsStr(s, sub string) bool {
	return strings.Contains(s, sub)
}
