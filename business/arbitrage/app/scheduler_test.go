package app

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	riskDomain "github.com/arbitron/arbitrage-engine/business/risk/domain"
	venuesDomain "github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/events"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

type fakeRisk struct {
	mu        sync.Mutex
	decision  riskDomain.Decision
	evaluated []*domain.Opportunity
	recorded  []domain.TradeResult
}

func (f *fakeRisk) Evaluate(ctx context.Context, opp *domain.Opportunity) riskDomain.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, opp)
	return f.decision
}

func (f *fakeRisk) RecordTrade(ctx context.Context, result domain.TradeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, result)
}

func (f *fakeRisk) recordedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

type fakeExecutor struct {
	mu       sync.Mutex
	result   *domain.TradeResult
	err      error
	executed int
}

func (f *fakeExecutor) Execute(ctx context.Context, opp *domain.Opportunity) (*domain.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed++
	return f.result, f.err
}

// blockingQuotes holds every GetQuotes call until released.
type blockingQuotes struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingQuotes) GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, perVenue, batch time.Duration) []venuesDomain.Quote {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func profitablePairQuotes(t *testing.T) *scriptedQuotes {
	t.Helper()
	amountIn := mustAmount(t, asset.USDC, "1000")
	return &scriptedQuotes{
		byTokenIn: map[common.Address][]venuesDomain.Quote{
			asset.USDC.Address(): {
				quote(t, "uniswap-v3", amountIn, mustAmount(t, asset.WMATIC, "1020"), 150_000),
				quote(t, "quickswap", amountIn, mustAmount(t, asset.WMATIC, "995"), 120_000),
			},
			asset.WMATIC.Address(): {
				quote(t, "quickswap", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "1035"), 120_000),
				quote(t, "uniswap-v3", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "1000"), 150_000),
			},
		},
	}
}

func testPairs(t *testing.T) []ScanPair {
	t.Helper()
	return []ScanPair{{
		TokenA:   asset.USDC,
		TokenB:   asset.WMATIC,
		AmountIn: mustAmount(t, asset.USDC, "1000"),
	}}
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanInterval:    time.Hour,
		ScanTimeout:     5 * time.Second,
		GasCheckTimeout: time.Second,
		MaxConcurrent:   3,
		TopK:            5,
		MinProfitPct:    decimal.RequireFromString("0.1"),
		MaxProfitPct:    decimal.RequireFromString("10"),
	}
}

func newTestScheduler(t *testing.T, quotes QuoteSource, risk RiskEvaluator, exec TradeExecutor, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	e := newTestEvaluator(t, quotes, workingOracle())
	s, err := NewScheduler(e, risk, exec, workingOracle(), events.NewBus(), testPairs(t), cfg, log)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestScanFindsAndRanksOpportunity(t *testing.T) {
	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, nil, testSchedulerConfig())

	opps := s.Scan(context.Background())
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	if opps[0].BuyVenue != "uniswap-v3" || opps[0].SellVenue != "quickswap" {
		t.Errorf("venues = %s/%s", opps[0].BuyVenue, opps[0].SellVenue)
	}
	if len(risk.evaluated) != 1 {
		t.Errorf("risk gate saw %d opportunities, want 1", len(risk.evaluated))
	}
	if s.EmptyScans() != 0 {
		t.Errorf("EmptyScans = %d, want 0", s.EmptyScans())
	}
}

func TestScanSanityFilterDropsExcessiveProfit(t *testing.T) {
	cfg := testSchedulerConfig()
	// The canned spread is ~1.47%; a 1% ceiling marks it as a stale quote.
	cfg.MaxProfitPct = decimal.RequireFromString("1")

	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, nil, cfg)

	if opps := s.Scan(context.Background()); len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0 after ceiling filter", len(opps))
	}
	if s.EmptyScans() != 1 {
		t.Errorf("EmptyScans = %d, want 1", s.EmptyScans())
	}
	if len(risk.evaluated) != 0 {
		t.Errorf("risk gate saw %d opportunities, want 0", len(risk.evaluated))
	}
}

func TestScanEmptyIncrementsCounterAndRecovers(t *testing.T) {
	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	empty := &scriptedQuotes{byTokenIn: map[common.Address][]venuesDomain.Quote{}}
	s := newTestScheduler(t, empty, risk, nil, testSchedulerConfig())

	s.Scan(context.Background())
	s.Scan(context.Background())
	if s.EmptyScans() != 2 {
		t.Fatalf("EmptyScans = %d, want 2", s.EmptyScans())
	}

	// Swap in productive quotes; the counter resets on the next hit.
	s.evaluator.quotes = profitablePairQuotes(t)
	s.Scan(context.Background())
	if s.EmptyScans() != 0 {
		t.Errorf("EmptyScans = %d, want 0 after a productive scan", s.EmptyScans())
	}
}

func TestOpportunityHistoryIsBoundedPerPair(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.OpportunityCap = 3

	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, nil, cfg)

	for i := 0; i < 10; i++ {
		s.Scan(context.Background())
	}

	recent := s.RecentOpportunities()
	if got := len(recent["USDC-WMATIC"]); got != 3 {
		t.Fatalf("history for USDC-WMATIC holds %d entries, want cap 3", got)
	}
}

func TestTryScanSkipsWhileScanInFlight(t *testing.T) {
	blocking := &blockingQuotes{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	s := newTestScheduler(t, blocking, risk, nil, testSchedulerConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.tryScan(context.Background())
	}()

	// Wait until the first scan is parked inside the quote source, then a
	// second tick must return immediately without scanning.
	select {
	case <-blocking.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first scan never started")
	}

	skipped := make(chan struct{})
	go func() {
		defer close(skipped)
		s.tryScan(context.Background())
	}()
	select {
	case <-skipped:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("overlapping tick did not skip")
	}

	close(blocking.release)
	<-done

	if !s.scanning.CompareAndSwap(false, true) {
		t.Error("scanning flag not released after scan finished")
	}
}

func TestScanGasGateBlocksAboveCap(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.MaxGasPriceWei = big.NewInt(1) // 100 gwei oracle price is way above

	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, nil, cfg)

	if opps := s.Scan(context.Background()); opps != nil {
		t.Fatalf("expected nil with gas gate closed, got %d", len(opps))
	}
	if len(risk.evaluated) != 0 {
		t.Error("no opportunity should reach the risk gate with gas gate closed")
	}
}

func TestScanProceedsWhenGasCheckFails(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	e := newTestEvaluator(t, profitablePairQuotes(t), workingOracle())

	broken := &fakeOracle{err: errors.New("node down")}
	cfg := testSchedulerConfig()
	cfg.MaxGasPriceWei = big.NewInt(1)

	s, err := NewScheduler(e, risk, nil, broken, events.NewBus(), testPairs(t), cfg, log)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	// Oracle failure must not starve scanning even with a tight cap set.
	if opps := s.Scan(context.Background()); len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
}

func TestDispatchDeniedSkipsExecution(t *testing.T) {
	risk := &fakeRisk{decision: riskDomain.Deny("too risky", 90)}
	exec := &fakeExecutor{result: &domain.TradeResult{Success: true}}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, exec, testSchedulerConfig())

	s.Scan(context.Background())
	if exec.executed != 0 {
		t.Errorf("executor ran %d times on a denied opportunity", exec.executed)
	}
	if risk.recordedCount() != 0 {
		t.Errorf("denied opportunity recorded %d trades", risk.recordedCount())
	}
}

func TestDispatchRecordsExecutionOutcome(t *testing.T) {
	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	exec := &fakeExecutor{result: &domain.TradeResult{
		Success:   true,
		NetProfit: decimal.NewFromInt(12),
		Timestamp: time.Now(),
	}}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, exec, testSchedulerConfig())

	s.Scan(context.Background())
	if exec.executed != 1 {
		t.Fatalf("executor ran %d times, want 1", exec.executed)
	}
	if risk.recordedCount() != 1 {
		t.Fatalf("recorded %d trades, want 1", risk.recordedCount())
	}
	if !risk.recorded[0].Success {
		t.Error("recorded trade should be the successful result")
	}
}

func TestDispatchExecutionErrorRecordsLoss(t *testing.T) {
	risk := &fakeRisk{decision: riskDomain.Approve(10)}
	exec := &fakeExecutor{err: errors.New("submission reverted")}
	s := newTestScheduler(t, profitablePairQuotes(t), risk, exec, testSchedulerConfig())

	s.Scan(context.Background())
	if risk.recordedCount() != 1 {
		t.Fatalf("recorded %d trades, want 1", risk.recordedCount())
	}
	if risk.recorded[0].Success {
		t.Error("an execution error must be recorded as a failed trade")
	}
}
