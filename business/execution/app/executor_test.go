package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	arbitrageDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
	gasDomain "github.com/arbitron/arbitrage-engine/business/gas/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	res   *domain.SubmissionResult
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(_ context.Context, _ *arbitrageDomain.Opportunity, _ *domain.Plan) (*domain.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func newTestExecutor(t *testing.T, submitter TradeSubmitter) *Executor {
	t.Helper()
	cfg := testProtectorConfig()
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	chain := &fakeChain{}
	p := newTestProtector(t, cfg, chain, &fixedGas{wei: gwei(100)})

	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	e, err := NewExecutor(p, submitter, log)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e
}

func executableOpportunity() *arbitrageDomain.Opportunity {
	opp := screenOpportunity()
	opp.GrossProfit = decimal.NewFromInt(15)
	opp.NetProfit = decimal.NewFromInt(13)
	opp.GasCost = &gasDomain.CostEstimate{
		TotalGas:     1000,
		TotalCostUSD: decimal.NewFromInt(2),
	}
	opp.ValidUntil = time.Now().Add(time.Minute)
	return opp
}

func TestExecuteSuccessCarriesQuotedProfit(t *testing.T) {
	submitter := &fakeSubmitter{res: &domain.SubmissionResult{
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 42,
		GasUsed:     800,
		Success:     true,
	}}
	e := newTestExecutor(t, submitter)

	result, err := e.Execute(context.Background(), executableOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatal("mined trade reported as failed")
	}
	if !result.NetProfit.Equal(decimal.NewFromInt(13)) {
		t.Errorf("NetProfit = %s, want 13", result.NetProfit)
	}
	if !result.Profit.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Profit = %s, want 15", result.Profit)
	}
}

func TestExecuteRevertBooksBurnedGasAsLoss(t *testing.T) {
	// Reverted at half the gas budget: the loss is half the estimated cost.
	submitter := &fakeSubmitter{res: &domain.SubmissionResult{
		TxHash:  common.HexToHash("0x02"),
		GasUsed: 500,
		Success: false,
	}}
	e := newTestExecutor(t, submitter)

	result, err := e.Execute(context.Background(), executableOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("reverted trade reported as successful")
	}
	if want := decimal.NewFromInt(-1); !result.NetProfit.Equal(want) {
		t.Errorf("NetProfit = %s, want %s", result.NetProfit, want)
	}
	if !result.IsLoss() {
		t.Error("reverted trade not reported as a loss")
	}
}

func TestExecuteExpiredOpportunityRejected(t *testing.T) {
	submitter := &fakeSubmitter{}
	e := newTestExecutor(t, submitter)

	opp := executableOpportunity()
	opp.ValidUntil = time.Now().Add(-time.Second)

	if _, err := e.Execute(context.Background(), opp); apperror.GetCode(err) != apperror.CodeSubmissionFailed {
		t.Fatalf("Execute on expired opportunity: err = %v, want CodeSubmissionFailed", err)
	}
	if submitter.calls != 0 {
		t.Errorf("submitter called %d times for an expired opportunity", submitter.calls)
	}
}
