package app

import (
	"context"
	"io"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	arbitrageDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
	gasDomain "github.com/arbitron/arbitrage-engine/business/gas/domain"
	venuesDomain "github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

var testSender = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeChain struct {
	mu      sync.Mutex
	pending uint64
	pool    []domain.PendingTx
	poolErr error
}

func (f *fakeChain) PendingNonce(ctx context.Context, sender common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeChain) PendingTransactions(ctx context.Context) ([]domain.PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pool, f.poolErr
}

type fixedGas struct {
	wei *big.Int
}

func (f *fixedGas) GasPrice(ctx context.Context) (*gasDomain.GasPrice, error) {
	return gasDomain.NewGasPrice(f.wei), nil
}

func (f *fixedGas) Tiers(ctx context.Context) (*gasDomain.GasTiers, error) {
	return &gasDomain.GasTiers{Standard: gasDomain.NewGasPrice(f.wei)}, nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func testProtectorConfig() ProtectorConfig {
	return ProtectorConfig{
		Sender:           testSender,
		MinDelay:         10 * time.Millisecond,
		MaxDelay:         100 * time.Millisecond,
		GasPremiumMinPct: 5,
		GasPremiumMaxPct: 15,
		GasPriceCap:      gwei(1000),
		ScreenMempool:    true,
	}
}

func newTestProtector(t *testing.T, cfg ProtectorConfig, chain ChainState, gas *fixedGas) *Protector {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	p, err := NewProtector(cfg, NewNonceManager(chain), gas, chain, log)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}
	return p
}

func screenOpportunity() *arbitrageDomain.Opportunity {
	poolA := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	poolB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	return &arbitrageDomain.Opportunity{
		ID:        "test-opp",
		TokenA:    asset.USDC,
		TokenB:    asset.WMATIC,
		BuyVenue:  "uniswap-v3",
		SellVenue: "quickswap",
		BuyQuote:  venuesDomain.Quote{Route: []common.Address{poolA}},
		SellQuote: venuesDomain.Quote{Route: []common.Address{poolB}},
	}
}

func TestConcurrentNonceAssignmentsAreDistinct(t *testing.T) {
	chain := &fakeChain{pending: 7}
	m := NewNonceManager(chain)

	const workers = 20
	nonces := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := m.Next(context.Background(), testSender)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			nonces[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, n := range nonces {
		if want := uint64(7 + i); n != want {
			t.Fatalf("nonces not distinct and sequential: got %v", nonces)
		}
	}
}

func TestNonceTakesMaxOfChainAndLocal(t *testing.T) {
	chain := &fakeChain{pending: 3}
	m := NewNonceManager(chain)
	ctx := context.Background()

	if n, _ := m.Next(ctx, testSender); n != 3 {
		t.Fatalf("first nonce = %d, want 3", n)
	}

	// Chain jumps ahead of the local counter (another sender process).
	chain.mu.Lock()
	chain.pending = 10
	chain.mu.Unlock()

	if n, _ := m.Next(ctx, testSender); n != 10 {
		t.Fatalf("nonce after chain jump = %d, want 10", n)
	}

	// Chain lags (node still reports old pending); local wins.
	chain.mu.Lock()
	chain.pending = 4
	chain.mu.Unlock()

	if n, _ := m.Next(ctx, testSender); n != 11 {
		t.Fatalf("nonce with lagging chain = %d, want 11", n)
	}
}

func TestNonceReleaseFallsBackToChain(t *testing.T) {
	chain := &fakeChain{pending: 5}
	m := NewNonceManager(chain)
	ctx := context.Background()

	m.Next(ctx, testSender)
	m.Next(ctx, testSender)
	m.Release(testSender)

	if n, _ := m.Next(ctx, testSender); n != 5 {
		t.Fatalf("nonce after release = %d, want chain pending 5", n)
	}
}

func TestPlanGasPremiumWithinBounds(t *testing.T) {
	chain := &fakeChain{}
	p := newTestProtector(t, testProtectorConfig(), chain, &fixedGas{wei: gwei(100)})

	min := gwei(105)
	max := gwei(115)
	for i := 0; i < 50; i++ {
		plan, err := p.Plan(context.Background(), screenOpportunity())
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if plan.GasPrice.Cmp(min) < 0 || plan.GasPrice.Cmp(max) > 0 {
			t.Fatalf("gas price %s outside [%s, %s]", plan.GasPrice, min, max)
		}
		if plan.PremiumPct < 5 || plan.PremiumPct > 15 {
			t.Fatalf("premium %d%% outside [5, 15]", plan.PremiumPct)
		}
	}
}

func TestPlanGasPriceCapped(t *testing.T) {
	cfg := testProtectorConfig()
	cfg.GasPriceCap = gwei(100)
	chain := &fakeChain{}
	p := newTestProtector(t, cfg, chain, &fixedGas{wei: gwei(100)})

	plan, err := p.Plan(context.Background(), screenOpportunity())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.GasPrice.Cmp(gwei(100)) != 0 {
		t.Errorf("gas price %s, want capped at %s", plan.GasPrice, gwei(100))
	}
}

func TestPlanDelayWithinBounds(t *testing.T) {
	chain := &fakeChain{}
	p := newTestProtector(t, testProtectorConfig(), chain, &fixedGas{wei: gwei(100)})

	for i := 0; i < 50; i++ {
		plan, err := p.Plan(context.Background(), screenOpportunity())
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if plan.Delay < 10*time.Millisecond || plan.Delay > 100*time.Millisecond {
			t.Fatalf("delay %s outside [10ms, 100ms]", plan.Delay)
		}
	}
}

func TestPlanPicksConfiguredRelay(t *testing.T) {
	cfg := testProtectorConfig()
	cfg.UseRelays = true
	cfg.Relays = []string{"https://relay-a.example", "https://relay-b.example"}
	chain := &fakeChain{}
	p := newTestProtector(t, cfg, chain, &fixedGas{wei: gwei(100)})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		plan, err := p.Plan(context.Background(), screenOpportunity())
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if !plan.Private() {
			t.Fatal("expected every plan to route through a relay")
		}
		seen[plan.Relay] = true
	}
	if len(seen) != 2 {
		t.Errorf("relay selection never varied: %v", seen)
	}
}

func TestPlanWithoutRelaysUsesPublicMempool(t *testing.T) {
	chain := &fakeChain{}
	p := newTestProtector(t, testProtectorConfig(), chain, &fixedGas{wei: gwei(100)})

	plan, err := p.Plan(context.Background(), screenOpportunity())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Private() {
		t.Errorf("expected public mempool, got relay %q", plan.Relay)
	}
}

func TestScreenFlagsSandwichSetup(t *testing.T) {
	opp := screenOpportunity()
	target := opp.BuyQuote.Route[0]
	elsewhere := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	chain := &fakeChain{
		pool: []domain.PendingTx{
			{To: &target, GasPrice: gwei(500)},
			{To: &target, GasPrice: gwei(600)},
			{To: &target, GasPrice: gwei(50)},  // below our price, ignored
			{To: &elsewhere, GasPrice: gwei(900)}, // different pool, ignored
		},
	}
	p := newTestProtector(t, testProtectorConfig(), chain, &fixedGas{wei: gwei(100)})

	plan, err := p.Plan(context.Background(), opp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Mempool.Screened {
		t.Fatal("expected the mempool to be screened")
	}
	if !plan.Mempool.SuspectedSandwich {
		t.Error("two overpriced txs on our pool should flag a sandwich")
	}
	if plan.Mempool.CompetingTxs != 2 {
		t.Errorf("CompetingTxs = %d, want 2", plan.Mempool.CompetingTxs)
	}
}

func TestScreenDegradesWhenTxpoolUnsupported(t *testing.T) {
	chain := &fakeChain{
		poolErr: apperror.New(apperror.CodeMempoolUnsupported),
	}
	p := newTestProtector(t, testProtectorConfig(), chain, &fixedGas{wei: gwei(100)})

	plan, err := p.Plan(context.Background(), screenOpportunity())
	if err != nil {
		t.Fatalf("screen failure must not block the plan: %v", err)
	}
	if plan.Mempool.Screened {
		t.Error("unsupported txpool should report an unscreened plan")
	}
	if plan.Mempool.SuspectedSandwich {
		t.Error("no signal must never read as a sandwich")
	}
}
