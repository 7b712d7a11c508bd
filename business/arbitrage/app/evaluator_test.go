package app

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	gasApp "github.com/arbitron/arbitrage-engine/business/gas/app"
	gasDomain "github.com/arbitron/arbitrage-engine/business/gas/domain"
	venuesDomain "github.com/arbitron/arbitrage-engine/business/venues/domain"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

// scriptedQuotes returns canned batches keyed by the input token, recording
// the amounts it was asked about.
type scriptedQuotes struct {
	byTokenIn map[common.Address][]venuesDomain.Quote
	asked     map[common.Address]*big.Int
}

func (s *scriptedQuotes) GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, perVenue, batch time.Duration) []venuesDomain.Quote {
	if s.asked == nil {
		s.asked = make(map[common.Address]*big.Int)
	}
	s.asked[tokenIn] = new(big.Int).Set(amountIn)
	return s.byTokenIn[tokenIn]
}

type fakeOracle struct {
	price *gasDomain.GasPrice
	err   error
}

func (f *fakeOracle) GasPrice(ctx context.Context) (*gasDomain.GasPrice, error) {
	return f.price, f.err
}

func (f *fakeOracle) Tiers(ctx context.Context) (*gasDomain.GasTiers, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gasDomain.GasTiers{Standard: f.price}, nil
}

type usdFeed struct{}

func (usdFeed) PriceUSD(ctx context.Context) decimal.Decimal {
	return decimal.RequireFromString("0.40")
}

func mustAmount(t *testing.T, a *asset.Asset, s string) asset.Amount {
	t.Helper()
	amt, err := asset.ParseString(a, s)
	if err != nil {
		t.Fatalf("ParseString(%s): %v", s, err)
	}
	return amt
}

func quote(t *testing.T, venue string, in, out asset.Amount, gas uint64) venuesDomain.Quote {
	t.Helper()
	return venuesDomain.NewQuote(venue, in.Asset(), out.Asset(), in, out, gas, decimal.Zero, nil)
}

func newTestEvaluator(t *testing.T, quotes QuoteSource, oracle gasApp.GasOracle) *Evaluator {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	costModel := gasApp.NewCostModel(usdFeed{}, asset.POL, log)

	cfg := EvaluatorConfig{
		PerVenueTimeout: time.Second,
		BatchTimeout:    2 * time.Second,
		GasCheckTimeout: time.Second,
	}
	e, err := NewEvaluator(quotes, oracle, costModel, asset.POL, cfg, log)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func workingOracle() *fakeOracle {
	wei := new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000))
	return &fakeOracle{price: gasDomain.NewGasPrice(wei)}
}

func TestEvaluateEndToEndScenario(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")

	quotes := &scriptedQuotes{
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

	e := newTestEvaluator(t, quotes, workingOracle())
	opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn)
	if opp == nil {
		t.Fatal("expected an opportunity")
	}

	if opp.BuyVenue != "uniswap-v3" || opp.SellVenue != "quickswap" {
		t.Errorf("venues = buy %s / sell %s, want uniswap-v3 / quickswap",
			opp.BuyVenue, opp.SellVenue)
	}

	// Reverse leg must sell exactly what the best forward leg bought.
	wantReverseIn := mustAmount(t, asset.WMATIC, "1020").Raw()
	if quotes.asked[asset.WMATIC.Address()].Cmp(wantReverseIn) != 0 {
		t.Errorf("reverse amountIn = %s, want %s",
			quotes.asked[asset.WMATIC.Address()], wantReverseIn)
	}

	if !opp.GrossProfit.Equal(decimal.NewFromInt(15)) {
		t.Errorf("GrossProfit = %s, want 15", opp.GrossProfit)
	}
	if !opp.ProfitPercent.GreaterThan(decimal.RequireFromString("0.01")) {
		t.Errorf("ProfitPercent = %s, want > 0.01", opp.ProfitPercent)
	}

	// netProfit = grossProfit - gasCost, strictly.
	wantNet := opp.GrossProfit.Sub(opp.GasCost.TotalCostUSD)
	if !opp.NetProfit.Equal(wantNet) {
		t.Errorf("NetProfit = %s, want %s", opp.NetProfit, wantNet)
	}
}

func TestEvaluateSameVenueBothLegsReturnsNone(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")

	quotes := &scriptedQuotes{
		byTokenIn: map[common.Address][]venuesDomain.Quote{
			asset.USDC.Address(): {
				quote(t, "uniswap-v3", amountIn, mustAmount(t, asset.WMATIC, "1020"), 150_000),
				quote(t, "quickswap", amountIn, mustAmount(t, asset.WMATIC, "995"), 120_000),
			},
			asset.WMATIC.Address(): {
				quote(t, "uniswap-v3", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "1040"), 150_000),
				quote(t, "quickswap", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "990"), 120_000),
			},
		},
	}

	e := newTestEvaluator(t, quotes, workingOracle())
	if opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn); opp != nil {
		t.Fatalf("same best venue on both legs should yield none, got %s", opp)
	}
}

func TestEvaluateSingleVenueReturnsNone(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")

	// Only one venue responds in each direction, and it is the same venue.
	quotes := &scriptedQuotes{
		byTokenIn: map[common.Address][]venuesDomain.Quote{
			asset.USDC.Address(): {
				quote(t, "uniswap-v3", amountIn, mustAmount(t, asset.WMATIC, "1020"), 150_000),
			},
			asset.WMATIC.Address(): {
				quote(t, "uniswap-v3", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "1035"), 150_000),
			},
		},
	}

	e := newTestEvaluator(t, quotes, workingOracle())
	if opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn); opp != nil {
		t.Fatalf("fewer than two distinct venues should yield none, got %s", opp)
	}
}

func TestEvaluateNonPositiveSpreadReturnsNone(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")

	quotes := &scriptedQuotes{
		byTokenIn: map[common.Address][]venuesDomain.Quote{
			asset.USDC.Address(): {
				quote(t, "uniswap-v3", amountIn, mustAmount(t, asset.WMATIC, "1020"), 150_000),
			},
			asset.WMATIC.Address(): {
				quote(t, "quickswap", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "1020"), 120_000),
			},
		},
	}

	e := newTestEvaluator(t, quotes, workingOracle())
	if opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn); opp != nil {
		t.Fatalf("zero spread should yield none, got %s", opp)
	}
}

func TestEvaluateSubNoiseFloorReturnsNone(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")

	// Spread of 0.005% - below the 0.01% floor.
	quotes := &scriptedQuotes{
		byTokenIn: map[common.Address][]venuesDomain.Quote{
			asset.USDC.Address(): {
				quote(t, "uniswap-v3", amountIn, mustAmount(t, asset.WMATIC, "1000"), 150_000),
			},
			asset.WMATIC.Address(): {
				quote(t, "quickswap", mustAmount(t, asset.WMATIC, "1000"), mustAmount(t, asset.USDC, "1000.05"), 120_000),
			},
		},
	}

	e := newTestEvaluator(t, quotes, workingOracle())
	if opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn); opp != nil {
		t.Fatalf("sub-noise spread should yield none, got %s", opp)
	}
}

func TestEvaluateEmptyBatchesReturnNone(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")
	quotes := &scriptedQuotes{byTokenIn: map[common.Address][]venuesDomain.Quote{}}

	e := newTestEvaluator(t, quotes, workingOracle())
	if opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn); opp != nil {
		t.Fatalf("all venues failing should yield none, got %s", opp)
	}
}

func TestEvaluateGasOracleFailureUsesConservativeFallback(t *testing.T) {
	amountIn := mustAmount(t, asset.USDC, "1000")

	quotes := &scriptedQuotes{
		byTokenIn: map[common.Address][]venuesDomain.Quote{
			asset.USDC.Address(): {
				quote(t, "uniswap-v3", amountIn, mustAmount(t, asset.WMATIC, "1020"), 150_000),
			},
			asset.WMATIC.Address(): {
				quote(t, "quickswap", mustAmount(t, asset.WMATIC, "1020"), mustAmount(t, asset.USDC, "1035"), 120_000),
			},
		},
	}

	broken := &fakeOracle{err: context.DeadlineExceeded}
	e := newTestEvaluator(t, quotes, broken)

	opp := e.Evaluate(context.Background(), asset.USDC, asset.WMATIC, amountIn)
	if opp == nil {
		t.Fatal("gas failure must not abort the evaluation")
	}
	if opp.GasCost == nil || opp.GasCost.TotalGas == 0 {
		t.Fatal("expected a conservative fallback gas estimate")
	}
	wantNet := opp.GrossProfit.Sub(opp.GasCost.TotalCostUSD)
	if !opp.NetProfit.Equal(wantNet) {
		t.Errorf("NetProfit = %s, want %s", opp.NetProfit, wantNet)
	}
}
