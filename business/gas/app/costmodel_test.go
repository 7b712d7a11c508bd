package app

import (
	"context"
	"io"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arbitron/arbitrage-engine/business/gas/domain"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

type staticFeed struct {
	price decimal.Decimal
}

func (f *staticFeed) PriceUSD(ctx context.Context) decimal.Decimal { return f.price }

func newTestModel(price string) *CostModel {
	feed := &staticFeed{price: decimal.RequireFromString(price)}
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	return NewCostModel(feed, asset.POL, log)
}

func gwei(n int64) *domain.GasPrice {
	wei := new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
	return domain.NewGasPrice(wei)
}

func TestEstimateSumsComponentsWithSafetyMultiplier(t *testing.T) {
	model := newTestModel("0.40")

	est, err := model.Estimate(context.Background(), "uniswap-v3", "quickswap", gwei(100))
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	// 200k flash loan + 180k + 120k swaps + 2*46k approvals = 592k, +20% = 710.4k
	if est.TotalGas != 710_400 {
		t.Errorf("TotalGas = %d, want 710400", est.TotalGas)
	}
	if est.FlashLoanGas != 200_000 {
		t.Errorf("FlashLoanGas = %d, want 200000", est.FlashLoanGas)
	}
	if est.SwapGas != 300_000 {
		t.Errorf("SwapGas = %d, want 300000", est.SwapGas)
	}
	if est.ApprovalGas != 92_000 {
		t.Errorf("ApprovalGas = %d, want 92000", est.ApprovalGas)
	}

	// 710,400 gas at 100 gwei = 0.07104 native; at $0.40 = $0.028416
	wantNative := decimal.RequireFromString("0.07104")
	if !est.TotalCostNative.ToDecimal().Equal(wantNative) {
		t.Errorf("TotalCostNative = %s, want %s", est.TotalCostNative.ToDecimal(), wantNative)
	}
	wantUSD := decimal.RequireFromString("0.028416")
	if !est.TotalCostUSD.Equal(wantUSD) {
		t.Errorf("TotalCostUSD = %s, want %s", est.TotalCostUSD, wantUSD)
	}
}

func TestEstimateUnknownVenueUsesDefault(t *testing.T) {
	model := newTestModel("0.40")

	est, err := model.Estimate(context.Background(), "mystery-dex", "quickswap", gwei(50))
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.SwapGas != defaultSwapGas+120_000 {
		t.Errorf("SwapGas = %d, want %d", est.SwapGas, defaultSwapGas+120_000)
	}
}

func TestEstimateRejectsInvalidGasPrice(t *testing.T) {
	model := newTestModel("0.40")

	if _, err := model.Estimate(context.Background(), "quickswap", "sushiswap", nil); err == nil {
		t.Error("expected error for nil gas price")
	}
	if _, err := model.Estimate(context.Background(), "quickswap", "sushiswap",
		domain.NewGasPrice(big.NewInt(0))); err == nil {
		t.Error("expected error for zero gas price")
	}
}

func TestMinProfitThreshold(t *testing.T) {
	model := newTestModel("0.40")
	amountIn, _ := asset.ParseString(asset.USDC, "1000")

	got := model.MinProfitThreshold(decimal.RequireFromString("2"), amountIn,
		decimal.RequireFromString("50"))
	want := decimal.RequireFromString("3") // 2 * 1.5
	if !got.Equal(want) {
		t.Errorf("MinProfitThreshold = %s, want %s", got, want)
	}
}

func TestMinProfitThresholdFloor(t *testing.T) {
	model := newTestModel("0.40")
	amountIn, _ := asset.ParseString(asset.USDC, "1000")

	// Tiny gas cost: floor of 0.01% of trade size applies.
	got := model.MinProfitThreshold(decimal.RequireFromString("0.0001"), amountIn, decimal.Zero)
	want := decimal.RequireFromString("0.1")
	if !got.Equal(want) {
		t.Errorf("MinProfitThreshold = %s, want %s", got, want)
	}
}
