package asset_test

import (
	"math/big"
	"testing"

	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/shopspring/decimal"
)

func TestAmount_Basic(t *testing.T) {
	// 1 WMATIC = 1e18 raw units
	one := asset.NewAmount(asset.WMATIC, big.NewInt(1e18))

	if one.IsZero() {
		t.Error("expected non-zero amount")
	}

	// ToDecimal should return 1.0
	d := one.ToDecimal()
	if !d.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", d.String())
	}

	// String should be "1 WMATIC"
	if one.String() != "1 WMATIC" {
		t.Errorf("expected '1 WMATIC', got '%s'", one.String())
	}
}

func TestAmount_Add(t *testing.T) {
	one := asset.NewAmount(asset.WMATIC, big.NewInt(1e18))
	two := asset.NewAmount(asset.WMATIC, big.NewInt(2e18))

	sum, err := one.Add(two)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := decimal.NewFromInt(3)
	if !sum.ToDecimal().Equal(expected) {
		t.Errorf("expected 3, got %s", sum.ToDecimal().String())
	}
}

func TestAmount_CannotAddDifferentAssets(t *testing.T) {
	oneWMATIC := asset.NewAmount(asset.WMATIC, big.NewInt(1e18))
	oneUSDC := asset.NewAmount(asset.USDC, big.NewInt(1e6))

	_, err := oneWMATIC.Add(oneUSDC)
	if err == nil {
		t.Error("expected error when adding different assets")
	}
}

func TestAmount_Sub(t *testing.T) {
	three := asset.NewAmount(asset.WMATIC, big.NewInt(3e18))
	one := asset.NewAmount(asset.WMATIC, big.NewInt(1e18))

	diff, err := three.Sub(one)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := decimal.NewFromInt(2)
	if !diff.ToDecimal().Equal(expected) {
		t.Errorf("expected 2, got %s", diff.ToDecimal().String())
	}
}

func TestAmount_SubNegativeError(t *testing.T) {
	one := asset.NewAmount(asset.WMATIC, big.NewInt(1e18))
	two := asset.NewAmount(asset.WMATIC, big.NewInt(2e18))

	_, err := one.Sub(two)
	if err == nil {
		t.Error("expected error for negative result")
	}
}

func TestParseDecimal(t *testing.T) {
	// Parse "1.5" WETH
	d := decimal.NewFromFloat(1.5)
	amount, err := asset.ParseDecimal(asset.WETH, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Should be 1.5e18 raw units
	expected := big.NewInt(0)
	expected.SetString("1500000000000000000", 10)

	if amount.Raw().Cmp(expected) != 0 {
		t.Errorf("expected %s, got %s", expected.String(), amount.Raw().String())
	}
}

func TestParseDecimal_TooManyDecimals(t *testing.T) {
	// USDC has 6 decimals, try to parse 1.1234567 (7 decimals)
	d := decimal.NewFromFloat(1.1234567)
	_, err := asset.ParseDecimal(asset.USDC, d)
	if err == nil {
		t.Error("expected error for too many decimals")
	}
}

func TestPrice_Convert(t *testing.T) {
	// WETH/USDC price = 2000
	price := asset.NewPriceNow(asset.WETH, asset.USDC, decimal.NewFromInt(2000))

	// 1 WETH
	one := asset.NewAmount(asset.WETH, big.NewInt(1e18))

	// Convert to USDC
	usdc, err := price.Convert(one)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Should be 2000 USDC (2000 * 1e6 = 2e9 raw)
	expectedUSDC := decimal.NewFromInt(2000)
	if !usdc.ToDecimal().Equal(expectedUSDC) {
		t.Errorf("expected %s USDC, got %s", expectedUSDC.String(), usdc.ToDecimal().String())
	}
}

func TestPrice_Invert(t *testing.T) {
	// WETH/USDC = 2000
	price := asset.NewPriceNow(asset.WETH, asset.USDC, decimal.NewFromInt(2000))

	// Invert to USDC/WETH = 0.0005
	inverted := price.Invert()

	expected := decimal.NewFromFloat(0.0005)
	// Allow small precision error
	diff := inverted.Rate().Sub(expected).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.0000001)) {
		t.Errorf("expected ~0.0005, got %s", inverted.Rate().String())
	}
}

func TestAssetID_Identity(t *testing.T) {
	usdc := asset.NewTokenAssetID(137, asset.AddrUSDCPolygon)
	usdc2 := asset.NewTokenAssetID(137, asset.AddrUSDCPolygon)

	if !usdc.Equals(usdc2) {
		t.Error("same asset should have equal IDs")
	}

	// Same address on a different chain is a different asset
	usdcEthereum := asset.NewTokenAssetID(1, asset.AddrUSDCPolygon)

	if usdc.Equals(usdcEthereum) {
		t.Error("different chains should have different IDs")
	}
}

func TestRegistry(t *testing.T) {
	r := asset.DefaultRegistry()

	// Should find the native coin
	pol, ok := r.GetNative(asset.ChainIDPolygon)
	if !ok {
		t.Fatal("POL not found in registry")
	}
	if pol.Symbol() != "POL" {
		t.Errorf("expected POL, got %s", pol.Symbol())
	}

	// Should find USDC by symbol and chain
	usdc, ok := r.GetBySymbolAndChain("USDC", asset.ChainIDPolygon)
	if !ok {
		t.Fatal("USDC not found in registry")
	}
	if usdc.Decimals() != 6 {
		t.Errorf("expected 6 decimals, got %d", usdc.Decimals())
	}
}
