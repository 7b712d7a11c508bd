package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ARB_CHAIN_HTTP_URL", "https://polygon-rpc.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Chain.ChainID != 137 {
		t.Errorf("chain id = %d, want 137", cfg.Chain.ChainID)
	}
	if cfg.Scanner.MaxConcurrent != 3 {
		t.Errorf("max_concurrent = %d, want 3", cfg.Scanner.MaxConcurrent)
	}
	if cfg.Scanner.TopK != 5 {
		t.Errorf("top_k = %d, want 5", cfg.Scanner.TopK)
	}
	if cfg.Risk.ConsecutiveLossLimit != 5 {
		t.Errorf("consecutive_loss_limit = %d, want 5", cfg.Risk.ConsecutiveLossLimit)
	}
	if cfg.Risk.HistoryCap != 1000 {
		t.Errorf("history_cap = %d, want 1000", cfg.Risk.HistoryCap)
	}
	if cfg.Execution.GasPremiumMinPct != 5 || cfg.Execution.GasPremiumMaxPct != 15 {
		t.Errorf("gas premium range = [%d,%d], want [5,15]",
			cfg.Execution.GasPremiumMinPct, cfg.Execution.GasPremiumMaxPct)
	}
	if cfg.Scanner.ScanInterval != 10*time.Second {
		t.Errorf("scan_interval = %s, want 10s", cfg.Scanner.ScanInterval)
	}
}

func TestLoad_MissingRPCURL(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when chain.http_url is missing")
	}
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Helper()
		t.Setenv("ARB_CHAIN_HTTP_URL", "https://polygon-rpc.example")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	t.Run("bad_quoter_address", func(t *testing.T) {
		cfg := base(t)
		cfg.Venues.UniswapV3.QuoterAddress = "not-an-address"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("empty_pairs", func(t *testing.T) {
		cfg := base(t)
		cfg.Scanner.Pairs = nil
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("inverted_delay_window", func(t *testing.T) {
		cfg := base(t)
		cfg.Execution.MinSubmitDelay = time.Second
		cfg.Execution.MaxSubmitDelay = time.Millisecond
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("relays_required_when_enabled", func(t *testing.T) {
		cfg := base(t)
		cfg.Execution.UsePrivateRelays = true
		cfg.Execution.PrivateRelays = nil
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("mev_gas_price_cap", func(t *testing.T) {
		cfg := base(t)
		if cfg.Execution.GasPriceCapWei().String() != "1000000000000" {
			t.Errorf("cap wei = %s, want 1000000000000", cfg.Execution.GasPriceCapWei())
		}
	})
}
