// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Venues    VenuesConfig    `mapstructure:"venues"`
	Gas       GasConfig       `mapstructure:"gas"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ChainConfig holds RPC node configuration for the target chain.
type ChainConfig struct {
	HTTPURL      string        `mapstructure:"http_url"`
	WebSocketURL string        `mapstructure:"websocket_url"`
	ChainID      uint64        `mapstructure:"chain_id"`
	RPCTimeout   time.Duration `mapstructure:"rpc_timeout"`
	RateLimitRPM int           `mapstructure:"rate_limit_rpm"`
}

// VenuesConfig holds per-venue contract addresses.
type VenuesConfig struct {
	UniswapV3 UniswapV3Config `mapstructure:"uniswap_v3"`
	QuickSwap V2VenueConfig   `mapstructure:"quickswap"`
	SushiSwap V2VenueConfig   `mapstructure:"sushiswap"`
}

// UniswapV3Config holds Uniswap V3 contract addresses.
type UniswapV3Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	QuoterAddress  string        `mapstructure:"quoter_address"`
	FactoryAddress string        `mapstructure:"factory_address"`
	DefaultFeeTier int           `mapstructure:"default_fee_tier"`
	PoolCacheTTL   time.Duration `mapstructure:"pool_cache_ttl"`
}

// V2VenueConfig holds a Uniswap-V2-family venue's contract addresses.
type V2VenueConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RouterAddress string `mapstructure:"router_address"`
}

// QuoterAddressHex returns the quoter address as common.Address.
func (c *UniswapV3Config) QuoterAddressHex() common.Address {
	return common.HexToAddress(c.QuoterAddress)
}

// FactoryAddressHex returns the factory address as common.Address.
func (c *UniswapV3Config) FactoryAddressHex() common.Address {
	return common.HexToAddress(c.FactoryAddress)
}

// RouterAddressHex returns the router address as common.Address.
func (c *V2VenueConfig) RouterAddressHex() common.Address {
	return common.HexToAddress(c.RouterAddress)
}

// GasConfig holds gas oracle and cost model configuration.
type GasConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	MaxGasPriceGwei  int64         `mapstructure:"max_gas_price_gwei"`
	PriceFeedURL     string        `mapstructure:"price_feed_url"`
	PriceFeedWSURL   string        `mapstructure:"price_feed_ws_url"`
	PriceFeedSymbol  string        `mapstructure:"price_feed_symbol"`
	PriceRefresh     time.Duration `mapstructure:"price_refresh"`
	FallbackPriceUSD float64       `mapstructure:"fallback_price_usd"`
}

// MaxGasPriceWei returns the gas price ceiling in wei.
func (c *GasConfig) MaxGasPriceWei() *big.Int {
	gwei := big.NewInt(c.MaxGasPriceGwei)
	return gwei.Mul(gwei, big.NewInt(1_000_000_000))
}

// ScannerConfig holds opportunity scan configuration.
type ScannerConfig struct {
	Pairs            []string      `mapstructure:"pairs"`
	TradeSize        float64       `mapstructure:"trade_size"`
	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`
	PerVenueTimeout  time.Duration `mapstructure:"per_venue_timeout"`
	BatchTimeout     time.Duration `mapstructure:"batch_timeout"`
	GasCheckTimeout  time.Duration `mapstructure:"gas_check_timeout"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	TopK             int           `mapstructure:"top_k"`
	MinProfitPct     float64       `mapstructure:"min_profit_pct"`
	MaxProfitPct     float64       `mapstructure:"max_profit_pct"`
	OpportunityCap   int           `mapstructure:"opportunity_cap"`
}

// MinProfitPctDecimal returns the profit floor as decimal.Decimal.
func (c *ScannerConfig) MinProfitPctDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinProfitPct)
}

// MaxProfitPctDecimal returns the slippage sanity ceiling as decimal.Decimal.
func (c *ScannerConfig) MaxProfitPctDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxProfitPct)
}

// RiskConfig holds the risk gate limits. Immutable during a run; RiskGate
// replaces its limits struct atomically when UpdateLimits is called.
type RiskConfig struct {
	InitialPortfolioUSD  float64 `mapstructure:"initial_portfolio_usd"`
	DailyLossLimitPct    float64 `mapstructure:"daily_loss_limit_pct"`
	ConsecutiveLossLimit int     `mapstructure:"consecutive_loss_limit"`
	VolatilityThreshold  float64 `mapstructure:"volatility_threshold"`
	GasPriceLimitGwei    float64 `mapstructure:"gas_price_limit_gwei"`
	MaxSlippagePct       float64 `mapstructure:"max_slippage_pct"`
	PositionSizeLimitPct float64 `mapstructure:"position_size_limit_pct"`
	DrawdownLimitPct     float64 `mapstructure:"drawdown_limit_pct"`
	HourlyTradeLimit     int     `mapstructure:"hourly_trade_limit"`
	HistoryCap           int     `mapstructure:"history_cap"`
}

// ExecutionConfig holds MEV protection settings.
type ExecutionConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	SenderAddress      string        `mapstructure:"sender_address"`
	PrivateKey         string        `mapstructure:"private_key"`
	ContractAddress    string        `mapstructure:"contract_address"`
	MinSubmitDelay     time.Duration `mapstructure:"min_submit_delay"`
	MaxSubmitDelay     time.Duration `mapstructure:"max_submit_delay"`
	GasPremiumMinPct   int           `mapstructure:"gas_premium_min_pct"`
	GasPremiumMaxPct   int           `mapstructure:"gas_premium_max_pct"`
	GasPriceCapGwei    int64         `mapstructure:"gas_price_cap_gwei"`
	PrivateRelays      []string      `mapstructure:"private_relays"`
	UsePrivateRelays   bool          `mapstructure:"use_private_relays"`
	ScreenMempool      bool          `mapstructure:"screen_mempool"`
}

// SenderAddressHex returns the sender address as common.Address.
func (c *ExecutionConfig) SenderAddressHex() common.Address {
	return common.HexToAddress(c.SenderAddress)
}

// GasPriceCapWei returns the absolute gas price cap in wei.
func (c *ExecutionConfig) GasPriceCapWei() *big.Int {
	gwei := big.NewInt(c.GasPriceCapGwei)
	return gwei.Mul(gwei, big.NewInt(1_000_000_000))
}

// ContractAddressHex returns the executor contract address as common.Address.
func (c *ExecutionConfig) ContractAddressHex() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
	HealthPort     int    `mapstructure:"health_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("ARB")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")

	// Chain
	v.BindEnv("chain.http_url", "ARB_CHAIN_HTTP_URL", "CHAIN_HTTP_URL")
	v.BindEnv("chain.websocket_url", "ARB_CHAIN_WS_URL", "CHAIN_WS_URL")
	v.BindEnv("chain.chain_id", "ARB_CHAIN_ID", "CHAIN_ID")

	// Venues
	v.BindEnv("venues.uniswap_v3.quoter_address", "ARB_UNIV3_QUOTER")
	v.BindEnv("venues.uniswap_v3.factory_address", "ARB_UNIV3_FACTORY")
	v.BindEnv("venues.quickswap.router_address", "ARB_QUICKSWAP_ROUTER")
	v.BindEnv("venues.sushiswap.router_address", "ARB_SUSHISWAP_ROUTER")

	// Scanner
	v.BindEnv("scanner.pairs", "ARB_PAIRS")
	v.BindEnv("scanner.trade_size", "ARB_TRADE_SIZE")
	v.BindEnv("scanner.min_profit_pct", "ARB_MIN_PROFIT_PCT")

	// Execution
	v.BindEnv("execution.sender_address", "ARB_SENDER_ADDRESS")
	v.BindEnv("execution.private_relays", "ARB_PRIVATE_RELAYS")

	// Telemetry
	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "arbitrage-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Chain defaults (Polygon mainnet)
	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.rpc_timeout", "5s")
	v.SetDefault("chain.rate_limit_rpm", 600)

	// Venue defaults (Polygon mainnet deployments)
	v.SetDefault("venues.uniswap_v3.enabled", true)
	v.SetDefault("venues.uniswap_v3.quoter_address", "0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	v.SetDefault("venues.uniswap_v3.factory_address", "0x1F98431c8aD98523631AE4a59f267346ea31F984")
	v.SetDefault("venues.uniswap_v3.default_fee_tier", 3000) // 0.3%
	v.SetDefault("venues.uniswap_v3.pool_cache_ttl", "5m")
	v.SetDefault("venues.quickswap.enabled", true)
	v.SetDefault("venues.quickswap.router_address", "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
	v.SetDefault("venues.sushiswap.enabled", true)
	v.SetDefault("venues.sushiswap.router_address", "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")

	// Gas defaults
	v.SetDefault("gas.cache_ttl", "3s") // ~Polygon block time
	v.SetDefault("gas.max_gas_price_gwei", 500)
	v.SetDefault("gas.price_feed_url", "https://api.binance.com")
	v.SetDefault("gas.price_feed_ws_url", "wss://stream.binance.com:9443")
	v.SetDefault("gas.price_feed_symbol", "POLUSDT")
	v.SetDefault("gas.price_refresh", "30s")
	v.SetDefault("gas.fallback_price_usd", 0.40)

	// Scanner defaults
	v.SetDefault("scanner.pairs", []string{"USDC-WMATIC", "USDC-WETH"})
	v.SetDefault("scanner.trade_size", 1000)
	v.SetDefault("scanner.scan_interval", "10s")
	v.SetDefault("scanner.scan_timeout", "30s")
	v.SetDefault("scanner.per_venue_timeout", "3s")
	v.SetDefault("scanner.batch_timeout", "8s")
	v.SetDefault("scanner.gas_check_timeout", "2s")
	v.SetDefault("scanner.max_concurrent", 3)
	v.SetDefault("scanner.top_k", 5)
	v.SetDefault("scanner.min_profit_pct", 0.01) // sub-basis-point results are noise
	v.SetDefault("scanner.max_profit_pct", 10)
	v.SetDefault("scanner.opportunity_cap", 100)

	// Risk defaults
	v.SetDefault("risk.initial_portfolio_usd", 10000)
	v.SetDefault("risk.daily_loss_limit_pct", 5)
	v.SetDefault("risk.consecutive_loss_limit", 5)
	v.SetDefault("risk.volatility_threshold", 0.05)
	v.SetDefault("risk.gas_price_limit_gwei", 300)
	v.SetDefault("risk.max_slippage_pct", 3)
	v.SetDefault("risk.position_size_limit_pct", 20)
	v.SetDefault("risk.drawdown_limit_pct", 15)
	v.SetDefault("risk.hourly_trade_limit", 20)
	v.SetDefault("risk.history_cap", 1000)

	// Execution defaults
	v.SetDefault("execution.enabled", false)
	v.SetDefault("execution.min_submit_delay", "50ms")
	v.SetDefault("execution.max_submit_delay", "500ms")
	v.SetDefault("execution.gas_premium_min_pct", 5)
	v.SetDefault("execution.gas_premium_max_pct", 15)
	v.SetDefault("execution.gas_price_cap_gwei", 1000)
	v.SetDefault("execution.use_private_relays", false)
	v.SetDefault("execution.screen_mempool", true)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "arbitrage-engine")
	v.SetDefault("telemetry.prometheus_port", 9090)
	v.SetDefault("telemetry.health_port", 8081)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Chain.HTTPURL == "" {
		return fmt.Errorf("chain.http_url is required")
	}
	if c.Venues.UniswapV3.Enabled && !common.IsHexAddress(c.Venues.UniswapV3.QuoterAddress) {
		return fmt.Errorf("invalid venues.uniswap_v3.quoter_address: %s", c.Venues.UniswapV3.QuoterAddress)
	}
	if c.Venues.UniswapV3.Enabled && !common.IsHexAddress(c.Venues.UniswapV3.FactoryAddress) {
		return fmt.Errorf("invalid venues.uniswap_v3.factory_address: %s", c.Venues.UniswapV3.FactoryAddress)
	}
	if c.Venues.QuickSwap.Enabled && !common.IsHexAddress(c.Venues.QuickSwap.RouterAddress) {
		return fmt.Errorf("invalid venues.quickswap.router_address: %s", c.Venues.QuickSwap.RouterAddress)
	}
	if c.Venues.SushiSwap.Enabled && !common.IsHexAddress(c.Venues.SushiSwap.RouterAddress) {
		return fmt.Errorf("invalid venues.sushiswap.router_address: %s", c.Venues.SushiSwap.RouterAddress)
	}
	if len(c.Scanner.Pairs) == 0 {
		return fmt.Errorf("scanner.pairs cannot be empty")
	}
	if c.Scanner.TradeSize <= 0 {
		return fmt.Errorf("scanner.trade_size must be positive")
	}
	if c.Scanner.MaxConcurrent < 1 {
		return fmt.Errorf("scanner.max_concurrent must be at least 1")
	}
	if c.Risk.ConsecutiveLossLimit < 1 {
		return fmt.Errorf("risk.consecutive_loss_limit must be at least 1")
	}
	if c.Risk.HistoryCap < 1 {
		return fmt.Errorf("risk.history_cap must be at least 1")
	}
	if c.Execution.MinSubmitDelay > c.Execution.MaxSubmitDelay {
		return fmt.Errorf("execution.min_submit_delay exceeds max_submit_delay")
	}
	if c.Execution.GasPremiumMinPct > c.Execution.GasPremiumMaxPct {
		return fmt.Errorf("execution.gas_premium_min_pct exceeds gas_premium_max_pct")
	}
	if c.Execution.UsePrivateRelays && len(c.Execution.PrivateRelays) == 0 {
		return fmt.Errorf("execution.private_relays cannot be empty when use_private_relays is set")
	}
	if c.Execution.Enabled {
		if c.Execution.PrivateKey == "" {
			return fmt.Errorf("execution.private_key is required when execution is enabled")
		}
		if !common.IsHexAddress(c.Execution.ContractAddress) {
			return fmt.Errorf("invalid execution.contract_address: %s", c.Execution.ContractAddress)
		}
	}
	return nil
}
