package asset

import "github.com/ethereum/go-ethereum/common"

// Chain IDs
const (
	ChainIDEthereum = 1
	ChainIDPolygon  = 137
	ChainIDArbitrum = 42161
	ChainIDOptimism = 10
	ChainIDBase     = 8453
	ChainIDFiat     = 0 // Off-chain / fiat
)

// Well-known token addresses on Polygon Mainnet
var (
	// Stablecoins
	AddrUSDCPolygon = common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	AddrUSDTPolygon = common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	AddrDAIPolygon  = common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")

	// Wrapped
	AddrWMATICPolygon = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	AddrWETHPolygon   = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
	AddrWBTCPolygon   = common.HexToAddress("0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6")
)

// Well-known AssetIDs
var (
	// Polygon Mainnet
	IDPolygonPOL    = NewNativeAssetID(ChainIDPolygon)
	IDPolygonUSDC   = NewTokenAssetID(ChainIDPolygon, AddrUSDCPolygon)
	IDPolygonUSDT   = NewTokenAssetID(ChainIDPolygon, AddrUSDTPolygon)
	IDPolygonDAI    = NewTokenAssetID(ChainIDPolygon, AddrDAIPolygon)
	IDPolygonWMATIC = NewTokenAssetID(ChainIDPolygon, AddrWMATICPolygon)
	IDPolygonWETH   = NewTokenAssetID(ChainIDPolygon, AddrWETHPolygon)
	IDPolygonWBTC   = NewTokenAssetID(ChainIDPolygon, AddrWBTCPolygon)

	// Fiat
	IDUSD = NewFiatAssetID("USD")
)

// Well-known Assets (pre-created instances)
var (
	// Polygon Mainnet
	POL    = NewAssetWithName(IDPolygonPOL, "POL", "Polygon Ecosystem Token", 18)
	USDC   = NewAssetWithName(IDPolygonUSDC, "USDC", "USD Coin", 6)
	USDT   = NewAssetWithName(IDPolygonUSDT, "USDT", "Tether USD", 6)
	DAI    = NewAssetWithName(IDPolygonDAI, "DAI", "Dai Stablecoin", 18)
	WMATIC = NewAssetWithName(IDPolygonWMATIC, "WMATIC", "Wrapped Matic", 18)
	WETH   = NewAssetWithName(IDPolygonWETH, "WETH", "Wrapped Ether", 18)
	WBTC   = NewAssetWithName(IDPolygonWBTC, "WBTC", "Wrapped Bitcoin", 8)

	// Fiat
	USD = NewAssetWithName(IDUSD, "USD", "US Dollar", 2)
)

// DefaultRegistry returns a registry pre-populated with well-known assets.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Polygon Mainnet
	r.Register(POL)
	r.Register(USDC)
	r.Register(USDT)
	r.Register(DAI)
	r.Register(WMATIC)
	r.Register(WETH)
	r.Register(WBTC)

	// Fiat
	r.Register(USD)

	return r
}

// MustNewToken creates a new ERC20 token asset with the given parameters.
// This is a convenience function for registering custom tokens.
func MustNewToken(chainID uint64, address common.Address, symbol, name string, decimals uint8) *Asset {
	id := NewTokenAssetID(chainID, address)
	return NewAssetWithName(id, symbol, name, decimals)
}

// MustNewNative creates a new native coin asset.
func MustNewNative(chainID uint64, symbol, name string, decimals uint8) *Asset {
	id := NewNativeAssetID(chainID)
	return NewAssetWithName(id, symbol, name, decimals)
}
