// Package execution implements the MEV-protected trade execution bounded
// context.
package execution

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arbitron/arbitrage-engine/business/execution/app"
	executionDI "github.com/arbitron/arbitrage-engine/business/execution/di"
	"github.com/arbitron/arbitrage-engine/business/execution/infra/ethereum"
	gasDI "github.com/arbitron/arbitrage-engine/business/gas/di"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/di"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/monolith"
)

// Module implements the execution bounded context.
type Module struct{}

// RegisterServices registers all execution services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, executionDI.ChainState, func(sr di.ServiceRegistry) app.ChainState {
		log := sr.Get("logger").(logger.LoggerInterface)
		ethClient := sr.Get("ethClient").(*ethclient.Client)

		state, err := ethereum.NewChainState(ethClient, log)
		if err != nil {
			panic("failed to create chain state: " + err.Error())
		}
		return state
	})

	di.RegisterToken(c, executionDI.Submitter, func(sr di.ServiceRegistry) app.TradeSubmitter {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		ethClient := sr.Get("ethClient").(*ethclient.Client)

		submitter, err := ethereum.NewSubmitter(
			ethClient,
			cfg.Chain.ChainID,
			cfg.Execution.ContractAddressHex(),
			cfg.Execution.PrivateKey,
			log,
		)
		if err != nil {
			panic("failed to create trade submitter: " + err.Error())
		}
		return submitter
	})

	di.RegisterToken(c, executionDI.Protector, func(sr di.ServiceRegistry) *app.Protector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		chain := executionDI.GetChainState(sr)
		gasOracle := gasDI.GetGasOracle(sr)

		pcfg := app.ProtectorConfig{
			Sender:           cfg.Execution.SenderAddressHex(),
			MinDelay:         cfg.Execution.MinSubmitDelay,
			MaxDelay:         cfg.Execution.MaxSubmitDelay,
			GasPremiumMinPct: cfg.Execution.GasPremiumMinPct,
			GasPremiumMaxPct: cfg.Execution.GasPremiumMaxPct,
			GasPriceCap:      cfg.Execution.GasPriceCapWei(),
			Relays:           cfg.Execution.PrivateRelays,
			UseRelays:        cfg.Execution.UsePrivateRelays,
			ScreenMempool:    cfg.Execution.ScreenMempool,
		}

		protector, err := app.NewProtector(pcfg, app.NewNonceManager(chain), gasOracle, chain, log)
		if err != nil {
			panic("failed to create execution protector: " + err.Error())
		}
		return protector
	})

	di.RegisterToken(c, executionDI.Executor, func(sr di.ServiceRegistry) *app.Executor {
		log := sr.Get("logger").(logger.LoggerInterface)

		executor, err := app.NewExecutor(
			executionDI.GetProtector(sr),
			executionDI.GetSubmitter(sr),
			log,
		)
		if err != nil {
			panic("failed to create trade executor: " + err.Error())
		}
		return executor
	})

	return nil
}

// Startup initializes the execution module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	if !cfg.Execution.Enabled {
		mono.Logger().Info(ctx, "execution disabled, running scan-only")
		return nil
	}

	// Resolve eagerly so a bad key or contract address fails startup, not
	// the first live trade.
	executionDI.GetExecutor(mono.Services())

	mono.Logger().Info(ctx, "execution module started",
		"sender", cfg.Execution.SenderAddress,
		"private_relays", len(cfg.Execution.PrivateRelays),
		"screen_mempool", cfg.Execution.ScreenMempool,
	)
	return nil
}
