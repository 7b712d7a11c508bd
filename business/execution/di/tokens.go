// Package di contains dependency injection tokens for the execution context.
package di

import (
	"github.com/arbitron/arbitrage-engine/business/execution/app"
	"github.com/arbitron/arbitrage-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Executor = di.NewToken[*app.Executor]("execution.Executor")
)

// Private dependency tokens - internal to execution module
var (
	ChainState = di.NewToken[app.ChainState]("execution:chainState")
	Submitter  = di.NewToken[app.TradeSubmitter]("execution:submitter")
	Protector  = di.NewToken[*app.Protector]("execution:protector")
)

// Helper functions for type-safe access
func GetExecutor(c di.ServiceRegistry) *app.Executor {
	return di.GetToken(c, Executor)
}

func GetChainState(c di.ServiceRegistry) app.ChainState {
	return di.GetToken(c, ChainState)
}

func GetSubmitter(c di.ServiceRegistry) app.TradeSubmitter {
	return di.GetToken(c, Submitter)
}

func GetProtector(c di.ServiceRegistry) *app.Protector {
	return di.GetToken(c, Protector)
}
