// Package di contains dependency injection tokens for the arbitrage context.
package di

import (
	"github.com/arbitron/arbitrage-engine/business/arbitrage/app"
	"github.com/arbitron/arbitrage-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Evaluator = di.NewToken[*app.Evaluator]("arbitrage.Evaluator")
	Scheduler = di.NewToken[*app.Scheduler]("arbitrage.Scheduler")
)

// Helper functions for type-safe access
func GetEvaluator(c di.ServiceRegistry) *app.Evaluator {
	return di.GetToken(c, Evaluator)
}

func GetScheduler(c di.ServiceRegistry) *app.Scheduler {
	return di.GetToken(c, Scheduler)
}
