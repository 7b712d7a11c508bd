// Package di contains dependency injection tokens for the risk context.
package di

import (
	"github.com/arbitron/arbitrage-engine/business/risk/app"
	"github.com/arbitron/arbitrage-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	RiskGate = di.NewToken[*app.Gate]("risk.RiskGate")
)

// Helper functions for type-safe access
func GetRiskGate(c di.ServiceRegistry) *app.Gate {
	return di.GetToken(c, RiskGate)
}
