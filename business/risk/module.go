// Package risk implements the risk gating bounded context.
package risk

import (
	"context"

	"github.com/arbitron/arbitrage-engine/business/risk/app"
	riskDI "github.com/arbitron/arbitrage-engine/business/risk/di"
	"github.com/arbitron/arbitrage-engine/business/risk/domain"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/di"
	"github.com/arbitron/arbitrage-engine/internal/events"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/monolith"
)

// Module implements the risk bounded context.
type Module struct{}

// RegisterServices registers the risk gate with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, riskDI.RiskGate, func(sr di.ServiceRegistry) *app.Gate {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		bus := sr.Get("eventBus").(*events.Bus)

		limits := domain.LimitsFromConfig(cfg.Risk)
		gate, err := app.NewGate(limits, bus, log)
		if err != nil {
			panic("failed to create risk gate: " + err.Error())
		}
		return gate
	})

	return nil
}

// Startup initializes the risk module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	gate := riskDI.GetRiskGate(mono.Services())
	metrics, _ := gate.Snapshot()

	mono.Logger().Info(ctx, "risk module started",
		"portfolio_usd", metrics.PortfolioValue.StringFixed(2),
	)
	return nil
}
