// Package app contains the opportunity evaluator and scan scheduler.
package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	riskDomain "github.com/arbitron/arbitrage-engine/business/risk/domain"
	venuesDomain "github.com/arbitron/arbitrage-engine/business/venues/domain"
)

// QuoteSource is the aggregated quote capability the evaluator consumes.
type QuoteSource interface {
	GetQuotes(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, perVenueTimeout, batchTimeout time.Duration) []venuesDomain.Quote
}

// RiskEvaluator gates opportunities and records outcomes.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, opp *domain.Opportunity) riskDomain.Decision
	RecordTrade(ctx context.Context, result domain.TradeResult)
}

// TradeExecutor submits an approved opportunity. Wired only when execution
// is enabled; the scheduler treats nil as scan-only mode.
type TradeExecutor interface {
	Execute(ctx context.Context, opp *domain.Opportunity) (*domain.TradeResult, error)
}
