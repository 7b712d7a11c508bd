// Package app contains the execution protector, nonce manager and the trade
// executor that the scan scheduler drives.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	arbitrageDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
)

// ChainState reads node-side submission state. PendingTransactions may fail
// with CodeMempoolUnsupported on nodes that do not expose their pool; callers
// must treat that as "no signal", not as an error.
type ChainState interface {
	PendingNonce(ctx context.Context, sender common.Address) (uint64, error)
	PendingTransactions(ctx context.Context) ([]domain.PendingTx, error)
}

// TradeSubmitter signs and submits one opportunity under a plan, blocking
// until the transaction is mined or ctx expires.
type TradeSubmitter interface {
	Submit(ctx context.Context, opp *arbitrageDomain.Opportunity, plan *domain.Plan) (*domain.SubmissionResult, error)
}
