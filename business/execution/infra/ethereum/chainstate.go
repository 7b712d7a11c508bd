// Package ethereum implements the execution context's node adapters: chain
// state reads and transaction submission.
package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/execution/app"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/circuitbreaker"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	chainStateTracer = "chain-state"
	chainStateMeter  = "chain-state"
)

// Ensure ChainState implements the port.
var _ app.ChainState = (*ChainState)(nil)

type chainStateMetrics struct {
	nonceReads     metric.Int64Counter
	txpoolReads    metric.Int64Counter
	txpoolFailures metric.Int64Counter
}

// ChainState reads submission-relevant state from the node. The txpool read
// uses the raw RPC client because ethclient has no binding for it, and many
// hosted nodes disable the endpoint entirely.
type ChainState struct {
	client *ethclient.Client
	rpc    *rpc.Client

	nonceCB *circuitbreaker.CircuitBreaker[uint64]

	// Set after the first txpool_content rejection so every later screen
	// short-circuits instead of re-asking a node that already said no.
	txpoolUnsupported atomic.Bool

	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *chainStateMetrics
}

// NewChainState creates a ChainState over an already-connected client.
func NewChainState(client *ethclient.Client, log logger.LoggerInterface) (*ChainState, error) {
	c := &ChainState{
		client:  client,
		rpc:     client.Client(),
		nonceCB: circuitbreaker.New[uint64](circuitbreaker.DefaultConfig("chain-state-nonce")),
		logger:  log,
		tracer:  otel.Tracer(chainStateTracer),
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ChainState) initMetrics() error {
	meter := otel.Meter(chainStateMeter)
	var err error

	c.metrics = &chainStateMetrics{}

	c.metrics.nonceReads, err = meter.Int64Counter(
		"nonce_reads_total",
		metric.WithDescription("Pending nonce reads"),
	)
	if err != nil {
		return err
	}

	c.metrics.txpoolReads, err = meter.Int64Counter(
		"txpool_reads_total",
		metric.WithDescription("txpool_content reads"),
	)
	if err != nil {
		return err
	}

	c.metrics.txpoolFailures, err = meter.Int64Counter(
		"txpool_failures_total",
		metric.WithDescription("txpool_content reads that failed"),
	)
	return err
}

// PendingNonce returns sender's pending-inclusive nonce.
func (c *ChainState) PendingNonce(ctx context.Context, sender common.Address) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "chainstate.pending_nonce")
	defer span.End()

	c.metrics.nonceReads.Add(ctx, 1)

	nonce, err := c.nonceCB.Execute(func() (uint64, error) {
		return c.client.PendingNonceAt(ctx, sender)
	})
	if err != nil {
		return 0, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext("PendingNonceAt"),
		)
	}
	return nonce, nil
}

// rpcPendingTx is the slice of the txpool_content response we consume.
type rpcPendingTx struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Input    hexutil.Bytes   `json:"input"`
}

// PendingTransactions returns the node's pending pool, flattened. Nodes that
// disable txpool_content yield CodeMempoolUnsupported; callers degrade to
// submitting without a mempool signal.
func (c *ChainState) PendingTransactions(ctx context.Context) ([]domain.PendingTx, error) {
	ctx, span := c.tracer.Start(ctx, "chainstate.pending_transactions")
	defer span.End()

	if c.txpoolUnsupported.Load() {
		return nil, apperror.New(apperror.CodeMempoolUnsupported)
	}

	c.metrics.txpoolReads.Add(ctx, 1)

	// address -> nonce -> tx
	var content struct {
		Pending map[string]map[string]*rpcPendingTx `json:"pending"`
	}
	if err := c.rpc.CallContext(ctx, &content, "txpool_content"); err != nil {
		c.metrics.txpoolFailures.Add(ctx, 1)
		if isMethodNotFound(err) {
			c.txpoolUnsupported.Store(true)
			c.logger.Info(ctx, "node does not support txpool_content, disabling mempool reads")
			return nil, apperror.New(apperror.CodeMempoolUnsupported, apperror.WithCause(err))
		}
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext("txpool_content"),
		)
	}

	var out []domain.PendingTx
	for _, byNonce := range content.Pending {
		for _, tx := range byNonce {
			if tx == nil {
				continue
			}
			p := domain.PendingTx{
				Hash:  tx.Hash,
				From:  tx.From,
				To:    tx.To,
				Input: tx.Input,
			}
			if tx.GasPrice != nil {
				p.GasPrice = (*big.Int)(tx.GasPrice)
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32601 {
		return true
	}
	return strings.Contains(err.Error(), "method not found") ||
		strings.Contains(err.Error(), "does not exist")
}
