package app

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitron/arbitrage-engine/internal/apperror"
)

// NonceManager hands out strictly increasing nonces per sender. Concurrent
// submissions race the node's pending count, so each assignment takes the
// max of the chain's pending nonce and the local counter under one mutex.
type NonceManager struct {
	mu    sync.Mutex
	next  map[common.Address]uint64
	chain ChainState
}

// NewNonceManager creates a NonceManager backed by chain.
func NewNonceManager(chain ChainState) *NonceManager {
	return &NonceManager{
		next:  make(map[common.Address]uint64),
		chain: chain,
	}
}

// Next assigns the next nonce for sender. Two concurrent callers always
// receive distinct, sequential values.
func (m *NonceManager) Next(ctx context.Context, sender common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.chain.PendingNonce(ctx, sender)
	if err != nil {
		return 0, apperror.New(apperror.CodeNonceAssignmentFailed,
			apperror.WithCause(err),
			apperror.WithContext("sender "+sender.Hex()),
		)
	}

	n := pending
	if local, ok := m.next[sender]; ok && local > n {
		n = local
	}
	m.next[sender] = n + 1
	return n, nil
}

// Release drops the local counter for sender so the next assignment falls
// back to the chain's pending count. Called after a failed submission, where
// the reserved nonce never reached the node.
func (m *NonceManager) Release(sender common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.next, sender)
}
