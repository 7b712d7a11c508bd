// Package domain contains the execution context's core types: submission
// plans, mempool signals and submission results.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MempoolSignal is the advisory result of screening pending transactions
// before submitting. Screened is false when the node does not expose its
// transaction pool; the plan still proceeds in that case.
type MempoolSignal struct {
	Screened          bool
	SuspectedSandwich bool
	CompetingTxs      int
}

// Plan is everything the protector decided about one submission: when to
// send, at what price, with which nonce, and through which door.
type Plan struct {
	Nonce      uint64
	GasPrice   *big.Int // premium-adjusted and capped
	PremiumPct int
	Delay      time.Duration
	Relay      string // empty means the public mempool
	Mempool    MempoolSignal
	CreatedAt  time.Time
}

// Private reports whether the plan routes through a private relay.
func (p *Plan) Private() bool {
	return p.Relay != ""
}

// String returns a one-line summary for logs.
func (p *Plan) String() string {
	route := "public"
	if p.Private() {
		route = p.Relay
	}
	return fmt.Sprintf("nonce %d, gas %s wei (+%d%%), delay %s, via %s",
		p.Nonce, p.GasPrice.String(), p.PremiumPct, p.Delay, route)
}

// PendingTx is the slice of a mempool transaction the sandwich screen needs.
type PendingTx struct {
	Hash     common.Hash
	From     common.Address
	To       *common.Address
	GasPrice *big.Int
	Input    []byte
}

// Selector returns the 4-byte function selector, or false for plain sends.
func (t PendingTx) Selector() ([4]byte, bool) {
	var sel [4]byte
	if len(t.Input) < 4 {
		return sel, false
	}
	copy(sel[:], t.Input[:4])
	return sel, true
}

// SubmissionResult is the on-chain outcome of one submitted transaction.
type SubmissionResult struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}
