package ethereum

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	arbitrageDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/execution/app"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const submitterTracer = "trade-submitter"

// fallbackGasLimit is used when the opportunity carries no gas estimate.
const fallbackGasLimit = 1_000_000

// ExecutorContractABI is the on-chain arbitrage executor's entrypoint. The
// contract holds the venue registry, takes the flash loan, runs both swaps
// and reverts unless the round trip returns at least minReturn.
const ExecutorContractABI = `[{"inputs":[{"internalType":"bytes32","name":"buyVenue","type":"bytes32"},{"internalType":"bytes32","name":"sellVenue","type":"bytes32"},{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"minReturn","type":"uint256"}],"name":"executeArbitrage","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Ensure Submitter implements the port.
var _ app.TradeSubmitter = (*Submitter)(nil)

// Submitter signs executor-contract calls and submits them, either to the
// public mempool or to the plan's private relay.
type Submitter struct {
	client   *ethclient.Client
	chainID  *big.Int
	contract common.Address
	key      *ecdsa.PrivateKey
	sender   common.Address
	abi      abi.ABI

	relayMu sync.Mutex
	relays  map[string]*rpc.Client

	logger logger.LoggerInterface
	tracer trace.Tracer
}

// NewSubmitter creates a Submitter. privateKeyHex must be the sender's key
// without the 0x prefix.
func NewSubmitter(client *ethclient.Client, chainID uint64, contract common.Address, privateKeyHex string, log logger.LoggerInterface) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithCause(err),
			apperror.WithContext("execution private key"),
		)
	}

	parsed, err := abi.JSON(strings.NewReader(ExecutorContractABI))
	if err != nil {
		return nil, err
	}

	return &Submitter{
		client:   client,
		chainID:  new(big.Int).SetUint64(chainID),
		contract: contract,
		key:      key,
		sender:   crypto.PubkeyToAddress(key.PublicKey),
		abi:      parsed,
		relays:   make(map[string]*rpc.Client),
		logger:   log,
		tracer:   otel.Tracer(submitterTracer),
	}, nil
}

// Sender returns the address transactions are signed with.
func (s *Submitter) Sender() common.Address {
	return s.sender
}

// Submit signs the executor call under plan and blocks until it is mined.
func (s *Submitter) Submit(ctx context.Context, opp *arbitrageDomain.Opportunity, plan *domain.Plan) (*domain.SubmissionResult, error) {
	ctx, span := s.tracer.Start(ctx, "submitter.submit",
		trace.WithAttributes(
			attribute.String("opportunity", opp.ID),
			attribute.Bool("private_relay", plan.Private()),
		))
	defer span.End()

	tx, err := s.buildTx(opp, plan)
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, tx, plan.Relay); err != nil {
		return nil, apperror.New(apperror.CodeSubmissionFailed,
			apperror.WithCause(err),
			apperror.WithContext("tx "+tx.Hash().Hex()),
		)
	}

	s.logger.Info(ctx, "transaction submitted",
		"tx", tx.Hash().Hex(),
		"nonce", plan.Nonce,
		"private", plan.Private(),
	)

	receipt, err := bind.WaitMined(ctx, s.client, tx)
	if err != nil {
		return nil, apperror.New(apperror.CodeSubmissionFailed,
			apperror.WithCause(err),
			apperror.WithContext("waiting for receipt of "+tx.Hash().Hex()),
		)
	}

	return &domain.SubmissionResult{
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

func (s *Submitter) buildTx(opp *arbitrageDomain.Opportunity, plan *domain.Plan) (*types.Transaction, error) {
	// minReturn = amountIn: the contract reverts unless the round trip at
	// least breaks even, and gas is already priced into the go decision.
	input, err := s.abi.Pack("executeArbitrage",
		venueID(opp.BuyVenue),
		venueID(opp.SellVenue),
		opp.TokenA.Address(),
		opp.TokenB.Address(),
		opp.AmountIn.Raw(),
		opp.AmountIn.Raw(),
	)
	if err != nil {
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext("packing executeArbitrage"),
		)
	}

	gasLimit := uint64(fallbackGasLimit)
	if opp.GasCost != nil && opp.GasCost.TotalGas > 0 {
		gasLimit = opp.GasCost.TotalGas
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    plan.Nonce,
		To:       &s.contract,
		Gas:      gasLimit,
		GasPrice: plan.GasPrice,
		Data:     input,
	})

	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}

// send routes the signed tx to the public mempool or the chosen relay.
func (s *Submitter) send(ctx context.Context, tx *types.Transaction, relay string) error {
	if relay == "" {
		return s.client.SendTransaction(ctx, tx)
	}

	client, err := s.relayClient(ctx, relay)
	if err != nil {
		return apperror.New(apperror.CodeRelayUnavailable,
			apperror.WithCause(err),
			apperror.WithContext(relay),
		)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return err
	}

	var txHash common.Hash
	return client.CallContext(ctx, &txHash, "eth_sendRawTransaction", hexutil.Encode(raw))
}

func (s *Submitter) relayClient(ctx context.Context, relay string) (*rpc.Client, error) {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()

	if client, ok := s.relays[relay]; ok {
		return client, nil
	}
	client, err := rpc.DialContext(ctx, relay)
	if err != nil {
		return nil, err
	}
	s.relays[relay] = client
	return client, nil
}

// venueID packs a venue name into the bytes32 key the contract registry uses.
func venueID(name string) [32]byte {
	var id [32]byte
	copy(id[:], name)
	return id
}
