package ethereum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const backendLabel = "evm"

// Backend is the subset of *ethclient.Client the gateway uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Config configures a Gateway.
type Config struct {
	Contract       common.Address
	ChainID        *big.Int // nil asks the backend
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Gateway writes memos to and reads them from the memo board contract.
type Gateway struct {
	backend  Backend
	approver Approver
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int

	confirmTimeout time.Duration
	pollInterval   time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ memo.Gateway = (*Gateway)(nil)

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// NewGateway creates a gateway. When cfg.ChainID is nil the chain id is read
// from the backend. m may be nil.
func NewGateway(ctx context.Context, backend Backend, approver Approver, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}

	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}

	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	logger.Info("EVM gateway initialized",
		"contract", cfg.Contract.Hex(),
		"chain_id", chainID.String(),
		"from", approver.Address().Hex(),
	)

	return &Gateway{
		backend:        backend,
		approver:       approver,
		abi:            parsed,
		contract:       cfg.Contract,
		chainID:        chainID,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         logger,
		metrics:        m,
	}, nil
}

// SubmitWrite encodes the call and runs approval, broadcast and confirmation
// in the background. Encoding errors are returned directly.
func (g *Gateway) SubmitWrite(ctx context.Context, req memo.WriteRequest) (<-chan memo.StageEvent, error) {
	data, err := g.abi.Pack(methodWrite, req.DisplayName, req.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", methodWrite, err)
	}

	stages := make(chan memo.StageEvent, 3)
	go g.run(ctx, req, data, stages)
	return stages, nil
}

func (g *Gateway) run(ctx context.Context, req memo.WriteRequest, data []byte, stages chan<- memo.StageEvent) {
	defer close(stages)

	start := time.Now()
	tx, err := g.buildTx(ctx, req.Value, data)
	if err != nil {
		g.record("build_tx", start, err)
		stages <- memo.StageEvent{Stage: memo.StageFailed, Err: err}
		return
	}

	signed, err := g.approver.Approve(ctx, tx, g.chainID)
	if err != nil {
		g.logger.WarnContext(ctx, "write not approved", "handle", req.Handle, "error", err)
		stages <- memo.StageEvent{Stage: memo.StageFailed, Err: err}
		return
	}

	start = time.Now()
	err = g.backend.SendTransaction(ctx, signed)
	g.record("send_transaction", start, err)
	if err != nil {
		stages <- memo.StageEvent{Stage: memo.StageFailed, Err: fmt.Errorf("failed to send transaction: %w", err)}
		return
	}

	hash := signed.Hash()
	g.logger.InfoContext(ctx, "transaction broadcast",
		"handle", req.Handle,
		"tx_hash", hash.Hex(),
		"nonce", signed.Nonce(),
	)
	stages <- memo.StageEvent{Stage: memo.StageBroadcast, TxRef: hash.Hex()}

	receipt, err := g.waitReceipt(ctx, hash)
	if err != nil {
		stages <- memo.StageEvent{Stage: memo.StageFailed, TxRef: hash.Hex(), Err: err}
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		stages <- memo.StageEvent{
			Stage: memo.StageFailed,
			TxRef: hash.Hex(),
			Err:   fmt.Errorf("%w: tx %s in block %s", memo.ErrReverted, hash.Hex(), receipt.BlockNumber),
		}
		return
	}

	g.logger.InfoContext(ctx, "transaction confirmed",
		"handle", req.Handle,
		"tx_hash", hash.Hex(),
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
	stages <- memo.StageEvent{Stage: memo.StageConfirmed, TxRef: hash.Hex()}
}

func (g *Gateway) buildTx(ctx context.Context, value *big.Int, data []byte) (*types.Transaction, error) {
	from := g.approver.Address()

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	gas, err := g.backend.EstimateGas(ctx, geth.CallMsg{
		From:  from,
		To:    &g.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &g.contract,
		Value:    value,
		Data:     data,
	}), nil
}

// waitReceipt polls until the transaction is mined or the confirm timeout
// elapses.
func (g *Gateway) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			g.record("transaction_receipt", start, nil)
			return receipt, nil
		case errors.Is(err, geth.NotFound):
			// still pending
		case ctx.Err() == nil:
			g.record("transaction_receipt", start, err)
			g.logger.DebugContext(ctx, "receipt lookup failed, retrying", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: tx %s after %s", memo.ErrTimeout, hash.Hex(), g.confirmTimeout)
			}
			return nil, ctx.Err()
		}
	}
}

// ReadAll returns every memo stored by the contract in insertion order.
func (g *Gateway) ReadAll(ctx context.Context) ([]memo.Record, error) {
	start := time.Now()
	out, err := callContract(ctx, g.contract, g.abi, methodRead, nil, g.backend)
	g.record("call_contract", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", methodRead, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values, expected 1", methodRead, len(out))
	}

	tuples := *abi.ConvertType(out[0], new([]memoTuple)).(*[]memoTuple)

	records := make([]memo.Record, 0, len(tuples))
	for _, t := range tuples {
		var at time.Time
		if t.Timestamp != nil {
			at = time.Unix(t.Timestamp.Int64(), 0).UTC()
		}
		records = append(records, memo.Record{
			Sender:      t.From.Hex(),
			DisplayName: t.Name,
			Text:        t.Message,
			SubmittedAt: at,
		})
	}
	return records, nil
}

type contractCaller interface {
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func callContract(ctx context.Context, addr common.Address, contractABI abi.ABI, method string, args []interface{}, caller contractCaller) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	output, err := caller.CallContract(ctx, geth.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	return contractABI.Unpack(method, output)
}

func (g *Gateway) record(method string, start time.Time, err error) {
	if g.metrics != nil {
		g.metrics.RecordGatewayCall(backendLabel, method, time.Since(start).Seconds(), err)
	}
}
