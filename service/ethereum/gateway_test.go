package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu          sync.Mutex
	sent        []*types.Transaction
	sendErr     error
	estimateErr error
	callOutput  []byte
	callErr     error

	// receipt returns the receipt for the n-th lookup (0-based)
	receipt func(n int) (*types.Receipt, error)
	lookups int
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(31337), nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error) {
	return 90_000, f.estimateErr
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	n := f.lookups
	f.lookups++
	f.mu.Unlock()
	if f.receipt == nil {
		return nil, geth.NotFound
	}
	return f.receipt(n)
}

func (f *fakeBackend) CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callOutput, f.callErr
}

func newTestGateway(t *testing.T, backend *fakeBackend, approver Approver) *Gateway {
	t.Helper()
	if approver == nil {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		approver = NewKeyApproverFromKey(key)
	}
	g, err := NewGateway(context.Background(), backend, approver, Config{
		Contract:       testContract,
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)
	return g
}

func collect(t *testing.T, ch <-chan memo.StageEvent) []memo.StageEvent {
	t.Helper()
	var out []memo.StageEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stage channel was not closed")
		}
	}
}

func writeRequest() memo.WriteRequest {
	return memo.WriteRequest{
		Handle:      "h-1",
		DisplayName: "alice",
		Text:        "gm",
		Value:       big.NewInt(1_000_000_000_000_000),
	}
}

func TestSubmitWrite_Confirmed(t *testing.T) {
	backend := &fakeBackend{
		receipt: func(n int) (*types.Receipt, error) {
			if n < 2 {
				return nil, geth.NotFound
			}
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}, nil
		},
	}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	approver := NewKeyApproverFromKey(key)
	g := newTestGateway(t, backend, approver)

	ch, err := g.SubmitWrite(context.Background(), writeRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, memo.StageBroadcast, events[0].Stage)
	assert.Equal(t, memo.StageConfirmed, events[1].Stage)
	assert.Equal(t, events[0].TxRef, events[1].TxRef)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, events[0].TxRef, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, testContract, *tx.To())
	assert.Equal(t, "1000000000000000", tx.Value().String())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, approver.Address(), sender)

	args, err := g.abi.Methods[methodWrite].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"alice", "gm"}, args)
}

func TestSubmitWrite_Reverted(t *testing.T) {
	backend := &fakeBackend{
		receipt: func(n int) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(3)}, nil
		},
	}
	g := newTestGateway(t, backend, nil)

	ch, err := g.SubmitWrite(context.Background(), writeRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, memo.StageBroadcast, events[0].Stage)
	assert.Equal(t, memo.StageFailed, events[1].Stage)
	assert.ErrorIs(t, events[1].Err, memo.ErrReverted)
}

func TestSubmitWrite_Timeout(t *testing.T) {
	g := newTestGateway(t, &fakeBackend{}, nil)

	ch, err := g.SubmitWrite(context.Background(), writeRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, memo.StageFailed, events[1].Stage)
	assert.ErrorIs(t, events[1].Err, memo.ErrTimeout)
}

func TestSubmitWrite_Rejected(t *testing.T) {
	backend := &fakeBackend{}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	approver := LimitApprover{Approver: NewKeyApproverFromKey(key), Max: big.NewInt(1)}
	g := newTestGateway(t, backend, approver)

	ch, err := g.SubmitWrite(context.Background(), writeRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, memo.StageFailed, events[0].Stage)
	assert.ErrorIs(t, events[0].Err, memo.ErrUserRejected)
	assert.Empty(t, backend.sent)
}

func TestSubmitWrite_SendFails(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("insufficient funds for gas * price + value")}
	g := newTestGateway(t, backend, nil)

	ch, err := g.SubmitWrite(context.Background(), writeRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, memo.StageFailed, events[0].Stage)
	assert.Contains(t, events[0].Err.Error(), "insufficient funds")
}

func TestReadAll(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(t, backend, nil)

	alice := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	packed, err := g.abi.Methods[methodRead].Outputs.Pack([]memoTuple{
		{From: alice, Timestamp: big.NewInt(1_700_000_000), Name: "alice", Message: "gm"},
		{From: alice, Timestamp: big.NewInt(1_700_000_060), Name: "alice", Message: "gn"},
	})
	require.NoError(t, err)
	backend.callOutput = packed

	records, err := g.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, alice.Hex(), records[0].Sender)
	assert.Equal(t, "alice", records[0].DisplayName)
	assert.Equal(t, "gm", records[0].Text)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), records[0].SubmittedAt)
	assert.Equal(t, "gn", records[1].Text)
}

func TestReadAll_CallError(t *testing.T) {
	g := newTestGateway(t, &fakeBackend{callErr: errors.New("connection refused")}, nil)

	_, err := g.ReadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getMemos")
}

func TestNewKeyApprover(t *testing.T) {
	// well-known local development key
	a, err := NewKeyApprover("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), a.Address())

	_, err = NewKeyApprover("zz")
	require.Error(t, err)
}
