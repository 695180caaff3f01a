package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, mock *mockRPCClient, treasury solana.PublicKey, approver Approver) *Gateway {
	t.Helper()
	if approver == nil {
		approver = NewKeypairApproverFromKey(solana.NewWallet().PrivateKey)
	}
	g, err := NewGateway(mock, approver, Config{
		Treasury:       treasury,
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		MinLamports:    1000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)
	return g
}

func collect(t *testing.T, stages <-chan memo.StageEvent) []memo.StageEvent {
	t.Helper()
	var out []memo.StageEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-stages:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stage stream did not close")
		}
	}
}

func writeRequest(lamports int64) memo.WriteRequest {
	return memo.WriteRequest{Handle: "h1", DisplayName: "ada", Text: "gm", Value: big.NewInt(lamports)}
}

func TestSubmitWrite_Confirmed(t *testing.T) {
	treasury := newKey()
	payer := solana.NewWallet().PrivateKey
	mock := &mockRPCClient{
		statuses: []*rpc.SignatureStatusesResult{
			nil,
			{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
			{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		},
	}
	g := newTestGateway(t, mock, treasury, NewKeypairApproverFromKey(payer))

	stages, err := g.SubmitWrite(context.Background(), writeRequest(1_000_000))
	require.NoError(t, err)

	events := collect(t, stages)
	require.Len(t, events, 2)
	assert.Equal(t, memo.StageBroadcast, events[0].Stage)
	assert.NotEmpty(t, events[0].TxRef)
	assert.Equal(t, memo.StageConfirmed, events[1].Stage)
	assert.Equal(t, events[0].TxRef, events[1].TxRef)

	sent := mock.sentTransactions()
	require.Len(t, sent, 1)
	assert.Equal(t, events[0].TxRef, sent[0].Signatures[0].String())
	require.NoError(t, sent[0].VerifySignatures())

	// the transaction we built parses back into the memo we wrote
	envelope, err := makeTransactionEnvelope(sent[0])
	require.NoError(t, err)
	txn, err := parseTransactionFromResult(&rpc.TransactionSignature{Signature: sent[0].Signatures[0]}, &rpc.GetTransactionResult{Transaction: envelope})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), txn.Amount)
	assert.Equal(t, payer.PublicKey().String(), *txn.FromAddress)
	assert.Equal(t, treasury.String(), *txn.ToAddress)
	require.NotNil(t, txn.Memo)
	assert.JSONEq(t, `{"name":"ada","message":"gm"}`, *txn.Memo)
}

func TestSubmitWrite_Reverted(t *testing.T) {
	mock := &mockRPCClient{
		statuses: []*rpc.SignatureStatusesResult{
			{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
		},
	}
	g := newTestGateway(t, mock, newKey(), nil)

	stages, err := g.SubmitWrite(context.Background(), writeRequest(1_000_000))
	require.NoError(t, err)

	events := collect(t, stages)
	require.Len(t, events, 2)
	assert.Equal(t, memo.StageFailed, events[1].Stage)
	assert.ErrorIs(t, events[1].Err, memo.ErrReverted)
}

func TestSubmitWrite_Timeout(t *testing.T) {
	mock := &mockRPCClient{}
	g := newTestGateway(t, mock, newKey(), nil)

	stages, err := g.SubmitWrite(context.Background(), writeRequest(1_000_000))
	require.NoError(t, err)

	events := collect(t, stages)
	require.Len(t, events, 2)
	assert.Equal(t, memo.StageBroadcast, events[0].Stage)
	assert.Equal(t, memo.StageFailed, events[1].Stage)
	assert.ErrorIs(t, events[1].Err, memo.ErrTimeout)
}

func TestSubmitWrite_Rejected(t *testing.T) {
	mock := &mockRPCClient{}
	approver := LimitApprover{Approver: NewKeypairApproverFromKey(solana.NewWallet().PrivateKey), Max: 10}
	g := newTestGateway(t, mock, newKey(), approver)

	stages, err := g.SubmitWrite(context.Background(), writeRequest(1_000_000))
	require.NoError(t, err)

	events := collect(t, stages)
	require.Len(t, events, 1)
	assert.Equal(t, memo.StageFailed, events[0].Stage)
	assert.ErrorIs(t, events[0].Err, memo.ErrUserRejected)
	assert.Empty(t, mock.sentTransactions())
}

func TestSubmitWrite_SendFails(t *testing.T) {
	mock := &mockRPCClient{sendErr: assert.AnError}
	g := newTestGateway(t, mock, newKey(), nil)

	stages, err := g.SubmitWrite(context.Background(), writeRequest(1_000_000))
	require.NoError(t, err)

	events := collect(t, stages)
	require.Len(t, events, 1)
	assert.Equal(t, memo.StageFailed, events[0].Stage)
	assert.ErrorIs(t, events[0].Err, assert.AnError)
}

func TestSubmitWrite_InvalidRequest(t *testing.T) {
	g := newTestGateway(t, &mockRPCClient{}, newKey(), nil)

	_, err := g.SubmitWrite(context.Background(), memo.WriteRequest{DisplayName: "a", Text: "b", Value: big.NewInt(-1)})
	assert.Error(t, err)

	long := make([]byte, MaxMemoBytes)
	for i := range long {
		long[i] = 'x'
	}
	_, err = g.SubmitWrite(context.Background(), memo.WriteRequest{DisplayName: "a", Text: string(long), Value: big.NewInt(1)})
	assert.ErrorContains(t, err, "limit")
}

func TestReadAll(t *testing.T) {
	treasury := newKey()
	alice, bob := newKey(), newKey()

	txs := map[solana.Signature]*solana.Transaction{
		sigN(1): memoTransaction(bob, treasury, 5000, `{"name":"bob","message":"second"}`),
		sigN(2): memoTransaction(alice, treasury, 1000, `{"name":"alice","message":"first"}`),
		sigN(3): memoTransaction(alice, treasury, 999, `{"name":"cheap","message":"underpaid"}`),
		sigN(4): memoTransaction(alice, newKey(), 5000, `{"name":"elsewhere","message":"not ours"}`),
		sigN(5): memoTransaction(alice, treasury, 5000, "just a note"),
	}
	results := make(map[string]*rpc.GetTransactionResult, len(txs))
	for sig, tx := range txs {
		envelope, err := makeTransactionEnvelope(tx)
		require.NoError(t, err)
		results[sig.String()] = &rpc.GetTransactionResult{Transaction: envelope}
	}

	t1 := solana.UnixTimeSeconds(1_700_000_100)
	t2 := solana.UnixTimeSeconds(1_700_000_000)
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: sigN(5), Memo: strPtr("[11] just a note")},
			{Signature: sigN(4), Memo: strPtr("[1] x")},
			{Signature: sigN(3), Memo: strPtr("[1] x")},
			{Signature: sigN(1), Memo: strPtr("[1] x"), BlockTime: &t1},
			{Signature: sigN(2), Memo: strPtr("[1] x"), BlockTime: &t2},
			{Signature: sigN(6)},
		},
		transactions: results,
	}
	g := newTestGateway(t, mock, treasury, nil)

	records, err := g.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	// oldest first
	assert.Equal(t, "alice", records[0].DisplayName)
	assert.Equal(t, "first", records[0].Text)
	assert.Equal(t, alice.String(), records[0].Sender)
	assert.Equal(t, sigN(2).String(), records[0].TxRef)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), records[0].SubmittedAt)
	assert.Equal(t, "bob", records[1].DisplayName)

	calls := mock.transactionCalls()
	assert.Equal(t, 5, calls)

	// parsed transactions are cached across reads
	again, err := g.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, again)
	assert.Equal(t, calls, mock.transactionCalls())
}

func TestReadAll_ProgressAcrossTimedOutReads(t *testing.T) {
	treasury := newKey()
	sender := newKey()

	const n = 20
	mock := &mockRPCClient{transactions: make(map[string]*rpc.GetTransactionResult, n)}
	for i := range n {
		sig := sigN(byte(i + 1))
		envelope, err := makeTransactionEnvelope(memoTransaction(sender, treasury, 5000, fmt.Sprintf(`{"name":"n%d","message":"m%d"}`, i, i)))
		require.NoError(t, err)
		mock.transactions[sig.String()] = &rpc.GetTransactionResult{Transaction: envelope}
		mock.signatures = append(mock.signatures, &rpc.TransactionSignature{Signature: sig, Memo: strPtr("[1] x")})
	}

	g, err := NewGateway(mock, NewKeypairApproverFromKey(solana.NewWallet().PrivateKey), Config{
		Treasury:     treasury,
		RequestDelay: 20 * time.Millisecond,
		MinLamports:  1000,
	}, nil, nil)
	require.NoError(t, err)

	// Each read is cut off well before the whole window is fetched.
	var records []memo.Record
	reads := 0
	for ; reads < n; reads++ {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		records, err = g.ReadAll(ctx)
		cancel()
		if err == nil {
			break
		}
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	require.NoError(t, err, "reads never completed")
	assert.Greater(t, reads, 0, "first read should have timed out")
	assert.Len(t, records, n)
	assert.Equal(t, n, mock.transactionCalls(), "each transaction is fetched once")
}

func TestReadAll_RPCError(t *testing.T) {
	g := newTestGateway(t, &mockRPCClient{err: assert.AnError}, newKey(), nil)

	_, err := g.ReadAll(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestNewGateway_RequiresTreasury(t *testing.T) {
	_, err := NewGateway(&mockRPCClient{}, NewKeypairApproverFromKey(solana.NewWallet().PrivateKey), Config{}, nil, nil)
	assert.Error(t, err)
}
