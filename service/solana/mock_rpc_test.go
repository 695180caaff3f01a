package solana

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// mockRPCClient implements RPCClient for tests. It is behavior-focused: tests
// set what it returns rather than verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	err          error // returned by the read methods
	getTxErr     error
	getTxCalls   int

	blockhashErr error
	sendErr      error
	sent         []*solana.Transaction

	// statuses are returned in order; the last one repeats.
	statuses  []*rpc.SignatureStatusesResult
	statusErr error
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getTxCalls++
	if m.err != nil {
		return nil, m.err
	}
	if m.getTxErr != nil {
		return nil, m.getTxErr
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{7}},
	}, nil
}

func (m *mockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if len(m.statuses) == 0 {
		return nil, rpc.ErrNotFound
	}
	next := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{next}}, nil
}

func (m *mockRPCClient) sentTransactions() []*solana.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*solana.Transaction(nil), m.sent...)
}

func (m *mockRPCClient) transactionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getTxCalls
}

// makeTransactionEnvelope builds a TransactionResultEnvelope from a
// Transaction. Its fields are unexported, so it goes through JSON.
func makeTransactionEnvelope(tx *solana.Transaction) (*rpc.TransactionResultEnvelope, error) {
	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(envelopeJSON, &result); err != nil {
		return nil, err
	}
	return result.Transaction, nil
}

func transferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

// memoTransaction is a transfer from -> to followed by a memo instruction.
func memoTransaction(from, to solana.PublicKey, lamports uint64, memoText string) *solana.Transaction {
	return &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{from, to, solana.SystemProgramID, solana.MemoProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(lamports)},
				{ProgramIDIndex: 3, Accounts: []uint16{0}, Data: []byte(memoText)},
			},
		},
	}
}

func sigN(n byte) solana.Signature {
	return solana.Signature{n, n, n}
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}
