package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	"github.com/gagliardetto/solana-go"
	memoprogram "github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// Config configures a Gateway.
type Config struct {
	Treasury       solana.PublicKey
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	RequestDelay   time.Duration
	ScanLimit      int

	// MinLamports drops treasury transfers below the memo price from the feed.
	MinLamports uint64
}

// Gateway writes memos as a system transfer to the treasury plus a memo
// instruction, and reads them back by scanning the treasury's history.
type Gateway struct {
	rpc      RPCClient
	client   *Client
	approver Approver
	cfg      Config

	logger  *slog.Logger
	metrics *metrics.Metrics

	// Finalized transactions never change, so parsed ones are kept between reads.
	mu   sync.Mutex
	seen map[string]*Transaction
}

var _ memo.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway. m may be nil.
func NewGateway(rpcClient RPCClient, approver Approver, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Treasury.IsZero() {
		return nil, fmt.Errorf("treasury address is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ScanLimit <= 0 || cfg.ScanLimit > 1000 {
		cfg.ScanLimit = 1000
	}

	logger.Info("solana gateway initialized",
		"treasury", cfg.Treasury.String(),
		"payer", approver.PublicKey().String(),
		"scan_limit", cfg.ScanLimit,
	)

	return &Gateway{
		rpc:      rpcClient,
		client:   NewClient(rpcClient, cfg.RequestDelay, m, logger),
		approver: approver,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		seen:     make(map[string]*Transaction),
	}, nil
}

// SubmitWrite builds the transaction and runs approval, broadcast and
// confirmation in the background. Encoding errors are returned directly.
func (g *Gateway) SubmitWrite(ctx context.Context, req memo.WriteRequest) (<-chan memo.StageEvent, error) {
	if req.Value == nil || !req.Value.IsUint64() {
		return nil, fmt.Errorf("value %v does not fit in lamports", req.Value)
	}
	data, err := encodeMemo(req.DisplayName, req.Text)
	if err != nil {
		return nil, err
	}

	stages := make(chan memo.StageEvent, 3)
	go g.run(ctx, req, req.Value.Uint64(), data, stages)
	return stages, nil
}

func (g *Gateway) run(ctx context.Context, req memo.WriteRequest, lamports uint64, data []byte, stages chan<- memo.StageEvent) {
	defer close(stages)

	tx, err := g.buildTx(ctx, lamports, data)
	if err != nil {
		stages <- memo.StageEvent{Stage: memo.StageFailed, Err: err}
		return
	}

	if err := g.approver.Approve(ctx, tx, lamports); err != nil {
		g.logger.WarnContext(ctx, "write not approved", "handle", req.Handle, "error", err)
		stages <- memo.StageEvent{Stage: memo.StageFailed, Err: err}
		return
	}

	start := time.Now()
	sig, err := g.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	g.record("send_transaction", start, err)
	if err != nil {
		stages <- memo.StageEvent{Stage: memo.StageFailed, Err: fmt.Errorf("failed to send transaction: %w", err)}
		return
	}

	ref := sig.String()
	g.logger.InfoContext(ctx, "transaction broadcast", "handle", req.Handle, "signature", ref)
	stages <- memo.StageEvent{Stage: memo.StageBroadcast, TxRef: ref}

	if err := g.waitConfirmed(ctx, sig); err != nil {
		stages <- memo.StageEvent{Stage: memo.StageFailed, TxRef: ref, Err: err}
		return
	}

	g.logger.InfoContext(ctx, "transaction confirmed", "handle", req.Handle, "signature", ref)
	stages <- memo.StageEvent{Stage: memo.StageConfirmed, TxRef: ref}
}

func (g *Gateway) buildTx(ctx context.Context, lamports uint64, data []byte) (*solana.Transaction, error) {
	payer := g.approver.PublicKey()

	start := time.Now()
	bh, err := g.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	g.record("get_latest_blockhash", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}
	if bh == nil || bh.Value == nil {
		return nil, fmt.Errorf("failed to get blockhash: empty response")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer, g.cfg.Treasury).Build(),
			memoprogram.NewMemoInstruction(data, payer).Build(),
		},
		bh.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// waitConfirmed polls the signature status until it reaches confirmed
// commitment, reports an error, or the confirm timeout elapses.
func (g *Gateway) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		out, err := g.rpc.GetSignatureStatuses(ctx, sig)
		switch {
		case err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil:
			g.record("get_signature_statuses", start, nil)
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: signature %s: %v", memo.ErrReverted, sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		case err == nil, errors.Is(err, rpc.ErrNotFound):
			// not yet seen by the node
		case ctx.Err() == nil:
			g.record("get_signature_statuses", start, err)
			g.logger.DebugContext(ctx, "status lookup failed, retrying", "signature", sig.String(), "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: signature %s after %s", memo.ErrTimeout, sig, g.cfg.ConfirmTimeout)
			}
			return ctx.Err()
		}
	}
}

// ReadAll returns the memos paid to the treasury, oldest first. Only the most
// recent ScanLimit treasury transactions are considered.
func (g *Gateway) ReadAll(ctx context.Context) ([]memo.Record, error) {
	g.mu.Lock()
	known := make(map[string]*Transaction, len(g.seen))
	for k, v := range g.seen {
		known[k] = v
	}
	g.mu.Unlock()

	// Cache as we go so a scan cut short by ctx still shortens the next one.
	txns, err := g.client.GetTransactionsSince(ctx, GetTransactionsSinceParams{
		Wallet:    g.cfg.Treasury,
		Limit:     g.cfg.ScanLimit,
		Known:     known,
		OnFetched: g.remember,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan treasury: %w", err)
	}

	records := make([]memo.Record, 0, len(txns))
	for _, t := range txns {
		if r, ok := g.toRecord(t); ok {
			records = append(records, r)
		}
	}
	slices.Reverse(records)
	return records, nil
}

// remember caches a fully parsed transaction. Metadata-only fallbacks are
// not passed here, so a pruned or unparsable one is retried next read.
func (g *Gateway) remember(t *Transaction) {
	g.mu.Lock()
	g.seen[t.Signature] = t
	g.mu.Unlock()
}

// toRecord keeps successful transfers of at least MinLamports into the
// treasury that carry a well-formed memo.
func (g *Gateway) toRecord(t *Transaction) (memo.Record, bool) {
	if t.Err != nil || t.Memo == nil || t.FromAddress == nil || t.ToAddress == nil {
		return memo.Record{}, false
	}
	if *t.ToAddress != g.cfg.Treasury.String() || t.Amount < g.cfg.MinLamports {
		return memo.Record{}, false
	}
	p, ok := decodeMemo(*t.Memo)
	if !ok {
		return memo.Record{}, false
	}
	return memo.Record{
		Sender:      *t.FromAddress,
		DisplayName: p.Name,
		Text:        p.Message,
		SubmittedAt: t.BlockTime,
		TxRef:       t.Signature,
	}, true
}

func (g *Gateway) record(method string, start time.Time, err error) {
	if g.metrics != nil {
		g.metrics.RecordGatewayCall(backendLabel, method, time.Since(start).Seconds(), err)
	}
}
