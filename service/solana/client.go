package solana

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/memoboard/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const backendLabel = "solana"

// RPCClient is the subset of the Solana RPC API the gateway needs.
// It allows tests to run without a Solana node.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)

	GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Client scans treasury transactions over RPC.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	requestDelay time.Duration
}

// NewClient creates a Client. requestDelay spaces GetTransaction calls to stay
// under public RPC rate limits; zero disables it.
func NewClient(rpcClient RPCClient, requestDelay time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		requestDelay: requestDelay,
	}
}

// GetTransactionsSinceParams selects which treasury transactions to fetch.
type GetTransactionsSinceParams struct {
	Wallet        solana.PublicKey
	LastSignature *solana.Signature
	Limit         int

	// Known transactions are returned as-is without another GetTransaction call.
	Known map[string]*Transaction

	// OnFetched, if set, is called with each transaction parsed from a
	// GetTransaction call, as soon as it is parsed. It still runs for the
	// transactions fetched before a scan is cut short.
	OnFetched func(*Transaction)
}

// GetTransactionsSince returns the wallet's transactions after LastSignature
// (or the most recent Limit when nil), newest first.
//
// Signatures without a memo are skipped before fetching: the signature list
// already says whether one is present.
func (c *Client) GetTransactionsSince(ctx context.Context, params GetTransactionsSinceParams) ([]*Transaction, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &params.Limit,
	}
	if params.LastSignature != nil {
		opts.Until = *params.LastSignature
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", params.Wallet.String(),
		"limit", params.Limit,
		"until", params.LastSignature,
		"known_count", len(params.Known),
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, params.Wallet, opts)
	c.record("get_signatures_for_address", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", params.Wallet.String(),
			"error", err,
		)
		return nil, err
	}

	transactions := make([]*Transaction, 0, len(signatures))
	fetched := 0
	for _, sig := range signatures {
		if known, ok := params.Known[sig.Signature.String()]; ok {
			transactions = append(transactions, known)
			continue
		}
		if sig.Err != nil || sig.Memo == nil {
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}

		if fetched > 0 && c.requestDelay > 0 {
			if err := sleep(ctx, c.requestDelay); err != nil {
				return nil, err
			}
		}
		fetched++

		result, err := c.fetchTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Possibly pruned. Metadata only; the caller will not cache it.
			c.logger.WarnContext(ctx, "failed to get transaction details after retries, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}

		txn, err := parseTransactionFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToDomain(sig))
			continue
		}
		if params.OnFetched != nil {
			params.OnFetched(txn)
		}
		transactions = append(transactions, txn)
	}

	c.logger.DebugContext(ctx, "fetched and parsed transactions",
		"wallet", params.Wallet.String(),
		"count", len(transactions),
		"fetched", fetched,
	)

	return transactions, nil
}

// fetchTransaction retries with exponential backoff, longer on rate limits,
// and falls back to legacy decoding when the node rejects versioned options.
func (c *Client) fetchTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	const maxAttempts = 3

	var (
		result *rpc.GetTransactionResult
		err    error
	)
	for attempt := range maxAttempts {
		start := time.Now()
		result, err = c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		c.record("get_transaction", start, err)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", signature.String(),
			)
			start = time.Now()
			result, err = c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
				Encoding: solana.EncodingBase64,
			})
			c.record("get_transaction", start, err)
			if err == nil {
				return result, nil
			}
		}

		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(2<<uint(attempt)) * time.Second // 2s, 4s
		}
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", signature.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, err
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordGatewayCall(backendLabel, method, time.Since(start).Seconds(), err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
