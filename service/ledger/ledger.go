// Package ledger builds the memo.Gateway selected by configuration.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"

	"github.com/brojonat/memoboard/service/config"
	"github.com/brojonat/memoboard/service/ethereum"
	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	"github.com/brojonat/memoboard/service/solana"
	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"
)

// Open connects to the ledger named by cfg.LedgerBackend. Approvers are capped
// at the configured memo price so a misconfigured caller cannot overpay.
// The returned func releases the connection. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (memo.Gateway, func(), error) {
	switch cfg.LedgerBackend {
	case config.BackendEVM:
		return openEVM(ctx, cfg, m, logger)
	case config.BackendSolana:
		return openSolana(cfg, m, logger)
	default:
		return nil, nil, fmt.Errorf("unsupported ledger backend %q", cfg.LedgerBackend)
	}
}

func openEVM(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (memo.Gateway, func(), error) {
	key, err := ethereum.NewKeyApprover(cfg.EVMSignerKey)
	if err != nil {
		return nil, nil, err
	}

	client, err := ethereum.Dial(ctx, cfg.EVMRPCURL)
	if err != nil {
		return nil, nil, err
	}

	gw, err := ethereum.NewGateway(ctx, client,
		ethereum.LimitApprover{Approver: key, Max: cfg.MemoValue()},
		ethereum.Config{
			Contract:       common.HexToAddress(cfg.EVMContractAddress),
			ChainID:        big.NewInt(cfg.EVMChainID),
			ConfirmTimeout: cfg.ConfirmTimeout,
			PollInterval:   cfg.ConfirmPollInterval,
		},
		logger, m)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return gw, client.Close, nil
}

func openSolana(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (memo.Gateway, func(), error) {
	treasury, err := solanago.PublicKeyFromBase58(cfg.SolanaTreasuryAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid treasury address: %w", err)
	}

	key, err := solana.NewKeypairApprover(cfg.SolanaKeypairPath)
	if err != nil {
		return nil, nil, err
	}

	rpcClient, endpoint, err := solana.NewRPCClientFromList(cfg.SolanaRPCURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("selected solana RPC endpoint", "host", hostOf(endpoint))

	gw, err := solana.NewGateway(rpcClient,
		solana.LimitApprover{Approver: key, Max: cfg.MemoValueLamports},
		solana.Config{
			Treasury:       treasury,
			ConfirmTimeout: cfg.ConfirmTimeout,
			PollInterval:   cfg.ConfirmPollInterval,
			RequestDelay:   cfg.SolanaRequestDelay,
			ScanLimit:      cfg.SolanaScanLimit,
			MinLamports:    cfg.MemoValueLamports,
		},
		logger, m)
	if err != nil {
		return nil, nil, err
	}
	return gw, func() {}, nil
}

// hostOf strips the path and query, which may carry provider API keys.
func hostOf(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return parsed.Hostname()
}
