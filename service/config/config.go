package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Ledger backends.
const (
	BackendEVM    = "evm"
	BackendSolana = "solana"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Ledger selection
	LedgerBackend string

	// EVM configuration
	EVMRPCURL          string
	EVMContractAddress string
	EVMSignerKey       string // hex private key, no 0x prefix required
	EVMChainID         int64  // 0 means ask the node
	MemoValueWei       *big.Int

	// Solana configuration
	SolanaRPCURL          string
	SolanaTreasuryAddress string
	SolanaKeypairPath     string
	SolanaRequestDelay    time.Duration
	SolanaScanLimit       int
	MemoValueLamports     uint64

	// Write confirmation
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Feed refresh
	RefreshDelay time.Duration
	ReadTimeout  time.Duration
	StaleAfter   time.Duration

	// Optional sinks; empty disables them
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	IndexInterval     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.LedgerBackend = getEnvOrDefault("LEDGER_BACKEND", BackendEVM)

	switch cfg.LedgerBackend {
	case BackendEVM:
		cfg.EVMRPCURL = os.Getenv("EVM_RPC_URL")
		if cfg.EVMRPCURL == "" {
			errs = append(errs, fmt.Errorf("EVM_RPC_URL is required"))
		}

		cfg.EVMContractAddress = os.Getenv("EVM_CONTRACT_ADDRESS")
		if cfg.EVMContractAddress == "" {
			errs = append(errs, fmt.Errorf("EVM_CONTRACT_ADDRESS is required"))
		} else if !common.IsHexAddress(cfg.EVMContractAddress) {
			errs = append(errs, fmt.Errorf("EVM_CONTRACT_ADDRESS: invalid address %q", cfg.EVMContractAddress))
		}

		cfg.EVMSignerKey = os.Getenv("EVM_SIGNER_KEY")
		if cfg.EVMSignerKey == "" {
			errs = append(errs, fmt.Errorf("EVM_SIGNER_KEY is required"))
		}

		chainID, err := parseInt("EVM_CHAIN_ID", 0)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.EVMChainID = int64(chainID)
		}

		// 0.001 ether
		value, err := parseBigInt("MEMO_VALUE_WEI", "1000000000000000")
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.MemoValueWei = value
		}

	case BackendSolana:
		cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
		if cfg.SolanaRPCURL == "" {
			errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
		}

		cfg.SolanaTreasuryAddress = os.Getenv("SOLANA_TREASURY_ADDRESS")
		if cfg.SolanaTreasuryAddress == "" {
			errs = append(errs, fmt.Errorf("SOLANA_TREASURY_ADDRESS is required"))
		} else if _, err := solana.PublicKeyFromBase58(cfg.SolanaTreasuryAddress); err != nil {
			errs = append(errs, fmt.Errorf("SOLANA_TREASURY_ADDRESS: invalid address %q: %w", cfg.SolanaTreasuryAddress, err))
		}

		cfg.SolanaKeypairPath = os.Getenv("SOLANA_KEYPAIR_PATH")
		if cfg.SolanaKeypairPath == "" {
			errs = append(errs, fmt.Errorf("SOLANA_KEYPAIR_PATH is required"))
		}

		delay, err := parseDuration("SOLANA_REQUEST_DELAY", "250ms")
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.SolanaRequestDelay = delay
		}

		limit, err := parseInt("SOLANA_SCAN_LIMIT", 100)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.SolanaScanLimit = limit
		}

		// 0.001 SOL
		lamports, err := parseInt("MEMO_VALUE_LAMPORTS", 1_000_000)
		if err != nil {
			errs = append(errs, err)
		} else if lamports <= 0 {
			errs = append(errs, fmt.Errorf("MEMO_VALUE_LAMPORTS must be positive"))
		} else {
			cfg.MemoValueLamports = uint64(lamports)
		}

	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendEVM, BackendSolana, cfg.LedgerBackend))
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"CONFIRM_TIMEOUT", "2m", &cfg.ConfirmTimeout},
		{"CONFIRM_POLL_INTERVAL", "2s", &cfg.ConfirmPollInterval},
		{"REFRESH_DELAY", "5s", &cfg.RefreshDelay},
		{"READ_TIMEOUT", "30s", &cfg.ReadTimeout},
		{"FEED_STALE_AFTER", "5m", &cfg.StaleAfter},
		{"INDEX_INTERVAL", "1m", &cfg.IndexInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dest = v
	}

	if cfg.ConfirmPollInterval > cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) cannot be greater than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmPollInterval, cfg.ConfirmTimeout))
	}

	if cfg.LedgerBackend == BackendSolana {
		if err := checkScanBudget(cfg.SolanaScanLimit, cfg.SolanaRequestDelay, cfg.ReadTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "memoboard-indexer")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	switch c.LedgerBackend {
	case BackendEVM:
		if c.EVMRPCURL == "" {
			errs = append(errs, fmt.Errorf("EVMRPCURL is required"))
		}
		if !common.IsHexAddress(c.EVMContractAddress) {
			errs = append(errs, fmt.Errorf("EVMContractAddress is invalid"))
		}
		if c.EVMSignerKey == "" {
			errs = append(errs, fmt.Errorf("EVMSignerKey is required"))
		}
		if c.MemoValueWei == nil || c.MemoValueWei.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("MemoValueWei must be positive"))
		}
	case BackendSolana:
		if c.SolanaRPCURL == "" {
			errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
		}
		if c.SolanaTreasuryAddress == "" {
			errs = append(errs, fmt.Errorf("SolanaTreasuryAddress is required"))
		}
		if c.SolanaKeypairPath == "" {
			errs = append(errs, fmt.Errorf("SolanaKeypairPath is required"))
		}
		if c.MemoValueLamports == 0 {
			errs = append(errs, fmt.Errorf("MemoValueLamports must be positive"))
		}
		if err := checkScanBudget(c.SolanaScanLimit, c.SolanaRequestDelay, c.ReadTimeout); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("LedgerBackend %q is not supported", c.LedgerBackend))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval cannot be greater than ConfirmTimeout"))
	}

	if c.RefreshDelay < 0 {
		errs = append(errs, fmt.Errorf("RefreshDelay cannot be negative"))
	}

	if c.IndexInterval < time.Second {
		errs = append(errs, fmt.Errorf("IndexInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// checkScanBudget rejects a Solana scan that cannot finish inside one read:
// every uncached memo in the window costs at least one request delay.
func checkScanBudget(limit int, delay, readTimeout time.Duration) error {
	if limit <= 0 || delay <= 0 {
		return nil
	}
	if worst := time.Duration(limit) * delay; worst >= readTimeout {
		return fmt.Errorf("SOLANA_SCAN_LIMIT (%d) * SOLANA_REQUEST_DELAY (%v) = %v must be less than READ_TIMEOUT (%v)",
			limit, delay, worst, readTimeout)
	}
	return nil
}

// MemoValue is the fixed per-write payment in the selected ledger's base unit.
func (c *Config) MemoValue() *big.Int {
	if c.LedgerBackend == BackendSolana {
		return new(big.Int).SetUint64(c.MemoValueLamports)
	}
	if c.MemoValueWei == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.MemoValueWei)
}

// PriceLabel renders MemoValue in whole units, e.g. "0.001 ETH".
func (c *Config) PriceLabel() string {
	unit, decimals := "ETH", 18
	if c.LedgerBackend == BackendSolana {
		unit, decimals = "SOL", 9
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	whole := new(big.Float).Quo(new(big.Float).SetInt(c.MemoValue()), scale)
	return whole.Text('f', -1) + " " + unit
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBigInt parses a positive base-10 integer of arbitrary size.
func parseBigInt(key, defaultValue string) (*big.Int, error) {
	value := getEnvOrDefault(key, defaultValue)
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", key)
	}
	return n, nil
}
