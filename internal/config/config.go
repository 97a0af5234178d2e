// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/gateway-fm/txstress/internal/account"
)

// Config holds txstress configuration.
type Config struct {
	NodeURL         string
	NodeWSURL       string // optional; enables eth_subscribe newHeads instead of polling
	KeysFile        string
	ChainID         int64 // 0 = ask the node
	TxCount         int
	ToAddress       string
	ValueETH        string
	GasLimit        uint64
	ManualNonce     bool
	BatchSize       int
	BatchDelay      time.Duration
	DrainTimeout    time.Duration
	WatchdogTimeout time.Duration
	PollInterval    time.Duration
	MaxRPS          float64 // cap on RPC requests per second; 0 = unlimited
	MetricsAddr     string // empty disables the metrics endpoint
	ReportDB        string // empty disables run history
	LogLevel        string
	LogFormat       string
}

// Defaults
const (
	DefaultNodeURL         = "http://localhost:8545"
	DefaultKeysFile        = "keys.txt"
	DefaultTxCount         = 10
	DefaultToAddress       = "0x0000000000000000000000000000000000000000"
	DefaultValueETH        = "0.001"
	DefaultGasLimit        = 21000
	DefaultBatchSize       = 5
	DefaultBatchDelay      = 0
	DefaultDrainTimeout    = 300 * time.Second
	DefaultWatchdogTimeout = 10 * time.Minute
	DefaultPollInterval    = time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		NodeURL:         DefaultNodeURL,
		KeysFile:        DefaultKeysFile,
		TxCount:         DefaultTxCount,
		ToAddress:       DefaultToAddress,
		ValueETH:        DefaultValueETH,
		GasLimit:        DefaultGasLimit,
		BatchSize:       DefaultBatchSize,
		BatchDelay:      DefaultBatchDelay,
		DrainTimeout:    DefaultDrainTimeout,
		WatchdogTimeout: DefaultWatchdogTimeout,
		PollInterval:    DefaultPollInterval,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load returns defaults overridden by environment variables.
// Command-line flags are applied on top by the caller.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("NODE_URL"); v != "" {
		c.NodeURL = v
	}
	if v := getenv("NODE_WS_URL"); v != "" {
		c.NodeWSURL = v
	}
	if v := getenv("KEYS_FILE"); v != "" {
		c.KeysFile = v
	}
	if v := getenv("TO_ADDRESS"); v != "" {
		c.ToAddress = v
	}
	if v := getenv("VALUE_ETH"); v != "" {
		c.ValueETH = v
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := getenv("REPORT_DB"); v != "" {
		c.ReportDB = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	var err error
	if v := getenv("CHAIN_ID"); v != "" {
		if c.ChainID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("CHAIN_ID: %w", err)
		}
	}
	if v := getenv("TX_COUNT"); v != "" {
		if c.TxCount, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("TX_COUNT: %w", err)
		}
	}
	if v := getenv("GAS_LIMIT"); v != "" {
		if c.GasLimit, err = strconv.ParseUint(v, 10, 64); err != nil {
			return fmt.Errorf("GAS_LIMIT: %w", err)
		}
	}
	if v := getenv("MANUAL_NONCE"); v != "" {
		if c.ManualNonce, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("MANUAL_NONCE: %w", err)
		}
	}
	if v := getenv("BATCH_SIZE"); v != "" {
		if c.BatchSize, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("BATCH_SIZE: %w", err)
		}
	}
	if v := getenv("BATCH_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATCH_DELAY_MS: %w", err)
		}
		c.BatchDelay = time.Duration(ms) * time.Millisecond
	}
	if v := getenv("DRAIN_TIMEOUT"); v != "" {
		if c.DrainTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("DRAIN_TIMEOUT: %w", err)
		}
	}
	if v := getenv("WATCHDOG_TIMEOUT"); v != "" {
		if c.WatchdogTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("WATCHDOG_TIMEOUT: %w", err)
		}
	}
	if v := getenv("POLL_INTERVAL"); v != "" {
		if c.PollInterval, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
	}
	if v := getenv("MAX_RPS"); v != "" {
		if c.MaxRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("MAX_RPS: %w", err)
		}
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeURL == "" {
		return fmt.Errorf("node URL is required")
	}
	if c.KeysFile == "" {
		return fmt.Errorf("keys file is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	if c.TxCount <= 0 {
		return fmt.Errorf("transaction count must be positive")
	}
	if !common.IsHexAddress(c.ToAddress) {
		return fmt.Errorf("invalid recipient address: %q", c.ToAddress)
	}
	if _, err := account.ParseEther(c.ValueETH); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	if c.GasLimit == 0 {
		return fmt.Errorf("gas limit must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch delay cannot be negative")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout cannot be negative")
	}
	if c.WatchdogTimeout <= 0 {
		return fmt.Errorf("watchdog timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max RPS cannot be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (supported: text, json)", c.LogFormat)
	}
	return nil
}

// Recipient returns the parsed recipient address. Call after Validate.
func (c *Config) Recipient() common.Address {
	return common.HexToAddress(c.ToAddress)
}

// Value returns the per-transaction value in wei. Call after Validate.
func (c *Config) Value() *big.Int {
	v, _ := account.ParseEther(c.ValueETH)
	return v
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s (supported: debug, info, warn, error)", s)
	}
}
