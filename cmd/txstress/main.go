// txstress sends value transfers to an EVM node and reports how long they
// take to be included.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txstress/internal/config"
)

const version = "0.1.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(cfg, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:     "txstress",
		Short:   "Stress test an EVM node with value transfers",
		Long:    `A command-line tool that sends native-token transfers from a set of wallets and measures how long the node takes to include them.`,
		Version: version,

		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	f := root.PersistentFlags()
	f.StringVarP(&cfg.NodeURL, "node", "n", cfg.NodeURL, "JSON-RPC endpoint (NODE_URL)")
	f.StringVar(&cfg.NodeWSURL, "ws", cfg.NodeWSURL, "websocket endpoint for newHeads; polling is used when empty (NODE_WS_URL)")
	f.StringVarP(&cfg.KeysFile, "keys", "k", cfg.KeysFile, "file with one private key per line (KEYS_FILE)")
	f.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "chain id; 0 asks the node (CHAIN_ID)")
	f.Uint64Var(&cfg.GasLimit, "gas-limit", cfg.GasLimit, "gas limit per transaction (GAS_LIMIT)")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "block polling interval (POLL_INTERVAL)")
	f.Float64Var(&cfg.MaxRPS, "max-rps", cfg.MaxRPS, "cap on RPC requests per second, 0 for no cap (MAX_RPS)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address, e.g. :9090 (METRICS_ADDR)")
	f.StringVar(&cfg.ReportDB, "report-db", cfg.ReportDB, "SQLite file for run history (REPORT_DB)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (LOG_LEVEL)")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json (LOG_FORMAT)")

	root.AddCommand(
		slowCmd(cfg),
		burstCmd(cfg),
		timedCmd(cfg),
		fundCmd(cfg),
		refundCmd(cfg),
		historyCmd(cfg),
	)
	return root
}

// newLogger builds the process logger from cfg. Logs go to stderr so that
// reports on stdout stay readable.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
