package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/config"
	"github.com/gateway-fm/txstress/internal/display"
	"github.com/gateway-fm/txstress/internal/report"
	"github.com/gateway-fm/txstress/internal/session"
	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/internal/transfer"
	"github.com/gateway-fm/txstress/pkg/types"
)

// runFlags binds the flags shared by the three run modes.
func runFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.IntVarP(&cfg.TxCount, "count", "c", cfg.TxCount, "number of transactions to send (TX_COUNT)")
	f.StringVarP(&cfg.ToAddress, "to", "t", cfg.ToAddress, "recipient address (TO_ADDRESS)")
	f.StringVarP(&cfg.ValueETH, "value", "v", cfg.ValueETH, "ETH sent per transaction (VALUE_ETH)")
	f.BoolVar(&cfg.ManualNonce, "manual-nonce", cfg.ManualNonce, "assign nonces locally instead of using the node's pending count (MANUAL_NONCE)")
	f.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "how long to wait for outstanding confirmations (DRAIN_TIMEOUT)")
}

func slowCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slow",
		Short: "Send transactions one at a time, waiting for each to be included",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, cfg, types.ModeSlow)
		},
	}
	runFlags(cmd, cfg)
	return cmd
}

func burstCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Send concurrent batches, rotating across wallets",
		Long: `Send transactions in concurrent batches. Wallets are used round-robin and
wallets below the dust threshold are skipped.

Example:
  txstress burst -c 100 -b 10 --batch-delay 200ms`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, cfg, types.ModeBurst)
		},
	}
	runFlags(cmd, cfg)
	cmd.Flags().IntVarP(&cfg.BatchSize, "batch-size", "b", cfg.BatchSize, "transactions per batch (BATCH_SIZE)")
	cmd.Flags().DurationVarP(&cfg.BatchDelay, "batch-delay", "d", cfg.BatchDelay, "pause between batches (BATCH_DELAY_MS)")
	return cmd
}

func timedCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timed",
		Short: "On every new block, send one transaction from each funded wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, cfg, types.ModeTimed)
		},
	}
	runFlags(cmd, cfg)
	cmd.Flags().DurationVar(&cfg.WatchdogTimeout, "watchdog", cfg.WatchdogTimeout, "fail the run if sending takes longer than this (WATCHDOG_TIMEOUT)")
	return cmd
}

func openStore(cfg *config.Config) (report.Storage, error) {
	if cfg.ReportDB == "" {
		return nil, nil
	}
	store, err := report.NewSQLiteStorage(cfg.ReportDB)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}
	return store, nil
}

func runMode(cmd *cobra.Command, cfg *config.Config, mode types.Mode) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	out := display.New(cmd.OutOrStdout())
	out.Banner(mode, cfg)

	res, runErr := session.Run(cmd.Context(), session.Options{
		Config:    cfg,
		Mode:      mode,
		Observers: []tracker.Observer{out},
		Store:     store,
		Logger:    logger,
		OnReady:   out.Wallets,
	})
	if res != nil {
		out.Report(res.Report, res.Result.Stragglers, time.Now())
	}
	return runErr
}

func fundCmd(cfg *config.Config) *cobra.Command {
	var (
		fromPK  string
		percent int
		window  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Distribute part of a source wallet's balance across the key file's wallets",
		Long: `Send a percentage of the source wallet's balance, split evenly, to every
wallet in the key file. Gas for every transfer is reserved first.

Example:
  txstress fund --from-pk $FUNDER_KEY --percent 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromPK == "" {
				return errors.New("source private key is required (--from-pk or FROM_PK)")
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := display.New(cmd.OutOrStdout())

			source, err := account.NewAccountFromHex(fromPK)
			if err != nil {
				return errors.New("invalid source private key")
			}
			client := session.NewClient(cfg, nil, logger)
			chainID, err := session.ResolveChainID(ctx, cfg, client)
			if err != nil {
				return err
			}
			targets, err := account.Load(ctx, cfg.KeysFile, client, logger)
			if err != nil {
				return err
			}

			tr := transfer.New(transfer.Config{
				Client:       client,
				ChainID:      chainID,
				GasLimit:     cfg.GasLimit,
				Percent:      percent,
				CancelWindow: window,
				Logger:       logger,
			})
			plan, err := tr.PlanFund(ctx, source, targets)
			if err != nil {
				return err
			}
			out.Wallets(plan.Targets)
			fmt.Fprintf(cmd.OutOrStdout(), "\nSource %s has %s ETH. Distributing %d%%: %s ETH to each of %d wallets (%s ETH reserved for gas).\n",
				source.Address.Hex(), account.FormatEther(plan.SourceBalance), plan.Percent,
				account.FormatEther(plan.PerWallet), len(plan.Targets), account.FormatEther(plan.GasReserved))
			if window > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl+C within %s to cancel.\n", window)
			}

			sum, err := tr.Fund(ctx, plan)
			if err != nil {
				return err
			}
			return finishTransfer(ctx, cmd, cfg, client, logger, sum, source.Address)
		},
	}
	cmd.Flags().StringVar(&fromPK, "from-pk", os.Getenv("FROM_PK"), "source wallet private key (FROM_PK)")
	cmd.Flags().IntVarP(&percent, "percent", "p", 50, "percent of the source balance to distribute, 1-100")
	cmd.Flags().DurationVar(&window, "cancel-window", transfer.DefaultCancelWindow, "pause before sending, to allow Ctrl+C")
	return cmd
}

func refundCmd(cfg *config.Config) *cobra.Command {
	var (
		to      string
		percent int
		window  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Send the wallets' balances back to one address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(to) {
				return fmt.Errorf("invalid target address: %q", to)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := display.New(cmd.OutOrStdout())

			client := session.NewClient(cfg, nil, logger)
			chainID, err := session.ResolveChainID(ctx, cfg, client)
			if err != nil {
				return err
			}
			wallets, err := account.Load(ctx, cfg.KeysFile, client, logger)
			if err != nil {
				return err
			}
			out.Wallets(wallets)

			target := common.HexToAddress(to)
			pct := transfer.ClampPercent(percent)
			fmt.Fprintf(cmd.OutOrStdout(), "\nRefunding %d%% of each funded wallet to %s.\n", pct, target.Hex())
			if window > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl+C within %s to cancel.\n", window)
			}

			tr := transfer.New(transfer.Config{
				Client:       client,
				ChainID:      chainID,
				GasLimit:     cfg.GasLimit,
				Percent:      pct,
				CancelWindow: window,
				Logger:       logger,
			})
			sum, err := tr.Refund(ctx, wallets, target)
			if err != nil {
				return err
			}
			return finishTransfer(ctx, cmd, cfg, client, logger, sum, target)
		},
	}
	cmd.Flags().StringVarP(&to, "to", "t", "", "address receiving the refunds")
	cmd.Flags().IntVarP(&percent, "percent", "p", 100, "percent of each balance to refund, 1-100")
	cmd.Flags().DurationVar(&window, "cancel-window", transfer.DefaultCancelWindow, "pause before sending, to allow Ctrl+C")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// finishTransfer prints the transfer summary and the refreshed balances.
func finishTransfer(ctx context.Context, cmd *cobra.Command, cfg *config.Config, client transfer.Client, logger *slog.Logger, sum *transfer.Summary, counterpart common.Address) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n%d/%d transfers confirmed, %s ETH moved.\n", sum.Succeeded(), len(sum.Outcomes), account.FormatEther(sum.Total))
	for _, o := range sum.Outcomes {
		switch {
		case o.Skipped != "":
			fmt.Fprintf(w, "  skipped %s: %s\n", o.From.Hex(), o.Skipped)
		case o.Err != nil:
			fmt.Fprintf(w, "  failed  %s -> %s: %v\n", o.From.Hex(), o.To.Hex(), o.Err)
		}
	}

	wallets, err := account.Load(ctx, cfg.KeysFile, client, logger)
	if err != nil {
		return err
	}
	display.New(w).Wallets(wallets)
	if bal, err := client.GetBalance(ctx, counterpart); err == nil {
		fmt.Fprintf(w, "\n%s balance: %s ETH\n", counterpart.Hex(), account.FormatEther(bal))
	}
	if sum.Succeeded() < len(sum.Outcomes) {
		logger.Warn("Some transfers did not complete", slog.Int("failed_or_skipped", len(sum.Outcomes)-sum.Succeeded()))
	}
	return nil
}

func historyCmd(cfg *config.Config) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs from the report database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.ReportDB == "" {
				return errors.New("run history is disabled (set --report-db or REPORT_DB)")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			page, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			display.New(cmd.OutOrStdout()).History(page.Runs, page.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}
