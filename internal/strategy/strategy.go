// Package strategy implements the dispatch strategies of a stress run:
// sequential ("slow"), batch ("burst") and block-triggered ("timed").
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/dispatch"
	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

var (
	// ErrNoFundedWallet is returned when every wallet has a zero balance.
	ErrNoFundedWallet = errors.New("no wallet has a positive balance")
	// ErrNoEligibleWallet is returned by the batch and block-triggered
	// drivers when no wallet holds more than the dust threshold.
	ErrNoEligibleWallet = errors.New("no wallet holds more than the dust threshold")
	// ErrWatchdog is returned when a block-triggered run does not finish sending in time.
	ErrWatchdog = errors.New("watchdog expired before all transactions were sent")
	// ErrFeedClosed is returned when the block feed stops during a block-triggered run.
	ErrFeedClosed = errors.New("block feed closed")
)

// Sender dispatches one transaction.
type Sender interface {
	Send(ctx context.Context, req dispatch.Request) (common.Hash, error)
}

// Tracker is the confirmation state the drivers wait on.
type Tracker interface {
	WaitDrained(ctx context.Context) error
	AwaitDrain(ctx context.Context, timeout time.Duration) []tracker.Tx
	Stats() tracker.Stats
}

// Metrics receives driver state changes. Optional.
type Metrics interface {
	SetRunState(state types.RunState)
	RecordSkipped()
}

// Driver runs one strategy to completion.
type Driver interface {
	Mode() types.Mode
	Run(ctx context.Context) (*Result, error)
}

// Config holds settings shared by every driver.
type Config struct {
	Sender       Sender
	Tracker      Tracker
	Accounts     []*account.Account
	To           common.Address
	Value        *big.Int
	GasLimit     uint64
	ManualNonce  bool
	Count        int
	DrainTimeout time.Duration
	Dust         *big.Int // default account.DustThreshold
	Metrics      Metrics
	Logger       *slog.Logger
}

// Result summarizes a finished run. It is returned even when Run fails.
type Result struct {
	Mode       types.Mode
	State      types.RunState
	Requested  int
	Sent       int // dispatch attempts, successful or not
	Failed     int
	Skipped    int
	Stats      tracker.Stats
	Stragglers []tracker.Tx
	StartedAt  time.Time
	FinishedAt time.Time
}

// Report converts the result into the public report type.
func (r *Result) Report(nodeURL string, runErr error) *types.RunReport {
	rep := &types.RunReport{
		Mode:       r.Mode,
		State:      r.State,
		NodeURL:    nodeURL,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Requested:  r.Requested,
		Sent:       r.Sent,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Completed:  r.Stats.Completed,
		Pending:    r.Stats.Pending,
		AvgLatency: r.Stats.AvgLatency,
		Latency:    r.Stats.Latency,
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	return rep
}

// run holds the state machine and counters common to every driver.
type run struct {
	cfg    Config
	mode   types.Mode
	logger *slog.Logger
	dust   *big.Int

	state     types.RunState
	startedAt time.Time
	sent      atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

func newRun(cfg Config, mode types.Mode) *run {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dust := cfg.Dust
	if dust == nil {
		dust = account.DustThreshold
	}
	return &run{
		cfg:    cfg,
		mode:   mode,
		logger: logger.With(slog.String("mode", string(mode))),
		dust:   dust,
	}
}

func (r *run) setState(s types.RunState) {
	r.state = s
	r.logger.Debug("Run state changed", slog.String("state", string(s)))
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SetRunState(s)
	}
}

// start enters initializing and checks the funded-wallet precondition.
func (r *run) start() error {
	r.startedAt = time.Now()
	r.setState(types.StateInitializing)
	if !account.AnyFunded(r.cfg.Accounts) {
		return ErrNoFundedWallet
	}
	return nil
}

// requireEligible checks that at least one wallet is above dust.
func (r *run) requireEligible() error {
	if account.CountAbove(r.cfg.Accounts, r.dust) == 0 {
		return ErrNoEligibleWallet
	}
	return nil
}

func (r *run) skip(acc *account.Account, index int) {
	r.skipped.Add(1)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordSkipped()
	}
	r.logger.Info("Skipping wallet with low balance",
		slog.Int("wallet_idx", index),
		slog.String("address", acc.Address.Hex()),
		slog.String("balance_eth", account.FormatEther(acc.Balance)),
	)
}

// dispatch sends one transaction from acc, counting the attempt and any failure.
func (r *run) dispatch(ctx context.Context, acc *account.Account) (common.Hash, error) {
	r.sent.Add(1)
	hash, err := r.cfg.Sender.Send(ctx, dispatch.Request{
		From:        acc,
		To:          r.cfg.To,
		Value:       r.cfg.Value,
		GasLimit:    r.cfg.GasLimit,
		ManualNonce: r.cfg.ManualNonce,
	})
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("Transaction dispatch failed",
			slog.String("from", acc.Address.Hex()),
			slog.String("stage", dispatch.Stage(err)),
			slog.String("error", err.Error()),
		)
	}
	return hash, err
}

func (r *run) result() *Result {
	return &Result{
		Mode:       r.mode,
		State:      r.state,
		Requested:  r.cfg.Count,
		Sent:       int(r.sent.Load()),
		Failed:     int(r.failed.Load()),
		Skipped:    int(r.skipped.Load()),
		Stats:      r.cfg.Tracker.Stats(),
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
	}
}

// fail moves to the failed state and returns the partial result with err.
func (r *run) fail(err error) (*Result, error) {
	r.setState(types.StateFailed)
	r.logger.Error("Run failed", slog.String("error", err.Error()))
	return r.result(), err
}

// finish drains outstanding confirmations and completes the run.
func (r *run) finish(ctx context.Context) (*Result, error) {
	r.setState(types.StateDraining)
	stragglers := r.cfg.Tracker.AwaitDrain(ctx, r.cfg.DrainTimeout)
	r.setState(types.StateDone)

	res := r.result()
	res.Stragglers = stragglers
	r.logger.Info("Run finished",
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("completed", res.Stats.Completed),
		slog.Int("pending", res.Stats.Pending),
		slog.Duration("avg_latency", res.Stats.AvgLatency),
	)
	return res, nil
}
