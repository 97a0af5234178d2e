// Package dispatch builds, signs and submits single value transfers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/nonce"
	"github.com/gateway-fm/txstress/internal/rpc"
)

// Failure stages reported by DispatchError.
const (
	StageGasPrice = "gas_price"
	StageNonce    = "nonce"
	StageSign     = "sign"
	StageSubmit   = "submit"
)

// DispatchError reports a failed dispatch. Nothing was registered with the tracker.
type DispatchError struct {
	Stage string
	From  common.Address
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch from %s failed at %s: %v", e.From.Hex(), e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Stage returns the failure stage of err, or "" if err is not a DispatchError.
func Stage(err error) string {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}

// Registrar records submitted transactions.
type Registrar interface {
	Register(hash common.Hash) bool
}

// FailureRecorder counts dispatch failures by stage.
type FailureRecorder interface {
	RecordDispatchFailure(stage string)
}

// Request is a single transfer to dispatch.
type Request struct {
	From        *account.Account
	To          common.Address
	Value       *big.Int
	GasLimit    uint64
	ManualNonce bool
}

// Config configures a Dispatcher.
type Config struct {
	Client    rpc.Client
	Tracker   Registrar
	Sequencer *nonce.Sequencer // required when any request uses ManualNonce
	ChainID   *big.Int
	Failures  FailureRecorder // optional
	Logger    *slog.Logger
}

// Dispatcher submits transfers and registers them for confirmation tracking.
// It never retries: a failure is returned to the caller as a *DispatchError.
type Dispatcher struct {
	client    rpc.Client
	tracker   Registrar
	sequencer *nonce.Sequencer
	chainID   *big.Int
	failures  FailureRecorder
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seq := cfg.Sequencer
	if seq == nil {
		seq = nonce.NewSequencer()
	}
	return &Dispatcher{
		client:    cfg.Client,
		tracker:   cfg.Tracker,
		sequencer: seq,
		chainID:   cfg.ChainID,
		failures:  cfg.Failures,
		logger:    logger,
	}
}

// Send builds, signs and submits one transfer, then registers its hash.
func (d *Dispatcher) Send(ctx context.Context, req Request) (common.Hash, error) {
	from := req.From.Address

	gasPrice, err := d.client.GetGasPrice(ctx)
	if err != nil {
		return common.Hash{}, d.fail(StageGasPrice, from, err)
	}

	pending, err := d.client.GetNonce(ctx, from)
	if err != nil {
		return common.Hash{}, d.fail(StageNonce, from, err)
	}
	n := pending
	if req.ManualNonce {
		n = d.sequencer.Next(from, pending)
	}

	signed, raw, err := SignTransfer(req.From.PrivateKey, d.chainID, Transfer{
		Nonce:    n,
		To:       req.To,
		Value:    req.Value,
		GasLimit: req.GasLimit,
		GasPrice: gasPrice,
	})
	if err != nil {
		return common.Hash{}, d.fail(StageSign, from, err)
	}

	hash := signed.Hash()
	returned, err := d.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, d.fail(StageSubmit, from, err)
	}
	if returned != hash {
		d.logger.Warn("Node returned unexpected transaction hash",
			slog.String("signed", hash.Hex()),
			slog.String("returned", returned.Hex()),
		)
	}

	d.tracker.Register(hash)
	d.logger.Debug("Transaction submitted",
		slog.String("hash", hash.Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("nonce", n),
		slog.String("gas_price", gasPrice.String()),
	)
	return hash, nil
}

func (d *Dispatcher) fail(stage string, from common.Address, err error) error {
	if d.failures != nil {
		d.failures.RecordDispatchFailure(stage)
	}
	return &DispatchError{Stage: stage, From: from, Err: err}
}
