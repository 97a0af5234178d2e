// Package transfer moves ether between the source key and the test wallets.
// Transfers are sent one at a time and each waits for its receipt.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txstress/internal/account"
	"github.com/gateway-fm/txstress/internal/dispatch"
	"github.com/gateway-fm/txstress/internal/rpc"
)

const (
	DefaultCancelWindow   = 5 * time.Second
	DefaultReceiptTimeout = 2 * time.Minute
	DefaultPollInterval   = 500 * time.Millisecond
)

var (
	ErrSourceEmpty        = errors.New("source account has no balance")
	ErrNoTargets          = errors.New("no target wallets")
	ErrInsufficientForGas = errors.New("amount to distribute does not cover gas fees")
	ErrNothingToRefund    = errors.New("no wallet has a balance to refund")
)

// Client is the subset of rpc.Client used for transfers.
type Client interface {
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	GetNonce(ctx context.Context, address common.Address) (uint64, error)
	SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error)
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.TransactionReceipt, error)
}

// Config configures a Transferer.
type Config struct {
	Client   Client
	ChainID  *big.Int
	GasLimit uint64
	Percent  int // clamped to 1..100

	// CancelWindow is how long to wait before the first send. Zero sends immediately.
	CancelWindow   time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

// Transferer runs fund and refund operations.
type Transferer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Transferer.
func New(cfg Config) *Transferer {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.Percent = ClampPercent(cfg.Percent)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transferer{cfg: cfg, logger: logger}
}

// ClampPercent limits p to 1..100.
func ClampPercent(p int) int {
	return min(max(p, 1), 100)
}

// Outcome is the result of one transfer.
type Outcome struct {
	From    common.Address
	To      common.Address
	Amount  *big.Int
	Hash    common.Hash
	Skipped string // reason, when nothing was sent
	Err     error
}

// Summary collects the outcomes of an operation.
type Summary struct {
	Outcomes []Outcome
	Total    *big.Int // sum of confirmed amounts
}

// Succeeded returns how many transfers were confirmed.
func (s *Summary) Succeeded() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err == nil && o.Skipped == "" {
			n++
		}
	}
	return n
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Err == nil && o.Skipped == "" {
		s.Total.Add(s.Total, o.Amount)
	}
}

// FundPlan is a computed distribution, ready to execute.
type FundPlan struct {
	Source        *account.Account
	Targets       []*account.Account
	Percent       int
	Distribute    *big.Int // Percent of the source balance
	GasReserved   *big.Int // gas price * gas limit * len(Targets)
	PerWallet     *big.Int
	SourceBalance *big.Int
}

// PlanFund computes how much each target receives. The source is removed from
// targets if present.
func (t *Transferer) PlanFund(ctx context.Context, source *account.Account, targets []*account.Account) (*FundPlan, error) {
	balance, err := t.cfg.Client.GetBalance(ctx, source.Address)
	if err != nil {
		return nil, fmt.Errorf("get source balance: %w", err)
	}
	if balance.Sign() == 0 {
		return nil, ErrSourceEmpty
	}

	filtered := make([]*account.Account, 0, len(targets))
	for _, acc := range targets {
		if acc.Address != source.Address {
			filtered = append(filtered, acc)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoTargets
	}

	gasPrice, err := t.cfg.Client.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	n := big.NewInt(int64(len(filtered)))
	distribute := new(big.Int).Mul(balance, big.NewInt(int64(t.cfg.Percent)))
	distribute.Div(distribute, big.NewInt(100))
	reserved := new(big.Int).Mul(t.fee(gasPrice), n)
	if distribute.Cmp(reserved) < 0 {
		return nil, fmt.Errorf("%w: need %s ETH for gas, have %s ETH to distribute",
			ErrInsufficientForGas, account.FormatEther(reserved), account.FormatEther(distribute))
	}
	per := new(big.Int).Sub(distribute, reserved)
	per.Div(per, n)

	return &FundPlan{
		Source:        source,
		Targets:       filtered,
		Percent:       t.cfg.Percent,
		Distribute:    distribute,
		GasReserved:   reserved,
		PerWallet:     per,
		SourceBalance: balance,
	}, nil
}

// Fund executes plan after the cancel window. Individual failures are
// recorded and do not stop the remaining transfers.
func (t *Transferer) Fund(ctx context.Context, plan *FundPlan) (*Summary, error) {
	t.logger.Info("Ready to fund wallets",
		slog.Int("wallets", len(plan.Targets)),
		slog.String("per_wallet_eth", account.FormatEther(plan.PerWallet)),
		slog.Duration("cancel_window", t.cfg.CancelWindow),
	)
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	sum := &Summary{Total: new(big.Int)}
	for i, target := range plan.Targets {
		hash, err := t.send(ctx, plan.Source, target.Address, plan.PerWallet)
		out := Outcome{From: plan.Source.Address, To: target.Address, Amount: plan.PerWallet, Hash: hash, Err: err}
		if err != nil {
			if ctx.Err() != nil {
				sum.add(out)
				return sum, ctx.Err()
			}
			t.logger.Warn("Failed to fund wallet",
				slog.String("address", target.Address.Hex()),
				slog.String("error", err.Error()),
			)
		} else {
			t.logger.Info("Funded wallet",
				slog.Int("index", i+1),
				slog.Int("of", len(plan.Targets)),
				slog.String("address", target.Address.Hex()),
				slog.String("tx", hash.Hex()),
			)
		}
		sum.add(out)
	}
	return sum, nil
}

// Refund sends Percent of each funded wallet's balance to to, keeping enough
// for gas. At 100% the whole balance minus the fee is sent. Wallets that cannot
// cover the fee are skipped.
func (t *Transferer) Refund(ctx context.Context, wallets []*account.Account, to common.Address) (*Summary, error) {
	var funded []*account.Account
	for _, acc := range wallets {
		if acc.Funded() {
			funded = append(funded, acc)
		}
	}
	if len(funded) == 0 {
		return nil, ErrNothingToRefund
	}

	t.logger.Info("Ready to refund wallets",
		slog.Int("wallets", len(funded)),
		slog.Int("percent", t.cfg.Percent),
		slog.String("to", to.Hex()),
		slog.Duration("cancel_window", t.cfg.CancelWindow),
	)
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	sum := &Summary{Total: new(big.Int)}
	for _, acc := range funded {
		out := t.refundOne(ctx, acc, to)
		sum.add(out)
		if out.Err != nil && ctx.Err() != nil {
			return sum, ctx.Err()
		}
	}
	return sum, nil
}

func (t *Transferer) refundOne(ctx context.Context, acc *account.Account, to common.Address) Outcome {
	out := Outcome{From: acc.Address, To: to}

	balance, err := t.cfg.Client.GetBalance(ctx, acc.Address)
	if err != nil {
		out.Err = fmt.Errorf("get balance: %w", err)
		return out
	}
	gasPrice, err := t.cfg.Client.GetGasPrice(ctx)
	if err != nil {
		out.Err = fmt.Errorf("get gas price: %w", err)
		return out
	}

	amount := RefundAmount(balance, t.fee(gasPrice), t.cfg.Percent)
	if amount == nil {
		out.Skipped = "balance too low to cover gas fees"
		t.logger.Warn("Skipping wallet",
			slog.String("address", acc.Address.Hex()),
			slog.String("reason", out.Skipped),
		)
		return out
	}
	out.Amount = amount

	out.Hash, out.Err = t.send(ctx, acc, to, amount)
	if out.Err != nil {
		t.logger.Warn("Failed to refund wallet",
			slog.String("address", acc.Address.Hex()),
			slog.String("error", out.Err.Error()),
		)
		return out
	}
	t.logger.Info("Refunded wallet",
		slog.String("address", acc.Address.Hex()),
		slog.String("amount_eth", account.FormatEther(amount)),
		slog.String("tx", out.Hash.Hex()),
	)
	return out
}

// RefundAmount returns how much of balance to send, or nil if the wallet
// cannot pay fee or the amount would be zero.
func RefundAmount(balance, fee *big.Int, percent int) *big.Int {
	if balance.Cmp(fee) <= 0 {
		return nil
	}
	keep := new(big.Int).Sub(balance, fee)
	if percent >= 100 {
		return keep
	}
	amount := new(big.Int).Mul(balance, big.NewInt(int64(percent)))
	amount.Div(amount, big.NewInt(100))
	if amount.Cmp(keep) > 0 {
		amount = keep
	}
	if amount.Sign() <= 0 {
		return nil
	}
	return amount
}

func (t *Transferer) fee(gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(t.cfg.GasLimit))
}

func (t *Transferer) wait(ctx context.Context) error {
	if t.cfg.CancelWindow <= 0 {
		return nil
	}
	timer := time.NewTimer(t.cfg.CancelWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// send signs and submits one transfer, then waits for its receipt.
func (t *Transferer) send(ctx context.Context, from *account.Account, to common.Address, value *big.Int) (common.Hash, error) {
	gasPrice, err := t.cfg.Client.GetGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get gas price: %w", err)
	}
	nonce, err := t.cfg.Client.GetNonce(ctx, from.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}
	signed, raw, err := dispatch.SignTransfer(from.PrivateKey, t.cfg.ChainID, dispatch.Transfer{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		GasLimit: t.cfg.GasLimit,
		GasPrice: gasPrice,
	})
	if err != nil {
		return common.Hash{}, err
	}
	hash := signed.Hash()
	if _, err := t.cfg.Client.SendRawTransaction(ctx, raw); err != nil {
		return common.Hash{}, fmt.Errorf("submit: %w", err)
	}
	return hash, t.waitForReceipt(ctx, hash)
}

// waitForReceipt polls for the receipt of hash until it appears or the
// receipt timeout expires.
func (t *Transferer) waitForReceipt(ctx context.Context, hash common.Hash) error {
	timeout := time.NewTimer(t.cfg.ReceiptTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.cfg.Client.GetTransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if !receipt.Succeeded() {
				return fmt.Errorf("tx failed (status=0, gasUsed=%d): %s", receipt.GasUsed, hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for tx receipt: %s", hash.Hex())
		case <-ticker.C:
		}
	}
}
