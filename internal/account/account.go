// Package account loads the wallets txstress sends from.
package account

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoKeys is returned when a key file contains no usable keys.
var ErrNoKeys = errors.New("no private keys found")

// Account holds a wallet's signing key and the balance sampled at load time.
// Balance is a hint for dust checks only; it is not refreshed during a run.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	Balance    *big.Int
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		Balance:    new(big.Int),
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key.
// A leading 0x is accepted.
func NewAccountFromHex(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, err
	}
	return NewAccount(privateKey), nil
}

// Funded reports whether the sampled balance is positive.
func (a *Account) Funded() bool {
	return a.Balance != nil && a.Balance.Sign() > 0
}

// Above reports whether the sampled balance is strictly greater than threshold.
func (a *Account) Above(threshold *big.Int) bool {
	return a.Balance != nil && a.Balance.Cmp(threshold) > 0
}

// AnyFunded reports whether at least one account has a positive balance.
func AnyFunded(accounts []*Account) bool {
	for _, a := range accounts {
		if a.Funded() {
			return true
		}
	}
	return false
}

// CountAbove returns how many accounts hold more than threshold.
func CountAbove(accounts []*Account, threshold *big.Int) int {
	n := 0
	for _, a := range accounts {
		if a.Above(threshold) {
			n++
		}
	}
	return n
}

// BalanceReader is the part of the node API needed to sample balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
}

// RefreshBalances samples the balance of every account in parallel.
func RefreshBalances(ctx context.Context, client BalanceReader, accounts []*Account, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(accounts))
	sem := make(chan struct{}, 16) // Limit concurrent RPC calls

	for i, acc := range accounts {
		wg.Add(1)
		go func(idx int, acc *Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			bal, err := client.GetBalance(ctx, acc.Address)
			if err != nil {
				errChan <- fmt.Errorf("wallet %d (%s): %w", idx, acc.Address.Hex(), err)
				return
			}
			acc.Balance = bal
			logger.Debug("Wallet balance sampled",
				slog.Int("wallet_idx", idx),
				slog.String("address", acc.Address.Hex()),
				slog.String("balance_eth", FormatEther(bal)),
			)
		}(i, acc)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}
	return nil
}
