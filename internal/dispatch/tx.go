package dispatch

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transfer describes a plain value transfer.
type Transfer struct {
	Nonce    uint64
	To       common.Address
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// NewTransferTx builds an unsigned legacy value transfer.
func NewTransferTx(t Transfer) *types.Transaction {
	to := t.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    t.Nonce,
		GasPrice: t.GasPrice,
		Gas:      t.GasLimit,
		To:       &to,
		Value:    t.Value,
	})
}

// SignTransfer builds and signs a transfer for chainID. It returns the signed
// transaction and its raw encoding, ready for eth_sendRawTransaction.
func SignTransfer(key *ecdsa.PrivateKey, chainID *big.Int, t Transfer) (*types.Transaction, []byte, error) {
	signer := types.LatestSignerForChainID(chainID)
	signed, err := types.SignTx(NewTransferTx(t), signer, key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("encode: %w", err)
	}
	return signed, raw, nil
}
