// Package rpctest provides an in-memory rpc.Client for tests.
package rpctest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/txstress/internal/rpc"
)

// FakeClient is a minimal in-memory node. Submitted transactions sit in a
// mempool until Mine is called. Balances are not debited. Any unused nonce at
// or above the SetNonce floor is accepted, gaps included; reuse is rejected.
type FakeClient struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	GasPrice     *big.Int
	Balances     map[common.Address]*big.Int

	// SendErr, if set, is consulted for every submission; a non-nil result rejects it.
	SendErr func(tx *types.Transaction, from common.Address) error
	// GasPriceErr, if set, fails GetGasPrice.
	GasPriceErr error
	// AutoMine mines every accepted transaction into its own block.
	AutoMine bool

	nonces  map[common.Address]uint64 // next pending nonce
	floors  map[common.Address]uint64 // lowest acceptable nonce
	used    map[common.Address]map[uint64]bool
	mempool []*types.Transaction
	sent    []Sent
	blocks  []*rpc.Block
	mined   map[common.Hash]uint64
	signer  types.Signer

	calls map[string]int
}

// Sent is one accepted submission.
type Sent struct {
	Tx   *types.Transaction
	From common.Address
	At   time.Time
}

var _ rpc.Client = (*FakeClient)(nil)

// NewFakeClient returns a fake node for chain id 1337 at block 0.
func NewFakeClient() *FakeClient {
	chainID := big.NewInt(1337)
	return &FakeClient{
		ChainIDValue: chainID,
		GasPrice:     big.NewInt(1_000_000_000),
		Balances:     make(map[common.Address]*big.Int),
		nonces:       make(map[common.Address]uint64),
		floors:       make(map[common.Address]uint64),
		used:         make(map[common.Address]map[uint64]bool),
		mined:        make(map[common.Hash]uint64),
		signer:       types.LatestSignerForChainID(chainID),
		calls:        make(map[string]int),
		blocks:       []*rpc.Block{{Number: 0}},
	}
}

func (f *FakeClient) count(method string) {
	f.calls[method]++
}

// Calls returns how many times method was invoked.
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SetNonce sets the pending nonce the node reports for addr.
func (f *FakeClient) SetNonce(addr common.Address, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[addr] = n
	f.floors[addr] = n
}

// SetBalance sets the balance the node reports for addr.
func (f *FakeClient) SetBalance(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balances[addr] = new(big.Int).Set(wei)
}

// Sent returns a copy of all accepted submissions, in order.
func (f *FakeClient) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// Mine moves every mempool transaction into a new block and returns it.
func (f *FakeClient) Mine() *rpc.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mineLocked()
}

func (f *FakeClient) mineLocked() *rpc.Block {
	b := &rpc.Block{
		Number:    uint64(len(f.blocks)),
		Timestamp: time.Now(),
	}
	for _, tx := range f.mempool {
		b.Transactions = append(b.Transactions, tx.Hash())
		f.mined[tx.Hash()] = b.Number
	}
	f.mempool = nil
	f.blocks = append(f.blocks, b)
	return b
}

// Call is not supported by the fake.
func (f *FakeClient) Call(context.Context, string, []interface{}) (json.RawMessage, error) {
	return nil, errors.New("rpctest: Call not supported")
}

// ChainID implements rpc.Client.
func (f *FakeClient) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_chainId")
	return new(big.Int).Set(f.ChainIDValue), nil
}

// SendRawTransaction implements rpc.Client.
func (f *FakeClient) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, &rpc.RPCError{Code: -32602, Message: err.Error()}
	}
	from, err := types.Sender(f.signer, &tx)
	if err != nil {
		return common.Hash{}, &rpc.RPCError{Code: -32000, Message: "invalid sender"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_sendRawTransaction")

	if f.SendErr != nil {
		if err := f.SendErr(&tx, from); err != nil {
			return common.Hash{}, err
		}
	}
	if floor := f.floors[from]; tx.Nonce() < floor || f.used[from][tx.Nonce()] {
		return common.Hash{}, &rpc.RPCError{Code: -32000, Message: fmt.Sprintf("nonce too low: have %d, next %d", tx.Nonce(), f.nonces[from])}
	}
	if f.used[from] == nil {
		f.used[from] = make(map[uint64]bool)
	}
	f.used[from][tx.Nonce()] = true
	if tx.Nonce() >= f.nonces[from] {
		f.nonces[from] = tx.Nonce() + 1
	}

	f.mempool = append(f.mempool, &tx)
	f.sent = append(f.sent, Sent{Tx: &tx, From: from, At: time.Now()})
	if f.AutoMine {
		f.mineLocked()
	}
	return tx.Hash(), nil
}

// GetNonce implements rpc.Client.
func (f *FakeClient) GetNonce(_ context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_getTransactionCount")
	return f.nonces[addr], nil
}

// GetBlockNumber implements rpc.Client.
func (f *FakeClient) GetBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_blockNumber")
	return uint64(len(f.blocks) - 1), nil
}

// GetBlockByNumber implements rpc.Client.
func (f *FakeClient) GetBlockByNumber(_ context.Context, n uint64) (*rpc.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_getBlockByNumber")
	if n >= uint64(len(f.blocks)) {
		return nil, nil
	}
	b := *f.blocks[n]
	b.Transactions = append([]common.Hash(nil), b.Transactions...)
	return &b, nil
}

// GetGasPrice implements rpc.Client.
func (f *FakeClient) GetGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_gasPrice")
	if f.GasPriceErr != nil {
		return nil, f.GasPriceErr
	}
	return new(big.Int).Set(f.GasPrice), nil
}

// GetBalance implements rpc.Client.
func (f *FakeClient) GetBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_getBalance")
	if b, ok := f.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// GetTransactionReceipt implements rpc.Client.
func (f *FakeClient) GetTransactionReceipt(_ context.Context, hash common.Hash) (*rpc.TransactionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("eth_getTransactionReceipt")
	n, ok := f.mined[hash]
	if !ok {
		return nil, nil
	}
	return &rpc.TransactionReceipt{TxHash: hash, Status: 1, GasUsed: 21000, BlockNumber: n}, nil
}
