package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block represents a block with transaction hashes.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         common.Hash   `json:"hash"`
	Transactions []common.Hash `json:"transactions"`
	Timestamp    time.Time     `json:"timestamp"`
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash      common.Hash `json:"transactionHash"`
	Status      uint64      `json:"status"` // 1 = success, 0 = failure
	GasUsed     uint64      `json:"gasUsed"`
	BlockNumber uint64      `json:"blockNumber"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *TransactionReceipt) Succeeded() bool {
	return r.Status == 1
}

func decodeQuantity(raw json.RawMessage, what string) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %q: %w", what, s, err)
	}
	return v, nil
}

func decodeUint64(raw json.RawMessage, what string) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s %q: %w", what, s, err)
	}
	return v, nil
}

// ChainID returns the chain ID reported by the node.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return nil, err
	}
	return decodeQuantity(result, "chain id")
}

// SendRawTransaction submits a signed transaction in a single attempt. A
// dropped connection may still have delivered it, so it is never resent.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error) {
	result, err := c.CallOnce(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetNonce fetches the nonce for an address.
// Uses "pending" so transactions already in the mempool are counted.
func (c *HTTPClient) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []interface{}{address.Hex(), "pending"})
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "nonce")
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "block number")
}

// GetBlockByNumber fetches a block with transaction hashes.
func (c *HTTPClient) GetBlockByNumber(ctx context.Context, blockNum uint64) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(blockNum), false})
	if err != nil {
		return nil, err
	}
	return parseBlock(result)
}

func parseBlock(data json.RawMessage) (*Block, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var rawBlock struct {
		Number       hexutil.Uint64 `json:"number"`
		Hash         common.Hash    `json:"hash"`
		Transactions []common.Hash  `json:"transactions"`
		Timestamp    hexutil.Uint64 `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &rawBlock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	return &Block{
		Number:       uint64(rawBlock.Number),
		Hash:         rawBlock.Hash,
		Transactions: rawBlock.Transactions,
		Timestamp:    time.Unix(int64(rawBlock.Timestamp), 0),
	}, nil
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	return decodeQuantity(result, "gas price")
}

// GetBalance returns the latest balance for an address.
func (c *HTTPClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []interface{}{address.Hex(), "latest"})
	if err != nil {
		return nil, err
	}
	return decodeQuantity(result, "balance")
}

// GetTransactionReceipt returns the receipt for a transaction.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash.Hex()})
	if err != nil {
		return nil, err
	}
	return parseReceipt(result)
}

func parseReceipt(data json.RawMessage) (*TransactionReceipt, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var rawReceipt struct {
		TxHash      common.Hash    `json:"transactionHash"`
		Status      hexutil.Uint64 `json:"status"`
		GasUsed     hexutil.Uint64 `json:"gasUsed"`
		BlockNumber hexutil.Uint64 `json:"blockNumber"`
	}
	if err := json.Unmarshal(data, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &TransactionReceipt{
		TxHash:      rawReceipt.TxHash,
		Status:      uint64(rawReceipt.Status),
		GasUsed:     uint64(rawReceipt.GasUsed),
		BlockNumber: uint64(rawReceipt.BlockNumber),
	}, nil
}
