package account

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ReadKeys parses one hex private key per line.
// Blank lines and lines starting with # are skipped.
func ReadKeys(r io.Reader) ([]string, error) {
	var keys []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

// ParseKeys turns hex keys into accounts, in order.
func ParseKeys(keys []string) ([]*Account, error) {
	accounts := make([]*Account, 0, len(keys))
	for i, k := range keys {
		acc, err := NewAccountFromHex(k)
		if err != nil {
			// Never echo key material.
			return nil, fmt.Errorf("key %d: invalid private key: %w", i+1, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// LoadFile reads a key file and returns its accounts without balances.
func LoadFile(path string) ([]*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	keys, err := ReadKeys(f)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	return ParseKeys(keys)
}

// Load reads a key file and samples each wallet's balance from the node.
func Load(ctx context.Context, path string, client BalanceReader, logger *slog.Logger) ([]*Account, error) {
	accounts, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := RefreshBalances(ctx, client, accounts, logger); err != nil {
		return nil, fmt.Errorf("sample balances: %w", err)
	}
	return accounts, nil
}
