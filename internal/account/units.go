package account

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var etherWei = big.NewInt(params.Ether)

// DustThreshold is the balance at or below which a wallet is skipped (0.001 ether).
var DustThreshold = big.NewInt(params.Ether / 1000)

// ParseEther converts a decimal ether amount such as "0.001" to wei.
func ParseEther(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("not a decimal ether amount: %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("ether amount cannot be negative: %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(etherWei))
	if !r.IsInt() {
		return nil, fmt.Errorf("ether amount has more than 18 decimals: %q", s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatEther renders a wei amount as ether with trailing zeros trimmed.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, etherWei).FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
