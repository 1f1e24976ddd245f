package types

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseAmount reads a non-negative decimal or 0x-prefixed hex amount.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

// FormatSigned renders a two's complement value as a signed decimal.
func FormatSigned(x *uint256.Int) string {
	if x.Sign() < 0 {
		return "-" + new(uint256.Int).Abs(x).Dec()
	}
	return x.Dec()
}

// ParseSigned is the inverse of FormatSigned.
func ParseSigned(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	v, err := ParseAmount(strings.TrimPrefix(s, "-"))
	if err != nil {
		return nil, err
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("signed amount %q out of range", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// AddSigned returns a + b where b may be negative, failing when the result
// would drop below zero or overflow.
func AddSigned(a, b *uint256.Int) (*uint256.Int, bool) {
	if b.Sign() >= 0 {
		sum, overflow := new(uint256.Int).AddOverflow(a, b)
		return sum, !overflow
	}
	abs := new(uint256.Int).Abs(b)
	if a.Lt(abs) {
		return nil, false
	}
	return new(uint256.Int).Sub(a, abs), true
}

// SubChecked returns a - b, false if b > a.
func SubChecked(a, b *uint256.Int) (*uint256.Int, bool) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	return diff, !underflow
}

// Sum adds amounts, false on overflow.
func Sum(amounts ...*uint256.Int) (*uint256.Int, bool) {
	total := new(uint256.Int)
	for _, a := range amounts {
		if _, overflow := total.AddOverflow(total, a); overflow {
			return nil, false
		}
	}
	return total, true
}
