package split

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RevenueDecimals is the fixed-point scale used for on-ledger revenue amounts.
const RevenueDecimals = 6

// ErrInvalidAmount is returned when a decimal amount string cannot be parsed
// into smallest currency units.
var ErrInvalidAmount = errors.New("split: invalid amount")

// FormatUnits renders a smallest-unit integer amount as a decimal string with
// the given scale. The conversion is exact; no floating point is involved.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if decimals <= 0 {
		return amount.String()
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	scale := pow10(decimals)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))
	out := fmt.Sprintf("%s.%0*s", whole, decimals, frac.String())
	if neg {
		out = "-" + out
	}
	return out
}

// ParseUnits converts a decimal amount string into smallest currency units at
// the given scale. Fractional digits beyond the scale are rejected rather than
// rounded so that ledger amounts round-trip exactly.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, ErrInvalidAmount
	}
	neg := false
	switch trimmed[0] {
	case '-':
		neg = true
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	wholePart := trimmed
	fracPart := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		wholePart = trimmed[:idx]
		fracPart = trimmed[idx+1:]
	}
	if wholePart == "" && fracPart == "" {
		return nil, ErrInvalidAmount
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits in %q", ErrInvalidAmount, decimals, value)
	}
	if wholePart == "" {
		wholePart = "0"
	}
	whole, ok := new(big.Int).SetString(wholePart, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	out := whole.Mul(whole, pow10(decimals))
	if fracPart != "" {
		frac, ok := new(big.Int).SetString(fracPart, 10)
		if !ok || frac.Sign() < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
		frac.Mul(frac, pow10(decimals-len(fracPart)))
		out.Add(out, frac)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
