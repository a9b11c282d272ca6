// Package money provides shared amount parsing and formatting utilities.
//
// Order prices and funds holds use 2 decimal places. All amounts are
// stored as big.Int in cents (1.00 = 100 cents).
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "12.50") to its cent
// big.Int representation (1250). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 2 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a cent big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "12.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Add returns the formatted sum of two amount strings.
// Invalid inputs are treated as zero.
func Add(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return Format(new(big.Int).Add(x, y))
}

// Sub returns the formatted difference a-b of two amount strings.
// Invalid inputs are treated as zero.
func Sub(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return Format(new(big.Int).Sub(x, y))
}

// Cmp compares two amount strings. Invalid inputs compare as zero.
func Cmp(a, b string) int {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return x.Cmp(y)
}

// IsPositive reports whether s parses to an amount greater than zero.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}
