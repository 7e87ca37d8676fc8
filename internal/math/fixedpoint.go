package math

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int          // Number of decimal places
	Scale            *uint256.Int // 10^DecimalPrecision
}

var (
	// TokenConfig is shared by the token and the reserve asset: 18 decimals.
	TokenConfig = DecimalConfig{DecimalPrecision: 18, Scale: uint256.NewInt(1_000_000_000_000_000_000)}

	// PerMille is the denominator of every tax rate (42/1000, 69/1000, 889/1000).
	PerMille = uint256.NewInt(1000)
)

// MaxUint256 is the "unlimited" allowance sentinel.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsUnlimited reports whether v is the unlimited allowance sentinel.
func IsUnlimited(v *uint256.Int) bool {
	return v != nil && v.Eq(MaxUint256())
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Units scales a whole-token count to atomic units (n * 10^18).
func Units(whole uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), TokenConfig.Scale)
}

// MulDiv computes floor(a * b / d) with a 512-bit intermediate product.
// Returns ok=false when d is zero or the quotient does not fit 256 bits.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, bool) {
	if d.IsZero() {
		return nil, false
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, false
	}
	return z, true
}

// PerMilleOf computes floor(amount * rate / 1000). The rate is at most 1000,
// so the result never overflows.
func PerMilleOf(amount *uint256.Int, rate uint64) *uint256.Int {
	z, _ := MulDiv(amount, uint256.NewInt(rate), PerMille)
	return z
}

// Add returns a + b, ok=false on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, bool) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	return z, !overflow
}

// Sub returns a - b, ok=false on underflow.
func Sub(a, b *uint256.Int) (*uint256.Int, bool) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	return z, !underflow
}

// Mul returns a * b, ok=false on overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, bool) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	return z, !overflow
}

// ParseAmount parses a base-10 atomic-unit amount ("1000000000000000000").
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// ParseUnits parses a human decimal ("1.5") into atomic units using cfg.
func ParseUnits(s string, cfg DecimalConfig) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > cfg.DecimalPrecision {
		return nil, fmt.Errorf("parse units %q: more than %d fractional digits", s, cfg.DecimalPrecision)
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", cfg.DecimalPrecision-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		digits = "0"
	}
	return ParseAmount(digits)
}

// FormatUnits renders atomic units as a human decimal with trailing zeros
// trimmed, e.g. 1500000000000000000 -> "1.5".
func FormatUnits(v *uint256.Int, cfg DecimalConfig) string {
	if v == nil {
		return "0"
	}
	q, r := new(uint256.Int).DivMod(v, cfg.Scale, new(uint256.Int))
	if r.IsZero() {
		return q.Dec()
	}
	frac := r.Dec()
	frac = strings.Repeat("0", cfg.DecimalPrecision-len(frac)) + frac
	return q.Dec() + "." + strings.TrimRight(frac, "0")
}
