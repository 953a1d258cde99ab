// Package core provides the ledger data model and the money and date
// primitives shared by the balance and report engines.
//
// This file contains amount parsing, coercion and the cent rounding rule.
package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Round2 rounds x to cents as floor(x*100 + 0.5) / 100 on float64, so
// halves go towards positive infinity (Round2(-0.005) == 0) and a product
// that lands just under a half rounds down (Round2(1.005) == 1).
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}

// Sum accumulates amounts exactly and rounds only when read, so that many
// small parts (33.333 + 33.334) never compound per-line rounding error.
// The zero value is an empty sum.
type Sum struct {
	d decimal.Decimal
}

// Add adds x to the sum.
func (s *Sum) Add(x float64) {
	s.d = s.d.Add(decimal.NewFromFloat(x))
}

// Sub subtracts x from the sum.
func (s *Sum) Sub(x float64) {
	s.d = s.d.Sub(decimal.NewFromFloat(x))
}

// Rounded returns the sum rounded to cents with Round2's rule.
func (s Sum) Rounded() float64 {
	return Round2(s.d.InexactFloat64())
}

// Raw returns the unrounded sum.
func (s Sum) Raw() float64 {
	return s.d.InexactFloat64()
}

// Abs returns the sum with its sign dropped.
func (s Sum) Abs() Sum {
	return Sum{d: s.d.Abs()}
}

// IsPositive reports whether the exact sum is greater than zero.
func (s Sum) IsPositive() bool {
	return s.d.IsPositive()
}

// ParseAmount parses a non-negative decimal amount. Both dot (12.34) and
// comma (12,34) separators are accepted.
//
// Examples:
//   ParseAmount("12.34") -> 12.34, nil
//   ParseAmount("12,5")  -> 12.5, nil
//   ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	if strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// CoerceAmount is the lenient form of ParseAmount used for optional stored
// fields: anything unparseable becomes 0.
func CoerceAmount(s string) float64 {
	v, err := ParseAmount(s)
	if err != nil {
		return 0
	}
	return v
}

// SplitInstallments divides total into n parts rounded to cents. The last
// part absorbs the remainder so the parts always add back up to total.
func SplitInstallments(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	whole := decimal.NewFromFloat(total)
	part := whole.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	parts := make([]float64, n)
	for i := 0; i < n-1; i++ {
		parts[i] = part.InexactFloat64()
	}
	last := whole.Sub(part.Mul(decimal.NewFromInt(int64(n - 1))))
	parts[n-1] = last.InexactFloat64()
	return parts
}
