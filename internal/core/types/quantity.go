// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Quantity is a stock quantity in whole base units of the product's unit of measure.
// Movement and lot quantities are integers; the ledger never stores fractions.
type Quantity int64

func (q Quantity) Int64() int64 { return int64(q) }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// Decimal converts q for money arithmetic.
func (q Quantity) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(q))
}

// Min returns the smaller of a and b.
func Min(a, b Quantity) Quantity {
	if a < b {
		return a
	}
	return b
}

var hundred = decimal.NewFromInt(100)

// PercentOf returns |part / whole| * 100 rounded to two decimals.
// When whole is not positive the result is 100 for a non-zero part and 0 otherwise.
func PercentOf(part, whole Quantity) decimal.Decimal {
	return ExactPercentOf(part, whole).Round(2)
}

// ExactPercentOf is PercentOf without rounding. Threshold comparisons use it.
func ExactPercentOf(part, whole Quantity) decimal.Decimal {
	if whole <= 0 {
		if part != 0 {
			return hundred
		}
		return decimal.Zero
	}
	return part.Abs().Decimal().Div(whole.Decimal()).Mul(hundred)
}
