// Package amount converts between base units and human-readable native
// amounts.
package amount

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in one native unit.
const Decimals = 9

// Format renders base units as a decimal native amount, e.g. 10000000 as
// "0.01".
func Format(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -Decimals).String()
}

// Parse converts a decimal native amount into base units. It rejects
// negative values, precision finer than one base unit, and values that do
// not fit in 64 bits.
func Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount: %q is negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount: %q has more than %d decimals", s, Decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, errors.New("amount: value overflows 64 bits")
	}
	return bi.Uint64(), nil
}
