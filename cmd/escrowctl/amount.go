package main

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// toBaseUnits converts a human amount such as "1.25" into integer base
// units of a token with the given decimals. Fractions finer than one base
// unit and values outside int64 are rejected.
func toBaseUnits(value string, decimals int32) (int64, error) {
	if decimals < 0 || decimals > 18 {
		return 0, fmt.Errorf("decimals must be within [0, 18], got %d", decimals)
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", value)
	}

	units := d.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", value, decimals)
	}
	bi := units.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("amount %s overflows int64 base units", value)
	}
	return bi.Int64(), nil
}

// fromBaseUnits renders base units as a decimal string.
func fromBaseUnits(units int64, decimals int32) string {
	return decimal.New(units, -decimals).StringFixed(decimals)
}
