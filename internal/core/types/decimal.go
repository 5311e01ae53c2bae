// Package types provides the numeric types shared by the valuation engine.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

const (
	// MoneyPlaces is the currency precision of stored unit costs and reported totals.
	MoneyPlaces int32 = 2

	// UnitCostPlaces is the precision of derived (blended) unit costs.
	UnitCostPlaces int32 = 4
)

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// RoundMoney rounds a monetary total to currency precision (half away from zero).
func RoundMoney(m Money) Money {
	return m.Round(MoneyPlaces)
}

// RoundUnitCost rounds a derived unit cost.
func RoundUnitCost(m Money) Money {
	return m.Round(UnitCostPlaces)
}

// MulUnits multiplies a unit cost by a whole number of units. Exact.
func MulUnits(unitCost Money, units int64) Money {
	return unitCost.Mul(decimal.NewFromInt(units))
}

// DivUnits divides a value by a unit count, returning zero for a zero divisor.
// The quotient carries UnitCostPlaces of precision.
func DivUnits(value Money, units int64) Money {
	if units == 0 {
		return decimal.Zero
	}
	return value.DivRound(decimal.NewFromInt(units), UnitCostPlaces)
}

// HasMoneyPrecision reports whether m fits currency precision without rounding.
func HasMoneyPrecision(m Money) bool {
	return m.Equal(m.Round(MoneyPlaces))
}
