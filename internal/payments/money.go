package payments

import "github.com/shopspring/decimal"

var minorUnitFactor = decimal.NewFromInt(100)

// ToMinorUnits converts a two-decimal amount into the processor's minor currency unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// FromMinorUnits converts a processor amount back into a two-decimal value.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
