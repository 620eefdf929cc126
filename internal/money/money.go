// Package money holds the rounding rules shared by every component that
// produces a monetary amount.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept on persisted amounts.
const Scale int32 = 2

// TaxInclusiveCurrency is the only currency whose transfer amounts include tax.
const TaxInclusiveCurrency = "INR"

var hundred = decimal.NewFromInt(100)

// Quantize rounds to two decimal places, half away from zero.
func Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// ExtractPreTax strips inclusive tax from INR amounts. Other currencies are only quantized.
func ExtractPreTax(amount decimal.Decimal, currency string, taxRatePercent decimal.Decimal) decimal.Decimal {
	if !strings.EqualFold(strings.TrimSpace(currency), TaxInclusiveCurrency) {
		return Quantize(amount)
	}
	// A rate at or below -100% would divide by zero or flip the sign.
	if taxRatePercent.LessThanOrEqual(hundred.Neg()) {
		taxRatePercent = decimal.Zero
	}
	divisor := decimal.NewFromInt(1).Add(taxRatePercent.Div(hundred))
	return Quantize(amount.Div(divisor))
}

// Percent returns Quantize(base * ratePercent / 100).
func Percent(base, ratePercent decimal.Decimal) decimal.Decimal {
	return Quantize(base.Mul(ratePercent).Div(hundred))
}
