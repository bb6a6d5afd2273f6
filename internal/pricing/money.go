package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MajorUnits renders cents as a major-unit amount, e.g. 3700 -> 37.
func MajorUnits(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// lessPercent returns cents reduced by pct percent. The reduced price is rounded
// half away from zero to a whole cent, never the discount itself.
func lessPercent(cents int64, pct decimal.Decimal) int64 {
	return clampZero(decimal.NewFromInt(cents).Mul(hundred.Sub(pct)).Div(hundred).Round(0).IntPart())
}

func clampZero(cents int64) int64 {
	if cents < 0 {
		return 0
	}
	return cents
}
