package derive

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// Constants of the monthly income formula.
const (
	// PercentScale turns income distribution shares from percentage points
	// into fractions.
	PercentScale = 100.0

	// DecileWidth is the fraction of the population in one decile.
	DecileWidth = 0.1

	// MonthsPerYear spreads yearly income over months.
	MonthsPerYear = 12.0

	// UnitScale corrects national income, reported in millions, divided by
	// population, reported in thousands. It is applied after rounding.
	UnitScale = 1000.0

	// RoundDigits is the number of decimals monthly income is rounded to
	// before UnitScale is applied.
	RoundDigits = 2
)

// NumDeciles is the size of the fixed decile label set.
const NumDeciles = 10

// Deciles are the decile labels in output order, "Decile 1" to "Decile 10".
var Deciles = decileLabels()

func decileLabels() []string {
	out := make([]string, NumDeciles)
	for i := range out {
		out[i] = fmt.Sprintf("Decile %d", i+1)
	}
	return out
}

// MonthlyIncome computes the rounded, not yet scaled, average monthly income
// of one decile:
//
//	year_income    = (share * national_income) / (population * 0.1)
//	monthly_income = round(year_income / 12, 2)
//
// share is a fraction (already divided by 100). Rounding is half-to-even.
// NaN inputs give NaN.
func MonthlyIncome(share, nationalIncome, population float64) float64 {
	yearIncome := (share * nationalIncome) / (population * DecileWidth)
	monthly := yearIncome / MonthsPerYear
	if math.IsNaN(monthly) || math.IsInf(monthly, 0) {
		return monthly
	}
	return scalar.RoundEven(monthly, RoundDigits)
}

// Scale applies the final unit correction to a rounded monthly income.
func Scale(monthly float64) float64 {
	return monthly * UnitScale
}
