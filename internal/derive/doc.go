// Package derive computes the average monthly income per population decile,
// country and year from three CEPALSTAT records tables.
//
// income.go holds the pure formula (MonthlyIncome, Scale) and its constants.
//
// engine.go joins the tables. The structural filters run once up front
// (National area for income distribution and population, Both sexes for
// population, Gross national income for national income), then the engine
// walks every country of the unfiltered income distribution and every year
// between its min and max. A (country, year) yields rows only when all three
// filtered tables have data for it; a decile yields a row only when its label
// is present. Several rows for one key resolve to the first in table order.
// Rounding to 2 decimals happens before the final ×1000 unit correction.
//
// files.go loads the inputs and writes the result; watch.go re-runs on input
// changes using fsnotify.
package derive
