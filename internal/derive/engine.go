package derive

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/cepalstack/cepalstack/internal/table"
)

// Column names of the CEPALSTAT records exports.
const (
	ColCountry      = "Country__ESTANDAR"
	ColYear         = "Years__ESTANDAR"
	ColArea         = "Geographical area"
	ColIncomeSaving = "Income_saving"
	ColSex          = "Sex__ESTANDAR"
	ColDecile       = "Deciles"
	ColValue        = "value"
	ColISO3         = "iso3"
)

// Member values the structural filters select.
const (
	AreaNational        = "National"
	GrossNationalIncome = "Gross national income"
	BothSexes           = "Both sexes"
)

// Table names used in DataShapeError.
const (
	TableIncomeDistribution = "income distribution"
	TableNationalIncome     = "national income"
	TablePopulation         = "population"
)

// Inputs are the three records tables the derivation joins.
type Inputs struct {
	IncomeDistribution *table.Table
	NationalIncome     *table.Table
	Population         *table.Table
}

// Row is one derived monthly income figure.
type Row struct {
	ISO3          string
	Country       string
	Year          int
	MonthlyIncome float64
	Decile        string
}

// Result is the ordered output of one derivation: country-major in order of
// first appearance, then year ascending, then Decile 1 to Decile 10.
type Result struct {
	Rows []Row

	// Countries is the number of distinct countries considered.
	Countries int
	// FirstYear and LastYear bound the year range iterated over.
	FirstYear, LastYear int
	// Duplicates counts lookups where first-row-wins discarded extra matches.
	Duplicates int
}

// observation is one parsed source row. Only the fields the source carries
// are set.
type observation struct {
	country string
	year    int
	hasYear bool
	value   float64
	iso3    string
	decile  string
}

// firstRowWins resolves a lookup that matched several rows by taking the
// first in table order. dups is incremented when matches holds more than one
// row. matches must not be empty.
func firstRowWins(matches []observation, dups *int) observation {
	if len(matches) > 1 {
		*dups++
	}
	return matches[0]
}

// Derive computes the monthly income per decile, country and year. The
// tables are not modified.
func Derive(in Inputs) (*Result, error) {
	incCols, err := requireColumns(TableIncomeDistribution, in.IncomeDistribution,
		ColCountry, ColYear, ColArea, ColDecile, ColValue, ColISO3)
	if err != nil {
		return nil, err
	}
	natCols, err := requireColumns(TableNationalIncome, in.NationalIncome,
		ColCountry, ColYear, ColIncomeSaving, ColValue)
	if err != nil {
		return nil, err
	}
	popCols, err := requireColumns(TablePopulation, in.Population,
		ColCountry, ColYear, ColArea, ColSex, ColValue)
	if err != nil {
		return nil, err
	}

	// Countries and years come from the unfiltered income distribution.
	countries := distinct(in.IncomeDistribution, incCols[0])
	first, last, ok := yearRange(in.IncomeDistribution, incCols[1])
	if !ok {
		return nil, ErrEmptyResult
	}

	income := observe(in.IncomeDistribution.Where(table.Eq(incCols[2], AreaNational)),
		columns{country: incCols[0], year: incCols[1], value: incCols[4], iso3: incCols[5], decile: incCols[3]})
	for i := range income {
		income[i].value /= PercentScale
	}
	national := observe(in.NationalIncome.Where(table.Eq(natCols[2], GrossNationalIncome)),
		columns{country: natCols[0], year: natCols[1], value: natCols[3], iso3: -1, decile: -1})
	population := observe(in.Population.Where(func(r []string) bool {
		return r[popCols[2]] == AreaNational && r[popCols[3]] == BothSexes
	}), columns{country: popCols[0], year: popCols[1], value: popCols[4], iso3: -1, decile: -1})

	res := &Result{Countries: len(countries), FirstYear: first, LastYear: last}
	for _, country := range countries {
		incC := byCountry(income, country)
		natC := byCountry(national, country)
		popC := byCountry(population, country)
		for year := first; year <= last; year++ {
			res.Rows = appendYear(res.Rows, country, year,
				byYear(incC, year), byYear(natC, year), byYear(popC, year), &res.Duplicates)
		}
	}

	if len(res.Rows) == 0 {
		return nil, ErrEmptyResult
	}
	for i := range res.Rows {
		res.Rows[i].MonthlyIncome = Scale(res.Rows[i].MonthlyIncome)
	}
	if res.Duplicates > 0 {
		slog.Warn("derive: duplicate source rows resolved by first-row-wins", "lookups", res.Duplicates)
	}
	return res, nil
}

// appendYear appends the decile rows of one (country, year). Nothing is
// appended unless all three sources have data for that year.
func appendYear(rows []Row, country string, year int, income, national, population []observation, dups *int) []Row {
	if len(income) == 0 || len(national) == 0 || len(population) == 0 {
		return rows
	}
	nationalIncome := firstRowWins(national, dups).value
	pop := firstRowWins(population, dups).value
	iso3 := income[0].iso3

	for _, label := range Deciles {
		matches := byDecile(income, label)
		if len(matches) == 0 {
			continue
		}
		share := firstRowWins(matches, dups).value
		rows = append(rows, Row{
			ISO3:          iso3,
			Country:       country,
			Year:          year,
			MonthlyIncome: MonthlyIncome(share, nationalIncome, pop),
			Decile:        label,
		})
	}
	return rows
}

// columns holds the positions of the fields observe extracts; -1 skips one.
type columns struct {
	country, year, value, iso3, decile int
}

func observe(t *table.Table, c columns) []observation {
	out := make([]observation, 0, t.Len())
	for _, r := range t.Rows {
		o := observation{country: r[c.country], value: parseValue(r[c.value])}
		o.year, o.hasYear = parseYear(r[c.year])
		if c.iso3 >= 0 {
			o.iso3 = r[c.iso3]
		}
		if c.decile >= 0 {
			o.decile = r[c.decile]
		}
		out = append(out, o)
	}
	return out
}

func byCountry(obs []observation, country string) []observation {
	var out []observation
	for _, o := range obs {
		if o.country == country {
			out = append(out, o)
		}
	}
	return out
}

func byYear(obs []observation, year int) []observation {
	var out []observation
	for _, o := range obs {
		if o.hasYear && o.year == year {
			out = append(out, o)
		}
	}
	return out
}

func byDecile(obs []observation, label string) []observation {
	var out []observation
	for _, o := range obs {
		if o.decile == label {
			out = append(out, o)
		}
	}
	return out
}

// requireColumns maps missing columns to DataShapeError.
func requireColumns(name string, t *table.Table, cols ...string) ([]int, error) {
	if t == nil {
		return nil, &DataShapeError{Table: name, Column: cols[0]}
	}
	pos, err := t.Require(cols...)
	if err != nil {
		var col string
		var mc *table.MissingColumnError
		if errors.As(err, &mc) {
			col = mc.Column
		}
		return nil, &DataShapeError{Table: name, Column: col, Err: err}
	}
	return pos, nil
}

// distinct returns the non-empty values of column col in order of first
// appearance.
func distinct(t *table.Table, col int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Rows {
		v := r[col]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// yearRange returns the smallest and largest parseable year in column col.
func yearRange(t *table.Table, col int) (int, int, bool) {
	years := make([]float64, 0, t.Len())
	for _, r := range t.Rows {
		if y, ok := parseYear(r[col]); ok {
			years = append(years, float64(y))
		}
	}
	if len(years) == 0 {
		return 0, 0, false
	}
	return int(floats.Min(years)), int(floats.Max(years)), true
}

// maxYear bounds the magnitude of an accepted year.
const maxYear = 1_000_000_000

// parseYear accepts "2019" and integral floats such as "2019.0". Values
// beyond maxYear are rejected.
func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if y, err := strconv.Atoi(s); err == nil {
		if y > maxYear || y < -maxYear {
			return 0, false
		}
		return y, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxYear {
		return 0, false
	}
	return int(f), true
}

// parseValue returns NaN for empty or non-numeric cells.
func parseValue(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
