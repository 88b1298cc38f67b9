package derive

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepalstack/cepalstack/internal/config"
	"github.com/cepalstack/cepalstack/internal/table"
)

const (
	incomeHeader     = "iso3,Country__ESTANDAR,Years__ESTANDAR,Geographical area,Deciles,value\n"
	nationalHeader   = "iso3,Country__ESTANDAR,Years__ESTANDAR,Income_saving,value\n"
	populationHeader = "iso3,Country__ESTANDAR,Years__ESTANDAR,Geographical area,Sex__ESTANDAR,value\n"
)

// mustTable parses header+body CSV, failing the test on error.
func mustTable(t *testing.T, header string, lines ...string) *table.Table {
	t.Helper()
	tb, err := table.ReadString(header + strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
	return tb
}

// countryX is the single-country, single-year fixture used by the formula
// tests: decile share 10%, national income 1000 (millions), population 50
// (thousands).
func countryX(t *testing.T) Inputs {
	t.Helper()
	return Inputs{
		IncomeDistribution: mustTable(t, incomeHeader, "CTX,CountryX,2019,National,Decile 1,10"),
		NationalIncome:     mustTable(t, nationalHeader, "CTX,CountryX,2019,Gross national income,1000"),
		Population:         mustTable(t, populationHeader, "CTX,CountryX,2019,National,Both sexes,50"),
	}
}

func TestDerive_UnitCorrectness(t *testing.T) {
	res, err := Derive(countryX(t))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	got := res.Rows[0]
	assert.Equal(t, "CTX", got.ISO3)
	assert.Equal(t, "CountryX", got.Country)
	assert.Equal(t, 2019, got.Year)
	assert.Equal(t, "Decile 1", got.Decile)
	// year_income = (0.10*1000)/(50*0.1) = 20; round(20/12, 2) = 1.67; ×1000.
	assert.InDelta(t, 1670.0, got.MonthlyIncome, 1e-9)
}

func TestDerive_RoundsBeforeScaling(t *testing.T) {
	in := countryX(t)
	// monthly = national/600 = 1.23456 → 1.23 → 1230 (scaling first would give 1234.56).
	in.NationalIncome = mustTable(t, nationalHeader, "CTX,CountryX,2019,Gross national income,740.736")

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 1230.0, res.Rows[0].MonthlyIncome, 1e-9)
}

func TestDerive_MissingPopulationYearIsSkipped(t *testing.T) {
	in := Inputs{
		IncomeDistribution: mustTable(t, incomeHeader,
			"CTX,CountryX,2018,National,Decile 1,10",
			"CTX,CountryX,2019,National,Decile 1,10",
		),
		NationalIncome: mustTable(t, nationalHeader,
			"CTX,CountryX,2018,Gross national income,1000",
			"CTX,CountryX,2019,Gross national income,1000",
		),
		Population: mustTable(t, populationHeader,
			"CTX,CountryX,2018,National,Both sexes,50",
		),
	}

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 2018, res.Rows[0].Year)
}

func TestDerive_DuplicateNationalIncomeFirstRowWins(t *testing.T) {
	in := countryX(t)
	in.NationalIncome = mustTable(t, nationalHeader,
		"CTX,CountryX,2019,Gross national income,1000",
		"CTX,CountryX,2019,Gross national income,9999",
	)

	var first []Row
	for i := 0; i < 3; i++ {
		res, err := Derive(in)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.InDelta(t, 1670.0, res.Rows[0].MonthlyIncome, 1e-9)
		assert.Equal(t, 1, res.Duplicates)
		if first == nil {
			first = res.Rows
		}
		assert.Equal(t, first, res.Rows, "run %d differs", i)
	}
}

func TestDerive_DecilesInLabelOrder(t *testing.T) {
	lines := []string{
		"CTX,CountryX,2019,National,Decile 10,30",
		"CTX,CountryX,2019,National,Decile 2,4",
		"CTX,CountryX,2019,National,Decile 1,2",
		"CTX,CountryX,2019,National,Quintile 1,6",
		"CTX,CountryX,2019,National,Total,100",
	}
	in := countryX(t)
	in.IncomeDistribution = mustTable(t, incomeHeader, lines...)

	res, err := Derive(in)
	require.NoError(t, err)

	var labels []string
	for _, r := range res.Rows {
		labels = append(labels, r.Decile)
	}
	assert.Equal(t, []string{"Decile 1", "Decile 2", "Decile 10"}, labels)
}

func TestDerive_AtMostTenRowsPerCountryYear(t *testing.T) {
	var lines []string
	for _, d := range Deciles {
		// Every decile twice; the duplicate must not produce a second row.
		lines = append(lines, "CTX,CountryX,2019,National,"+d+",10", "CTX,CountryX,2019,National,"+d+",20")
	}
	in := countryX(t)
	in.IncomeDistribution = mustTable(t, incomeHeader, lines...)

	res, err := Derive(in)
	require.NoError(t, err)
	assert.Len(t, res.Rows, NumDeciles)
	assert.Equal(t, NumDeciles, res.Duplicates)
	for _, r := range res.Rows {
		assert.InDelta(t, 1670.0, r.MonthlyIncome, 1e-9, "first (10%%) share must win for %s", r.Decile)
	}
}

func TestDerive_StructuralFilters(t *testing.T) {
	in := Inputs{
		IncomeDistribution: mustTable(t, incomeHeader,
			"CTX,CountryX,2019,Urban,Decile 1,90",
			"CTX,CountryX,2019,National,Decile 1,10",
		),
		NationalIncome: mustTable(t, nationalHeader,
			"CTX,CountryX,2019,Gross national saving,5",
			"CTX,CountryX,2019,Gross national income,1000",
		),
		Population: mustTable(t, populationHeader,
			"CTX,CountryX,2019,National,Men,7",
			"CTX,CountryX,2019,Rural,Both sexes,8",
			"CTX,CountryX,2019,National,Both sexes,50",
		),
	}

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 1670.0, res.Rows[0].MonthlyIncome, 1e-9)
	assert.Zero(t, res.Duplicates, "filtered-out rows are not duplicates")
}

func TestDerive_CountryWithoutNationalRows(t *testing.T) {
	in := countryX(t)
	in.IncomeDistribution = mustTable(t, incomeHeader,
		"CTY,CountryY,2015,Urban,Decile 1,10",
		"CTX,CountryX,2019,National,Decile 1,10",
	)

	res, err := Derive(in)
	require.NoError(t, err)

	// CountryY and 2015 still define the iteration space.
	assert.Equal(t, 2, res.Countries)
	assert.Equal(t, 2015, res.FirstYear)
	assert.Equal(t, 2019, res.LastYear)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "CountryX", res.Rows[0].Country)
}

func TestDerive_OrderCountryThenYear(t *testing.T) {
	in := Inputs{
		IncomeDistribution: mustTable(t, incomeHeader,
			"BBB,Beta,2020,National,Decile 1,10",
			"AAA,Alpha,2021,National,Decile 1,10",
			"AAA,Alpha,2019,National,Decile 1,10",
			"BBB,Beta,2019,National,Decile 1,10",
		),
		NationalIncome: mustTable(t, nationalHeader,
			"AAA,Alpha,2019,Gross national income,1000",
			"AAA,Alpha,2021,Gross national income,1000",
			"BBB,Beta,2019,Gross national income,1000",
			"BBB,Beta,2020,Gross national income,1000",
		),
		Population: mustTable(t, populationHeader,
			"AAA,Alpha,2019,National,Both sexes,50",
			"AAA,Alpha,2021,National,Both sexes,50",
			"BBB,Beta,2019,National,Both sexes,50",
			"BBB,Beta,2020,National,Both sexes,50",
		),
	}

	res, err := Derive(in)
	require.NoError(t, err)

	type key struct {
		country string
		year    int
	}
	var got []key
	for _, r := range res.Rows {
		got = append(got, key{r.Country, r.Year})
	}
	assert.Equal(t, []key{{"Beta", 2019}, {"Beta", 2020}, {"Alpha", 2019}, {"Alpha", 2021}}, got)
}

func TestDerive_ISO3FromFirstYearRow(t *testing.T) {
	in := countryX(t)
	in.IncomeDistribution = mustTable(t, incomeHeader,
		"XA1,CountryX,2019,National,Decile 2,10",
		"XA2,CountryX,2019,National,Decile 1,10",
	)

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	for _, r := range res.Rows {
		assert.Equal(t, "XA1", r.ISO3)
	}
}

func TestDerive_FloatYears(t *testing.T) {
	in := Inputs{
		IncomeDistribution: mustTable(t, incomeHeader, "CTX,CountryX,2019.0,National,Decile 1,10"),
		NationalIncome:     mustTable(t, nationalHeader, "CTX,CountryX,2019,Gross national income,1000"),
		Population:         mustTable(t, populationHeader, "CTX,CountryX,2019.0,National,Both sexes,50"),
	}

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 2019, res.Rows[0].Year)
}

func TestDerive_NaNValuePropagates(t *testing.T) {
	in := countryX(t)
	in.Population = mustTable(t, populationHeader, "CTX,CountryX,2019,National,Both sexes,")

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, math.IsNaN(res.Rows[0].MonthlyIncome))
	assert.Equal(t, []string{"CTX", "CountryX", "2019", "", "Decile 1"}, res.Table().Rows[0])
}

func TestDerive_ZeroPopulationWritesInf(t *testing.T) {
	in := countryX(t)
	in.Population = mustTable(t, populationHeader, "CTX,CountryX,2019,National,Both sexes,0")

	res, err := Derive(in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, math.IsInf(res.Rows[0].MonthlyIncome, 1))
	assert.Equal(t, []string{"CTX", "CountryX", "2019", "inf", "Decile 1"}, res.Table().Rows[0])
}

func TestFormatIncome(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1670, "1670"},
		{1234.5, "1234.5"},
		{math.NaN(), ""},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, formatIncome(tc.in), "formatIncome(%v)", tc.in)
	}
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"2019", 2019, true},
		{" 2019 ", 2019, true},
		{"2019.0", 2019, true},
		{"2019.5", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"1e300", 0, false},
		{"-1e300", 0, false},
		{"99999999999", 0, false},
		{"Inf", 0, false},
		{"NaN", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := parseYear(tc.in)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDerive_HugeYearIgnoredForRange(t *testing.T) {
	in := countryX(t)
	in.IncomeDistribution = mustTable(t, incomeHeader,
		"CTX,CountryX,2019,National,Decile 1,10",
		"CTX,CountryX,1e300,National,Decile 1,10",
	)

	res, err := Derive(in)
	require.NoError(t, err)
	assert.Equal(t, 2019, res.FirstYear)
	assert.Equal(t, 2019, res.LastYear)
	require.Len(t, res.Rows, 1)
}

func TestDerive_MissingColumn(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *Inputs)
		table  string
		column string
	}{
		{
			name: "income deciles",
			mutate: func(in *Inputs) {
				in.IncomeDistribution = mustTable(t, "iso3,Country__ESTANDAR,Years__ESTANDAR,Geographical area,value\n", "CTX,CountryX,2019,National,10")
			},
			table: TableIncomeDistribution, column: ColDecile,
		},
		{
			name: "national income_saving",
			mutate: func(in *Inputs) {
				in.NationalIncome = mustTable(t, "Country__ESTANDAR,Years__ESTANDAR,value\n", "CountryX,2019,1000")
			},
			table: TableNationalIncome, column: ColIncomeSaving,
		},
		{
			name: "population sex",
			mutate: func(in *Inputs) {
				in.Population = mustTable(t, "Country__ESTANDAR,Years__ESTANDAR,Geographical area,value\n", "CountryX,2019,National,50")
			},
			table: TablePopulation, column: ColSex,
		},
		{
			name:   "population nil",
			mutate: func(in *Inputs) { in.Population = nil },
			table:  TablePopulation, column: ColCountry,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := countryX(t)
			tc.mutate(&in)

			_, err := Derive(in)
			var dse *DataShapeError
			require.True(t, errors.As(err, &dse), "got %v", err)
			assert.Equal(t, tc.table, dse.Table)
			assert.Equal(t, tc.column, dse.Column)
		})
	}
}

func TestDerive_EmptyResult(t *testing.T) {
	t.Run("no overlap", func(t *testing.T) {
		in := countryX(t)
		in.Population = mustTable(t, populationHeader, "CTX,CountryX,2001,National,Both sexes,50")
		_, err := Derive(in)
		assert.True(t, errors.Is(err, ErrEmptyResult))
	})
	t.Run("no rows at all", func(t *testing.T) {
		in := countryX(t)
		in.IncomeDistribution = mustTable(t, incomeHeader)
		_, err := Derive(in)
		assert.True(t, errors.Is(err, ErrEmptyResult))
	})
}

func TestRun_WritesIdenticalOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Derive
	in := countryX(t)
	for i, p := range InputPaths(dir, cfg) {
		tb := []*table.Table{in.IncomeDistribution, in.NationalIncome, in.Population}[i]
		require.NoError(t, tb.WriteFile(p))
	}

	_, out, err := Run(dir, cfg)
	require.NoError(t, err)
	first, err := os.ReadFile(out)
	require.NoError(t, err)

	_, _, err = Run(dir, cfg)
	require.NoError(t, err)
	second, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, config.DefaultOutput), out)
	assert.Equal(t, "iso3,country,year,monthly_income,decile\nCTX,CountryX,2019,1670,Decile 1\n", string(first))
	assert.Equal(t, first, second)
}

func TestRun_MissingInput(t *testing.T) {
	_, _, err := Run(t.TempDir(), config.Default().Derive)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
