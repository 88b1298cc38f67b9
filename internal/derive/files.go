package derive

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/cepalstack/cepalstack/internal/config"
	"github.com/cepalstack/cepalstack/internal/table"
)

// OutputColumns is the header of the derived table.
var OutputColumns = []string{"iso3", "country", "year", "monthly_income", "decile"}

// InputPaths returns the three source table paths, in Inputs field order.
func InputPaths(dataDir string, cfg config.DeriveConfig) []string {
	return []string{
		filepath.Join(dataDir, cfg.IncomeDistribution),
		filepath.Join(dataDir, cfg.NationalIncome),
		filepath.Join(dataDir, cfg.Population),
	}
}

// Load reads the three source tables from dataDir.
func Load(dataDir string, cfg config.DeriveConfig) (Inputs, error) {
	paths := InputPaths(dataDir, cfg)
	tables := make([]*table.Table, len(paths))
	for i, p := range paths {
		t, err := table.ReadFile(p)
		if err != nil {
			return Inputs{}, fmt.Errorf("derive: load input: %w", err)
		}
		tables[i] = t
	}
	return Inputs{IncomeDistribution: tables[0], NationalIncome: tables[1], Population: tables[2]}, nil
}

// Table renders the result with OutputColumns as header. NaN incomes are
// written as empty cells, infinite ones as inf or -inf.
func (r *Result) Table() *table.Table {
	rows := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = []string{row.ISO3, row.Country, strconv.Itoa(row.Year), formatIncome(row.MonthlyIncome), row.Decile}
	}
	return table.New(OutputColumns, rows)
}

func formatIncome(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Run loads the inputs from dataDir, derives the result and writes it to
// cfg.Output in the same folder. It returns the result and the output path.
func Run(dataDir string, cfg config.DeriveConfig) (*Result, string, error) {
	in, err := Load(dataDir, cfg)
	if err != nil {
		return nil, "", err
	}
	res, err := Derive(in)
	if err != nil {
		return nil, "", err
	}
	out := filepath.Join(dataDir, cfg.Output)
	if err := res.Table().WriteFile(out); err != nil {
		return nil, "", fmt.Errorf("derive: write result: %w", err)
	}
	return res, out, nil
}
