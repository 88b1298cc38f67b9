package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/cepalstack/cepalstack/internal/table"
)

// Metadata column and row names in the API's metadata export.
const (
	ParameterColumn = "parameter"
	ValueColumn     = "value"
	IndicatorName   = "indicator_name"
)

// sheet is the only worksheet of a metadata workbook.
const sheet = "Sheet1"

// ErrNoIndicatorName is returned when the metadata lacks a usable name.
var ErrNoIndicatorName = errors.New("persist: indicator name missing")

// ParseError reports API text that could not be turned into a table.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("persist: parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseCSV parses the CSV text of one API export.
func ParseCSV(what, text string) (*table.Table, error) {
	t, err := table.ReadString(text)
	if err != nil {
		return nil, &ParseError{What: what, Err: err}
	}
	return t, nil
}

// EnsureDirs creates every directory that does not exist yet.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("persist: create %q: %w", d, err)
		}
	}
	return nil
}

// MetadataPath returns where the metadata workbook of indicator id lives.
func MetadataPath(dir, id string) string {
	return filepath.Join(dir, fmt.Sprintf("Metadata ID %s.xlsx", SanitizeName(id)))
}

// RecordsPath returns where the records of the named indicator live.
func RecordsPath(dir, indicatorName string) string {
	return filepath.Join(dir, SanitizeName(indicatorName)+".csv")
}

// SaveMetadata writes t as an Excel workbook, header on the first row.
func SaveMetadata(dir, id string, t *table.Table) (string, error) {
	path := MetadataPath(dir, id)

	f := excelize.NewFile()
	defer f.Close()

	if err := writeRow(f, 1, t.Columns); err != nil {
		return "", err
	}
	for i, r := range t.Rows {
		if err := writeRow(f, i+2, r); err != nil {
			return "", err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("persist: save %q: %w", path, err)
	}
	return path, nil
}

func writeRow(f *excelize.File, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("persist: cell name: %w", err)
	}
	vals := make([]interface{}, len(cells))
	for i, c := range cells {
		vals[i] = c
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("persist: write row %d: %w", row, err)
	}
	return nil
}

// LoadMetadata reads a workbook written by SaveMetadata.
func LoadMetadata(path string) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %q: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("persist: read %q: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("persist: %q: %w", path, table.ErrNoHeader)
	}
	return table.New(rows[0], rows[1:]), nil
}

// ExtractIndicatorName returns the value of the first metadata row whose
// parameter is indicator_name.
func ExtractIndicatorName(meta *table.Table) (string, error) {
	if _, err := meta.Require(ParameterColumn, ValueColumn); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoIndicatorName, err)
	}
	name, ok := meta.Lookup(ParameterColumn, ValueColumn, IndicatorName)
	if !ok || strings.TrimSpace(name) == "" {
		return "", ErrNoIndicatorName
	}
	return name, nil
}

// SaveRecords writes t as CSV under the sanitized indicator name.
func SaveRecords(dir, indicatorName string, t *table.Table) (string, error) {
	path := RecordsPath(dir, indicatorName)
	if err := t.WriteFile(path); err != nil {
		return "", fmt.Errorf("persist: save records: %w", err)
	}
	return path, nil
}

// SanitizeName makes an indicator name safe to use as a file name: every
// rune that is not a letter, digit, space, hyphen or underscore becomes an
// underscore.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
}
