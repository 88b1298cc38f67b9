package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoHeader is returned by Read when the input holds no header row.
var ErrNoHeader = errors.New("table: no header row")

// utf8BOM prefixes some CSV exports and must not leak into the first column name.
const utf8BOM = "\ufeff"

// Table is a header plus rows of string cells. Every row has exactly
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// MissingColumnError reports a column that a caller required but the table
// does not carry.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("table: missing column %q", e.Column)
}

// New builds a Table from a header and rows. Rows shorter than the header are
// padded with empty cells; longer rows are truncated.
func New(columns []string, rows [][]string) *Table {
	t := &Table{Columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
	t.Rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		t.Rows = append(t.Rows, fit(r, len(columns)))
	}
	return t
}

// Read parses CSV text with a header row.
func Read(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("table: read header: %w", err)
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}
	return New(header, rows), nil
}

// ReadString parses CSV text held in memory.
func ReadString(s string) (*Table, error) {
	return Read(strings.NewReader(s))
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Write encodes the table as CSV with a header row.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("table: write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("table: write rows: %w", err)
	}
	return nil
}

// WriteFile writes the table as CSV to path, replacing any existing file.
// The content is staged in a sibling temp file and renamed into place so a
// reader never observes a half-written table.
func (t *Table) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return fmt.Errorf("table: create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("table: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("table: close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("table: rename into %q: %w", path, err)
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Col returns the position of the named column. Duplicate column names
// resolve to the first occurrence.
func (t *Table) Col(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Require checks that every named column is present and returns their
// positions in the same order.
func (t *Table) Require(names ...string) ([]int, error) {
	pos := make([]int, len(names))
	for i, n := range names {
		c, ok := t.Col(n)
		if !ok {
			return nil, &MissingColumnError{Column: n}
		}
		pos[i] = c
	}
	return pos, nil
}

// Where returns a table holding the rows for which keep returns true, in
// their original order. Rows are shared with t, not copied.
func (t *Table) Where(keep func(row []string) bool) *Table {
	out := &Table{Columns: t.Columns, index: t.index}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Eq returns a predicate matching rows whose cell in column col equals v.
func Eq(col int, v string) func(row []string) bool {
	return func(row []string) bool { return row[col] == v }
}

// Lookup returns the cell in column valueCol of the first row whose cell in
// keyCol equals key.
func (t *Table) Lookup(keyCol, valueCol, key string) (string, bool) {
	k, ok := t.Col(keyCol)
	if !ok {
		return "", false
	}
	v, ok := t.Col(valueCol)
	if !ok {
		return "", false
	}
	for _, r := range t.Rows {
		if r[k] == key {
			return r[v], true
		}
	}
	return "", false
}

func fit(row []string, n int) []string {
	switch {
	case len(row) == n:
		return row
	case len(row) > n:
		return row[:n]
	default:
		out := make([]string, n)
		copy(out, row)
		return out
	}
}
