package derive

import (
	"errors"
	"fmt"
)

// ErrEmptyResult is returned when not a single (country, year, decile) row
// could be derived. Partial coverage is not an error.
var ErrEmptyResult = errors.New("derive: no monthly income rows produced")

// DataShapeError reports an input table that lacks a column the derivation
// needs. It is fatal: nothing can be computed without it.
type DataShapeError struct {
	Table  string
	Column string
	Err    error
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("derive: %s table: missing column %q", e.Table, e.Column)
}

func (e *DataShapeError) Unwrap() error { return e.Err }
