package dataset

import (
	"errors"
	"fmt"
)

// ErrEmptyDataset is returned when a table has a header but no rows
var ErrEmptyDataset = errors.New("dataset has no rows")

// RowError identifies a malformed input row. It aborts the whole run.
type RowError struct {
	File   string
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s:%d: column %q: %v", e.File, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// MissingColumnError is returned at load time when a required column is absent from the header
type MissingColumnError struct {
	File   string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: missing required column %q", e.File, e.Column)
}
