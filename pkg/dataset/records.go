package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/leowmjw/go-sonify/pkg/timeline"
)

// RecordOptions describes how table rows become timeline records
type RecordOptions struct {
	// Numeric columns parsed into Record.Raw
	Numeric []string

	LabelColumn    string
	CategoryColumn string

	// Exactly one timing source is used, in this order of precedence
	StartColumn    string
	StopColumn     string
	DurationColumn string
	RecordMs       int
}

// Records converts the table into records that tile the timeline
func (t *Table) Records(opts RecordOptions) ([]timeline.Record, error) {
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%s: %w", t.Name, ErrEmptyDataset)
	}

	required := append([]string{}, opts.Numeric...)
	required = append(required, opts.LabelColumn, opts.CategoryColumn, opts.StartColumn, opts.StopColumn, opts.DurationColumn)
	if err := t.Require(required...); err != nil {
		return nil, err
	}

	explicit := opts.StartColumn != "" && opts.StopColumn != ""
	if !explicit && opts.DurationColumn == "" && opts.RecordMs <= 0 {
		return nil, fmt.Errorf("%s: no record timing configured", t.Name)
	}

	records := make([]timeline.Record, 0, len(t.Rows))
	cursor := 0
	for _, row := range t.Rows {
		rec := timeline.Record{
			Raw:        make(map[string]float64, len(opts.Numeric)),
			Normalized: make(map[string]float64, len(opts.Numeric)),
		}

		for _, col := range opts.Numeric {
			v, err := t.Float(row, col)
			if err != nil {
				return nil, err
			}
			rec.Raw[col] = v
		}
		if opts.LabelColumn != "" {
			rec.Label = row.Values[opts.LabelColumn]
		}
		if opts.CategoryColumn != "" {
			rec.Category = row.Values[opts.CategoryColumn]
		}

		switch {
		case explicit:
			start, err := t.Int(row, opts.StartColumn)
			if err != nil {
				return nil, err
			}
			stop, err := t.Int(row, opts.StopColumn)
			if err != nil {
				return nil, err
			}
			rec.Start, rec.Stop = start, stop
		case opts.DurationColumn != "":
			d, err := t.Int(row, opts.DurationColumn)
			if err != nil {
				return nil, err
			}
			rec.Start, rec.Stop = cursor, cursor+d
		default:
			rec.Start, rec.Stop = cursor, cursor+opts.RecordMs
		}

		if rec.Stop < rec.Start {
			return nil, &RowError{File: t.Name, Line: row.Line, Err: fmt.Errorf("negative duration %d", rec.Duration())}
		}
		if explicit && len(records) > 0 && rec.Start < records[len(records)-1].Stop {
			return nil, &RowError{File: t.Name, Line: row.Line, Column: opts.StartColumn,
				Err: errors.New("record overlaps the previous one")}
		}

		cursor = rec.Stop
		records = append(records, rec)
	}

	return records, nil
}

// Float parses a numeric cell
func (t *Table) Float(row Row, col string) (float64, error) {
	raw, ok := row.Values[col]
	if !ok {
		return 0, &MissingColumnError{File: t.Name, Column: col}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &RowError{File: t.Name, Line: row.Line, Column: col, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &RowError{File: t.Name, Line: row.Line, Column: col, Err: fmt.Errorf("not a finite number: %s", raw)}
	}
	return v, nil
}

// Int parses an integer cell, accepting integral floats such as "1000.0"
func (t *Table) Int(row Row, col string) (int, error) {
	v, err := t.Float(row, col)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, &RowError{File: t.Name, Line: row.Line, Column: col, Err: fmt.Errorf("not an integer: %v", v)}
	}
	return int(v), nil
}

// FloatOr parses an optional numeric cell, returning def when the column is absent or blank
func (t *Table) FloatOr(row Row, col string, def float64) (float64, error) {
	if raw, ok := row.Values[col]; !ok || raw == "" {
		return def, nil
	}
	return t.Float(row, col)
}

// BoolOr parses an optional flag cell ("1", "true", "yes")
func (t *Table) BoolOr(row Row, col string, def bool) (bool, error) {
	raw, ok := row.Values[col]
	if !ok || raw == "" {
		return def, nil
	}
	switch raw {
	case "1", "true", "TRUE", "True", "yes", "y":
		return true, nil
	case "0", "false", "FALSE", "False", "no", "n":
		return false, nil
	}
	return false, &RowError{File: t.Name, Line: row.Line, Column: col, Err: fmt.Errorf("not a flag: %q", raw)}
}
