package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format is the encoding of a tabular input
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatJSON Format = "json"
)

// DetectFormat picks a format from a file extension, defaulting to CSV
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return FormatTSV
	case ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Table is a header-named tabular dataset
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Row is one data row keyed by column name
type Row struct {
	Line   int
	Values map[string]string
}

// HasColumn reports whether the header contains name
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Require returns a MissingColumnError for the first absent column
func (t *Table) Require(columns ...string) error {
	for _, c := range columns {
		if c == "" {
			continue
		}
		if !t.HasColumn(c) {
			return &MissingColumnError{File: t.Name, Column: c}
		}
	}
	return nil
}

// LoadTable reads a tabular file from disk
func LoadTable(path string, format Format) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if format == FormatAuto {
		format = DetectFormat(path)
	}
	return ReadTable(bytes.NewReader(data), format, path)
}

// ReadTable parses a delimited or JSON table. Rows with a different number of
// fields than the header are rejected with a RowError.
func ReadTable(r io.Reader, format Format, name string) (*Table, error) {
	switch format {
	case FormatJSON:
		return readJSON(r, name)
	case FormatTSV:
		return readDelimited(r, '\t', name)
	case FormatCSV, FormatAuto:
		return readDelimited(r, ',', name)
	default:
		return nil, fmt.Errorf("%s: unsupported format %q", name, format)
	}
}

func readDelimited(r io.Reader, comma rune, name string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyDataset)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := &Table{Name: name, Columns: header}
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &RowError{File: name, Line: parseErr.Line, Err: parseErr.Err}
			}
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		line, _ := reader.FieldPos(0)
		values := make(map[string]string, len(header))
		for i, col := range header {
			values[col] = strings.TrimSpace(fields[i])
		}
		table.Rows = append(table.Rows, Row{Line: line, Values: values})
	}

	return table, nil
}

func readJSON(r io.Reader, name string) (*Table, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var items []map[string]interface{}
	if err := decoder.Decode(&items); err != nil {
		return nil, fmt.Errorf("%s: failed to parse JSON: %w", name, err)
	}

	table := &Table{Name: name}
	seen := make(map[string]bool)
	for i, item := range items {
		values := make(map[string]string, len(item))
		for k, v := range item {
			if !seen[k] {
				seen[k] = true
				table.Columns = append(table.Columns, k)
			}
			values[k] = jsonString(v)
		}
		table.Rows = append(table.Rows, Row{Line: i + 1, Values: values})
	}
	sort.Strings(table.Columns)

	// every object must carry every column
	for _, row := range table.Rows {
		for _, c := range table.Columns {
			if _, ok := row.Values[c]; !ok {
				return nil, &RowError{File: name, Line: row.Line, Column: c, Err: errors.New("missing field")}
			}
		}
	}

	return table, nil
}

func jsonString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
