package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTable(t *testing.T, input string) *Table {
	t.Helper()
	table, err := ReadTable(strings.NewReader(input), FormatCSV, "test.csv")
	require.NoError(t, err)
	return table
}

func TestRecordsFixedDuration(t *testing.T) {
	table := mustTable(t, "station,borough,income\nA,Bronx,10\nB,Queens,30\nC,Bronx,20\n")

	records, err := table.Records(RecordOptions{
		Numeric:        []string{"income"},
		LabelColumn:    "station",
		CategoryColumn: "borough",
		RecordMs:       1500,
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, 0, records[0].Start)
	assert.Equal(t, 1500, records[0].Stop)
	assert.Equal(t, 3000, records[2].Start)
	assert.Equal(t, "B", records[1].Label)
	assert.Equal(t, "Bronx", records[2].Category)
	assert.Equal(t, 30.0, records[1].Raw["income"])

	// tiling invariant
	for i := 1; i < len(records); i++ {
		assert.Equal(t, records[i-1].Stop, records[i].Start)
	}
}

func TestRecordsDurationColumn(t *testing.T) {
	table := mustTable(t, "ms,v\n100,1\n250,2\n")
	records, err := table.Records(RecordOptions{Numeric: []string{"v"}, DurationColumn: "ms"})
	require.NoError(t, err)
	assert.Equal(t, 100, records[1].Start)
	assert.Equal(t, 350, records[1].Stop)
}

func TestRecordsStartStopColumns(t *testing.T) {
	table := mustTable(t, "start,stop,v\n0,100,1\n200,300,2\n")
	records, err := table.Records(RecordOptions{Numeric: []string{"v"}, StartColumn: "start", StopColumn: "stop"})
	require.NoError(t, err)
	assert.Equal(t, 200, records[1].Start)

	overlapping := mustTable(t, "start,stop,v\n0,100,1\n50,300,2\n")
	_, err = overlapping.Records(RecordOptions{Numeric: []string{"v"}, StartColumn: "start", StopColumn: "stop"})
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 3, rowErr.Line)
}

func TestRecordsMissingColumn(t *testing.T) {
	table := mustTable(t, "a,b\n1,2\n")
	_, err := table.Records(RecordOptions{Numeric: []string{"a", "pm25"}, RecordMs: 10})

	var colErr *MissingColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "pm25", colErr.Column)
}

func TestRecordsMalformedValue(t *testing.T) {
	table := mustTable(t, "a\n1\nabc\n")
	_, err := table.Records(RecordOptions{Numeric: []string{"a"}, RecordMs: 10})

	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 3, rowErr.Line)
	assert.Equal(t, "a", rowErr.Column)
	assert.Contains(t, rowErr.Error(), "test.csv:3")
}

func TestRecordsNegativeDuration(t *testing.T) {
	table := mustTable(t, "ms\n-5\n")
	_, err := table.Records(RecordOptions{DurationColumn: "ms"})
	var rowErr *RowError
	assert.ErrorAs(t, err, &rowErr)
}

func TestRecordsNoTiming(t *testing.T) {
	table := mustTable(t, "a\n1\n")
	_, err := table.Records(RecordOptions{Numeric: []string{"a"}})
	assert.Error(t, err)
}

func TestIntAcceptsIntegralFloat(t *testing.T) {
	table := mustTable(t, "ms\n1000.0\n12.5\n")
	v, err := table.Int(table.Rows[0], "ms")
	require.NoError(t, err)
	assert.Equal(t, 1000, v)

	_, err = table.Int(table.Rows[1], "ms")
	assert.Error(t, err)
}

func TestBoolOr(t *testing.T) {
	table := mustTable(t, "active\n1\nno\nmaybe\n\n")
	v, err := table.BoolOr(table.Rows[0], "active", false)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = table.BoolOr(table.Rows[1], "active", true)
	require.NoError(t, err)
	assert.False(t, v)

	_, err = table.BoolOr(table.Rows[2], "active", true)
	assert.Error(t, err)

	v, err = table.BoolOr(table.Rows[0], "missing", true)
	require.NoError(t, err)
	assert.True(t, v)
}
