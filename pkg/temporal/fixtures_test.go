package temporal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leowmjw/go-sonify/pkg/dataset"
	"github.com/leowmjw/go-sonify/pkg/render"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// renderFixture writes a three-record dataset and returns a config that sequences its top half
func renderFixture(t *testing.T, name string) render.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("label,value\na,0\nb,10\nc,5\n"), 0o644))

	return render.Config{
		Name:    name,
		BPM:     120,
		BaseDir: dir,
		Dataset: render.DatasetConfig{
			Path:        "data.csv",
			LabelColumn: "label",
			RecordMs:    1000,
			Metrics:     []render.MetricConfig{{Name: "value"}},
		},
		Instruments: []dataset.InstrumentSpec{{
			Name:       "kick",
			File:       "kick.wav",
			Thresholds: map[string][]float64{"value": {0.5, 1.01}},
		}},
		Output: &render.OutputConfig{
			Sequence:    "sequence.csv",
			Instruments: "instruments.csv",
		},
	}
}
