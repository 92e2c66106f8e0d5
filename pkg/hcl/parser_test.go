package hcl

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leowmjw/go-sonify/pkg/render"
)

func TestParseRenderConfig(t *testing.T) {
	content := `
	# Two renders sharing a dataset
	render "slow" {
		bpm = 60

		dataset {
			path      = "data.csv"
			record_ms = beats(2, 60)
			precision = 3

			metric "value" {
				min = 0
				max = 100
			}

			transform "share" {
				kind   = "cumulative"
				source = "value"
			}
		}

		instrument "pad" {
			file        = "pad.wav"
			thresholds  = { value = [0, 0.5], share = [0, 1.01] }
			from_tempo  = 1
			to_tempo    = 2
			tempo_phase = 8
			active      = false
		}

		output {
			sequence    = "slow.csv"
			preview_wav = "slow.wav"
		}
	}

	render "fast" {
		bpm         = 180
		instruments = "instruments.csv"

		dataset {
			path            = "data.csv"
			duration_column = "ms"
		}
	}
	`

	configs, err := ParseRenderConfig([]byte(content), "renders.hcl")
	require.NoError(t, err)
	require.Len(t, configs, 2)

	slow := configs[0]
	assert.Equal(t, "slow", slow.Name)
	assert.Equal(t, 60.0, slow.BPM)
	assert.Equal(t, 2000, slow.Dataset.RecordMs)
	assert.Equal(t, 3, slow.Dataset.Precision)
	require.Len(t, slow.Dataset.Metrics, 1)
	require.NotNil(t, slow.Dataset.Metrics[0].Max)
	assert.Equal(t, 100.0, *slow.Dataset.Metrics[0].Max)
	require.Len(t, slow.Dataset.Transforms, 1)
	assert.Equal(t, "cumulative", slow.Dataset.Transforms[0].Kind)

	require.Len(t, slow.Instruments, 1)
	pad := slow.Instruments[0]
	assert.Equal(t, "pad", pad.Name)
	assert.Equal(t, []float64{0, 0.5}, pad.Thresholds["value"])
	assert.Equal(t, 8, pad.TempoPhase)
	assert.False(t, pad.IsActive())
	require.NotNil(t, slow.Output)
	assert.Equal(t, "slow.wav", slow.Output.PreviewWAV)

	fast := configs[1]
	assert.Equal(t, "instruments.csv", fast.InstrumentsPath)
	assert.Equal(t, "ms", fast.Dataset.DurationColumn)
	assert.Nil(t, fast.Output)
}

func TestParseRenderConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"syntax", `render "x" {`, "failed to parse HCL"},
		{"no renders", `bpm = 10`, "failed to decode HCL body"},
		{"empty", ``, "no render blocks found"},
		{"missing dataset", `render "x" { bpm = 1 }`, "failed to decode HCL body"},
		{"unknown attribute", `render "x" {
			bpm = 1
			tempo_radius = 2
			dataset { path = "d.csv" }
		}`, "Unsupported argument"},
		{"bad beats", `render "x" {
			bpm = 1
			dataset {
				path = "d.csv"
				record_ms = beats(1, 0)
			}
		}`, "bpm must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRenderConfig([]byte(tt.content), "test.hcl")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

const envRender = `
render "env" {
	bpm = 100
	dataset {
		path = env("SONIFY_DATA")
	}
}`

func TestEnvFunction(t *testing.T) {
	t.Setenv("SONIFY_DATA", "/data/rain.csv")

	path := filepath.Join(t.TempDir(), "env.hcl")
	require.NoError(t, os.WriteFile(path, []byte(envRender), 0o644))

	configs, err := ParseRenderFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/rain.csv", configs[0].Dataset.Path)

	configs, err = ParseHCLDirectory(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "/data/rain.csv", configs[0].Dataset.Path)
}

func TestEnvFunctionUnavailableForSubmittedContent(t *testing.T) {
	t.Setenv("SONIFY_DATA", "/data/rain.csv")

	_, err := ParseRenderConfig([]byte(envRender), "request.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env")
}

func TestHCLtoJSONEquivalence(t *testing.T) {
	hclConfigs, err := ParseRenderFile("testdata/rain.hcl")
	require.NoError(t, err)
	require.Len(t, hclConfigs, 1)
	assert.Equal(t, "testdata", hclConfigs[0].BaseDir)

	jsonConfigs, err := render.LoadFile("testdata/rain.json")
	require.NoError(t, err)
	require.Len(t, jsonConfigs, 1)

	AssertConfigsEqual(t, jsonConfigs[0], hclConfigs[0])
}

func TestIsHCL(t *testing.T) {
	assert.True(t, IsHCL([]byte(`render "x" { bpm = 1 }`)))
	assert.False(t, IsHCL([]byte(`render "x" {`)))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "run.hcl")
	require.NoError(t, os.WriteFile(hclPath, []byte(`render "h" {
		bpm = 1
		dataset { path = "d.csv" }
	}`), 0o644))
	yamlPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("name: y\nbpm: 2\ndataset:\n  path: d.csv\n"), 0o644))

	configs, err := LoadConfig(hclPath)
	require.NoError(t, err)
	assert.Equal(t, "h", configs[0].Name)
	assert.Equal(t, dir, configs[0].BaseDir)

	configs, err = LoadConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "y", configs[0].Name)

	configs, err = LoadConfig(dir)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "h", configs[0].Name)

	_, err = LoadConfig(filepath.Join(dir, "missing.hcl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSampleProjectRenders(t *testing.T) {
	configs, err := LoadConfig(filepath.Join("..", "..", "examples", "smog", "smog.hcl"))
	require.NoError(t, err)
	require.Len(t, configs, 1)

	cfg := configs[0]
	assert.Equal(t, "smog", cfg.Name)
	require.Len(t, cfg.Dataset.Transforms, 1)
	assert.Equal(t, "residue", cfg.Dataset.Transforms[0].Kind)

	cfg.Output.Dir = t.TempDir()
	plan, result, err := render.Run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Len(t, plan.Records, 12)
	assert.Equal(t, 1200, plan.Records[1].Start)
	assert.Len(t, result.Instruments, 3)
	assert.NotEmpty(t, result.Sequence)
	assert.Len(t, result.Outputs, 5)
}
