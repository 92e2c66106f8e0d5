package render

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/leowmjw/go-sonify/pkg/dataset"
	"github.com/leowmjw/go-sonify/pkg/timeline"
)

// Config describes one sonification run
type Config struct {
	Name             string  `hcl:"name,label" yaml:"name" json:"name"`
	BPM              float64 `hcl:"bpm" yaml:"bpm" json:"bpm"`
	DivisionsPerBeat int     `hcl:"divisions_per_beat,optional" yaml:"divisions_per_beat" json:"divisions_per_beat,omitempty"`
	VarianceMs       int     `hcl:"variance_ms,optional" yaml:"variance_ms" json:"variance_ms,omitempty"`
	Gain             float64 `hcl:"gain,optional" yaml:"gain" json:"gain,omitempty"`
	Tempo            float64 `hcl:"tempo,optional" yaml:"tempo" json:"tempo,omitempty"`
	TempoRad         float64 `hcl:"tempo_rad,optional" yaml:"tempo_rad" json:"tempo_rad,omitempty"`

	Dataset DatasetConfig `hcl:"dataset,block" yaml:"dataset" json:"dataset"`

	InstrumentsPath string                   `hcl:"instruments,optional" yaml:"instruments" json:"instruments,omitempty"`
	Instruments     []dataset.InstrumentSpec `hcl:"instrument,block" yaml:"instrument" json:"instrument,omitempty"`

	Output *OutputConfig `hcl:"output,block" yaml:"output" json:"output,omitempty"`

	// BaseDir resolves relative paths; set by the config loader
	BaseDir string `yaml:"-" json:"base_dir,omitempty"`
}

// DatasetConfig describes the input table and how rows become records
type DatasetConfig struct {
	Path           string  `hcl:"path" yaml:"path" json:"path"`
	Format         string  `hcl:"format,optional" yaml:"format" json:"format,omitempty"`
	LabelColumn    string  `hcl:"label_column,optional" yaml:"label_column" json:"label_column,omitempty"`
	CategoryColumn string  `hcl:"category_column,optional" yaml:"category_column" json:"category_column,omitempty"`
	RecordMs       int     `hcl:"record_ms,optional" yaml:"record_ms" json:"record_ms,omitempty"`
	RecordBeats    float64 `hcl:"record_beats,optional" yaml:"record_beats" json:"record_beats,omitempty"`
	DurationColumn string  `hcl:"duration_column,optional" yaml:"duration_column" json:"duration_column,omitempty"`
	StartColumn    string  `hcl:"start_column,optional" yaml:"start_column" json:"start_column,omitempty"`
	StopColumn     string  `hcl:"stop_column,optional" yaml:"stop_column" json:"stop_column,omitempty"`
	ZeroRange      string  `hcl:"zero_range,optional" yaml:"zero_range" json:"zero_range,omitempty"`
	Precision      int     `hcl:"precision,optional" yaml:"precision" json:"precision,omitempty"`

	// Columns are extra numeric columns kept on records, such as transform group columns
	Columns []string `hcl:"columns,optional" yaml:"columns" json:"columns,omitempty"`

	Metrics    []MetricConfig    `hcl:"metric,block" yaml:"metric" json:"metric,omitempty"`
	Transforms []TransformConfig `hcl:"transform,block" yaml:"transform" json:"transform,omitempty"`
}

// MetricConfig declares a column that is normalized and available to thresholds
type MetricConfig struct {
	Name       string   `hcl:"name,label" yaml:"name" json:"name"`
	RangeGroup string   `hcl:"range_group,optional" yaml:"range_group" json:"range_group,omitempty"`
	Min        *float64 `hcl:"min,optional" yaml:"min" json:"min,omitempty"`
	Max        *float64 `hcl:"max,optional" yaml:"max" json:"max,omitempty"`
}

// TransformConfig declares a derived metric
type TransformConfig struct {
	Name      string  `hcl:"name,label" yaml:"name" json:"name"`
	Kind      string  `hcl:"kind" yaml:"kind" json:"kind"`
	Source    string  `hcl:"source" yaml:"source" json:"source"`
	Threshold float64 `hcl:"threshold,optional" yaml:"threshold" json:"threshold,omitempty"`
	Decay     float64 `hcl:"decay,optional" yaml:"decay" json:"decay,omitempty"`
	Group     string  `hcl:"group,optional" yaml:"group" json:"group,omitempty"`
}

// OutputConfig lists the files a run writes; empty paths are skipped
type OutputConfig struct {
	Dir               string `hcl:"dir,optional" yaml:"dir" json:"dir,omitempty"`
	Sequence          string `hcl:"sequence,optional" yaml:"sequence" json:"sequence,omitempty"`
	Instruments       string `hcl:"instruments,optional" yaml:"instruments" json:"instruments,omitempty"`
	ReportSummary     string `hcl:"report_summary,optional" yaml:"report_summary" json:"report_summary,omitempty"`
	ReportSequence    string `hcl:"report_sequence,optional" yaml:"report_sequence" json:"report_sequence,omitempty"`
	Visualization     string `hcl:"visualization,optional" yaml:"visualization" json:"visualization,omitempty"`
	PreviewWAV        string `hcl:"preview_wav,optional" yaml:"preview_wav" json:"preview_wav,omitempty"`
	PreviewSampleRate int    `hcl:"preview_sample_rate,optional" yaml:"preview_sample_rate" json:"preview_sample_rate,omitempty"`
}

const defaultDivisionsPerBeat = 4

// ApplyDefaults fills unset run-wide values
func (c *Config) ApplyDefaults() {
	if c.DivisionsPerBeat == 0 {
		c.DivisionsPerBeat = defaultDivisionsPerBeat
	}
	if c.Gain == 0 {
		c.Gain = 1
	}
	if c.Tempo == 0 {
		c.Tempo = 1
	}
	if c.TempoRad == 0 {
		c.TempoRad = 1
	}
	if c.Dataset.ZeroRange == "" {
		c.Dataset.ZeroRange = string(timeline.PolicyMidpoint)
	}
	if c.Output == nil {
		c.Output = &OutputConfig{}
	}
}

// Validate checks the config, naming the first offending field
func (c *Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.BPM <= 0 {
		errs = append(errs, fmt.Errorf("bpm must be positive, got %v", c.BPM))
	}
	if c.DivisionsPerBeat < 0 {
		errs = append(errs, fmt.Errorf("divisions_per_beat must be positive, got %d", c.DivisionsPerBeat))
	}
	if c.VarianceMs < 0 {
		errs = append(errs, fmt.Errorf("variance_ms must not be negative, got %d", c.VarianceMs))
	}
	if c.Dataset.Path == "" {
		errs = append(errs, errors.New("dataset.path is required"))
	}
	switch timeline.ZeroRangePolicy(c.Dataset.ZeroRange) {
	case "", timeline.PolicyMidpoint, timeline.PolicyReject:
	default:
		errs = append(errs, fmt.Errorf("dataset.zero_range must be %q or %q", timeline.PolicyMidpoint, timeline.PolicyReject))
	}
	d := c.Dataset
	if (d.StartColumn == "") != (d.StopColumn == "") {
		errs = append(errs, errors.New("dataset.start_column and dataset.stop_column must be set together"))
	}
	if d.StartColumn == "" && d.DurationColumn == "" && d.RecordMs <= 0 && d.RecordBeats <= 0 {
		errs = append(errs, errors.New("dataset needs record_ms, record_beats, duration_column or start_column/stop_column"))
	}
	if c.InstrumentsPath == "" && len(c.Instruments) == 0 {
		errs = append(errs, errors.New("instruments path or instrument blocks are required"))
	}

	seen := make(map[string]bool)
	for _, m := range d.Metrics {
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("dataset.metric %q declared twice", m.Name))
		}
		seen[m.Name] = true
	}
	registry := timeline.NewTransformRegistry()
	for _, tr := range d.Transforms {
		if _, err := registry.Stage(tr.Kind); err != nil {
			errs = append(errs, fmt.Errorf("dataset.transform %q: %w", tr.Name, err))
		}
		if tr.Source == "" {
			errs = append(errs, fmt.Errorf("dataset.transform %q: source is required", tr.Name))
		}
	}

	return errors.Join(errs...)
}

// BeatMs is the length of one beat at the configured BPM
func (c *Config) BeatMs() int {
	return int(math.Round(60000 / c.BPM))
}

// RoundToMs is the beat subdivision beat lengths are rounded to
func (c *Config) RoundToMs() int {
	div := c.DivisionsPerBeat
	if div <= 0 {
		div = defaultDivisionsPerBeat
	}
	return int(math.Round(float64(c.BeatMs()) / float64(div)))
}

// RecordMs is the fixed record length, if any
func (c *Config) RecordMs() int {
	if c.Dataset.RecordMs > 0 {
		return c.Dataset.RecordMs
	}
	return int(math.Round(c.Dataset.RecordBeats * float64(c.BeatMs())))
}

// Timing returns the values instruments are resolved against
func (c *Config) Timing() dataset.Timing {
	return dataset.Timing{BeatMs: c.BeatMs(), Tempo: c.Tempo, Gain: c.Gain}
}

// MetricNames lists declared metrics and transform outputs
func (c *Config) MetricNames() []string {
	var names []string
	for _, m := range c.Dataset.Metrics {
		names = append(names, m.Name)
	}
	for _, tr := range c.Dataset.Transforms {
		names = append(names, tr.Name)
	}
	return names
}

// Resolve joins a configured path onto BaseDir unless it is absolute
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.BaseDir == "" {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}

// OutputPath resolves an output path against the output directory and BaseDir
func (c *Config) OutputPath(path string) string {
	if path == "" {
		return ""
	}
	if c.Output != nil && c.Output.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(c.Output.Dir, path)
	}
	return c.Resolve(path)
}

// Paths lists every file the run reads or writes, resolved against BaseDir
func (c *Config) Paths() []string {
	paths := []string{c.Resolve(c.Dataset.Path)}
	if c.InstrumentsPath != "" {
		paths = append(paths, c.Resolve(c.InstrumentsPath))
	}
	for _, inst := range c.Instruments {
		if inst.File != "" {
			paths = append(paths, c.Resolve(inst.File))
		}
	}
	if out := c.Output; out != nil {
		for _, p := range []string{out.Sequence, out.Instruments, out.ReportSummary, out.ReportSequence, out.Visualization, out.PreviewWAV} {
			if p != "" {
				paths = append(paths, c.OutputPath(p))
			}
		}
	}
	return paths
}

// ID is a filesystem and workflow friendly form of the run name
func (c *Config) ID() string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, c.Name)
}
