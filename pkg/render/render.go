package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leowmjw/go-sonify/pkg/dataset"
	"github.com/leowmjw/go-sonify/pkg/timeline"
)

// ErrInvalidConfig marks configuration errors that no retry can fix
var ErrInvalidConfig = errors.New("invalid config")

// Plan is everything a run needs to build its sequence
type Plan struct {
	Name        string                          `json:"name"`
	BPM         float64                         `json:"bpm"`
	BeatMs      int                             `json:"beat_ms"`
	TotalMs     int                             `json:"total_ms"`
	Metrics     []string                        `json:"metrics"`
	Instruments []timeline.Instrument           `json:"instruments"`
	Records     []timeline.Record               `json:"records"`
	Ranges      map[string]timeline.MetricRange `json:"ranges"`
	Options     timeline.BuilderOptions         `json:"options"`
}

// InstrumentStats summarizes what one instrument contributed
type InstrumentStats struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Spans  int    `json:"spans"`
	Events int    `json:"events"`
}

// Result is the outcome of building a plan
type Result struct {
	Sequence    timeline.Sequence `json:"sequence"`
	Instruments []InstrumentStats `json:"instruments"`
	Outputs     []string          `json:"outputs,omitempty"`
}

// Run loads, builds and writes one configured render
func Run(ctx context.Context, cfg *Config, logger *slog.Logger) (*Plan, *Result, error) {
	plan, err := Prepare(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	result := Build(plan, logger, nil)

	outputs, err := WriteOutputs(ctx, cfg, plan, result.Sequence, logger)
	if err != nil {
		return plan, result, err
	}
	result.Outputs = outputs

	return plan, result, nil
}

// Prepare loads instruments and records and normalizes every metric
func Prepare(ctx context.Context, cfg *Config, logger *slog.Logger) (*Plan, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidConfig, cfg.Name, err)
	}

	metrics := cfg.MetricNames()

	specs := cfg.Instruments
	if cfg.InstrumentsPath != "" {
		loaded, err := dataset.LoadInstruments(cfg.Resolve(cfg.InstrumentsPath), metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to load instruments: %w", err)
		}
		specs = append(loaded, specs...)
	}
	instruments, err := dataset.ResolveAll(specs, cfg.Timing())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instruments: %w", err)
	}
	logger.Info("Loaded instruments", "render", cfg.Name, "count", len(instruments))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table, err := dataset.LoadTable(cfg.Resolve(cfg.Dataset.Path), dataset.Format(cfg.Dataset.Format))
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	records, err := table.Records(recordOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	logger.Info("Loaded dataset", "render", cfg.Name, "path", cfg.Dataset.Path, "records", len(records))

	ranges, err := normalize(cfg, records)
	if err != nil {
		return nil, err
	}
	for _, m := range metrics {
		logger.Debug("Metric range", "metric", m, "min", ranges[m].Min, "max", ranges[m].Max)
	}

	return &Plan{
		Name:        cfg.Name,
		BPM:         cfg.BPM,
		BeatMs:      cfg.BeatMs(),
		TotalMs:     timeline.TotalMs(records),
		Metrics:     metrics,
		Instruments: instruments,
		Records:     records,
		Ranges:      ranges,
		Options: timeline.BuilderOptions{
			VarianceMs: cfg.VarianceMs,
			TempoRad:   cfg.TempoRad,
			RoundToMs:  cfg.RoundToMs(),
		},
	}, nil
}

// Build runs every instrument over the records and encodes the sequence.
// progress, when set, is called after each instrument.
func Build(plan *Plan, logger *slog.Logger, progress func(InstrumentStats)) *Result {
	builder := timeline.NewSequenceBuilder(plan.Options)
	result := &Result{}

	for _, inst := range plan.Instruments {
		spans, emitted := builder.AddInstrument(inst, plan.Records)
		stats := InstrumentStats{
			Index:  inst.Index,
			Name:   inst.Name,
			Spans:  len(spans),
			Events: emitted,
		}
		result.Instruments = append(result.Instruments, stats)
		if progress != nil {
			progress(stats)
		}
		logger.Debug("Instrument sequenced", "instrument", inst.Name, "spans", len(spans), "events", emitted)
	}

	result.Sequence = builder.Build()
	logger.Info("Sequence built", "render", plan.Name, "events", len(result.Sequence), "total_ms", plan.TotalMs)
	return result
}

func recordOptions(cfg *Config) dataset.RecordOptions {
	d := cfg.Dataset
	derived := make(map[string]bool)
	for _, tr := range d.Transforms {
		derived[tr.Name] = true
	}

	numeric := make(map[string]bool)
	for _, m := range d.Metrics {
		if !derived[m.Name] {
			numeric[m.Name] = true
		}
	}
	for _, tr := range d.Transforms {
		if !derived[tr.Source] {
			numeric[tr.Source] = true
		}
		if tr.Group != "" {
			numeric[tr.Group] = true
		}
	}
	for _, c := range d.Columns {
		numeric[c] = true
	}

	opts := dataset.RecordOptions{
		LabelColumn:    d.LabelColumn,
		CategoryColumn: d.CategoryColumn,
		StartColumn:    d.StartColumn,
		StopColumn:     d.StopColumn,
		DurationColumn: d.DurationColumn,
		RecordMs:       cfg.RecordMs(),
	}
	for c := range numeric {
		opts.Numeric = append(opts.Numeric, c)
	}
	sort.Strings(opts.Numeric)
	return opts
}

func normalize(cfg *Config, records []timeline.Record) (map[string]timeline.MetricRange, error) {
	d := cfg.Dataset
	registry := timeline.NewTransformRegistry()

	specs := make([]timeline.TransformSpec, 0, len(d.Transforms))
	var rawMetrics []string
	late := make(map[string]bool)
	for _, tr := range d.Transforms {
		specs = append(specs, timeline.TransformSpec{
			Name: tr.Name, Kind: tr.Kind, Source: tr.Source,
			Threshold: tr.Threshold, Decay: tr.Decay, Group: tr.Group,
		})
		if stage, _ := registry.Stage(tr.Kind); stage == timeline.StageRaw {
			rawMetrics = append(rawMetrics, tr.Name)
		} else {
			late[tr.Name] = true
		}
	}
	for _, m := range d.Metrics {
		if !late[m.Name] {
			rawMetrics = append(rawMetrics, m.Name)
		}
	}

	fixed, err := registry.Apply(records, specs, timeline.StageRaw)
	if err != nil {
		return nil, err
	}

	n := timeline.Normalizer{
		Policy:    timeline.ZeroRangePolicy(d.ZeroRange),
		Precision: d.Precision,
		Groups:    make(map[string]string),
		Fixed:     fixed,
	}
	for _, m := range d.Metrics {
		if m.RangeGroup != "" {
			n.Groups[m.Name] = m.RangeGroup
		}
		if m.Min != nil && m.Max != nil {
			n.Fixed[m.Name] = timeline.MetricRange{Min: *m.Min, Max: *m.Max}
		}
	}

	ranges, err := n.Apply(records, dedupe(rawMetrics))
	if err != nil {
		return nil, err
	}

	if _, err := registry.Apply(records, specs, timeline.StageNormalized); err != nil {
		return nil, err
	}
	return ranges, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
