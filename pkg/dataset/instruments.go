package dataset

import (
	"fmt"
	"math"

	"github.com/leowmjw/go-sonify/pkg/timeline"
)

// InstrumentSpec is an instrument as written in configuration, before timing is resolved.
// Gains are relative to the run gain and tempos are multipliers of the run tempo.
type InstrumentSpec struct {
	Name     string `hcl:"name,label" yaml:"name" json:"name"`
	File     string `hcl:"file" yaml:"file" json:"file"`
	Active   *bool  `hcl:"active,optional" yaml:"active" json:"active,omitempty"`
	Category string `hcl:"category,optional" yaml:"category" json:"category,omitempty"`

	// Thresholds maps a metric to its [min, max) pair
	Thresholds map[string][]float64 `hcl:"thresholds,optional" yaml:"thresholds" json:"thresholds,omitempty"`

	Gain      *float64 `hcl:"gain,optional" yaml:"gain" json:"gain,omitempty"`
	FromGain  *float64 `hcl:"from_gain,optional" yaml:"from_gain" json:"from_gain,omitempty"`
	ToGain    *float64 `hcl:"to_gain,optional" yaml:"to_gain" json:"to_gain,omitempty"`
	GainPhase int      `hcl:"gain_phase,optional" yaml:"gain_phase" json:"gain_phase,omitempty"`

	Tempo       *float64 `hcl:"tempo,optional" yaml:"tempo" json:"tempo,omitempty"`
	FromTempo   *float64 `hcl:"from_tempo,optional" yaml:"from_tempo" json:"from_tempo,omitempty"`
	ToTempo     *float64 `hcl:"to_tempo,optional" yaml:"to_tempo" json:"to_tempo,omitempty"`
	TempoPhase  int      `hcl:"tempo_phase,optional" yaml:"tempo_phase" json:"tempo_phase,omitempty"`
	TempoOffset float64  `hcl:"tempo_offset,optional" yaml:"tempo_offset" json:"tempo_offset,omitempty"`
	RoundTo     float64  `hcl:"round_to,optional" yaml:"round_to" json:"round_to,omitempty"`

	IntervalPhase  *float64 `hcl:"interval_phase,optional" yaml:"interval_phase" json:"interval_phase,omitempty"`
	Interval       *int     `hcl:"interval,optional" yaml:"interval" json:"interval,omitempty"`
	IntervalOffset int      `hcl:"interval_offset,optional" yaml:"interval_offset" json:"interval_offset,omitempty"`

	Retrigger bool `hcl:"retrigger,optional" yaml:"retrigger" json:"retrigger,omitempty"`

	ProbabilityMetric string  `hcl:"probability_metric,optional" yaml:"probability_metric" json:"probability_metric,omitempty"`
	ProbabilityScale  float64 `hcl:"probability_scale,optional" yaml:"probability_scale" json:"probability_scale,omitempty"`

	GainMetric string    `hcl:"gain_metric,optional" yaml:"gain_metric" json:"gain_metric,omitempty"`
	GainRange  []float64 `hcl:"gain_range,optional" yaml:"gain_range" json:"gain_range,omitempty"`

	// GainAggregate and ProbabilityAggregate reduce a metric over a span (default avg)
	GainAggregate        string  `hcl:"gain_aggregate,optional" yaml:"gain_aggregate" json:"gain_aggregate,omitempty"`
	ProbabilityAggregate string  `hcl:"probability_aggregate,optional" yaml:"probability_aggregate" json:"probability_aggregate,omitempty"`
	AggregatePercentile  float64 `hcl:"aggregate_percentile,optional" yaml:"aggregate_percentile" json:"aggregate_percentile,omitempty"`
}

// IsActive reports whether the instrument takes part in the run
func (s InstrumentSpec) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Timing holds the run-wide values instrument specs are resolved against
type Timing struct {
	BeatMs int
	Tempo  float64
	Gain   float64
}

// Resolve turns a spec into a timeline instrument with absolute gains and beat lengths
func (s InstrumentSpec) Resolve(index int, t Timing) (timeline.Instrument, error) {
	if s.File == "" {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: file is required", s.Name)
	}
	if t.Tempo == 0 {
		t.Tempo = 1
	}
	if t.Gain == 0 {
		t.Gain = 1
	}

	fromGain, toGain := pair(s.Gain, s.FromGain, s.ToGain, 1)
	fromTempo, toTempo := pair(s.Tempo, s.FromTempo, s.ToTempo, 1)
	if fromTempo <= 0 || toTempo <= 0 {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: tempo must be positive", s.Name)
	}

	inst := timeline.Instrument{
		Index:             index,
		Name:              s.Name,
		File:              s.File,
		Category:          s.Category,
		FromGain:          fromGain * t.Gain,
		ToGain:            toGain * t.Gain,
		GainPhase:         s.GainPhase,
		FromBeatMs:        int(math.Round(float64(t.BeatMs) / (fromTempo * t.Tempo))),
		ToBeatMs:          int(math.Round(float64(t.BeatMs) / (toTempo * t.Tempo))),
		TempoPhase:        s.TempoPhase,
		TempoOffset:       s.TempoOffset,
		RoundToMs:         int(s.RoundTo * float64(t.BeatMs)),
		IntervalOffset:    s.IntervalOffset,
		Retrigger:         s.Retrigger,
		ProbabilityMetric: s.ProbabilityMetric,
		ProbabilityScale:  s.ProbabilityScale,
		GainMetric:        s.GainMetric,
	}

	phase := 1.0
	if s.IntervalPhase != nil {
		phase = *s.IntervalPhase
	}
	inst.IntervalMs = int(phase * float64(t.BeatMs))
	inst.Interval = 1
	if s.Interval != nil {
		inst.Interval = *s.Interval
	}
	if inst.Interval < 1 {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: interval must be at least 1", s.Name)
	}
	if inst.IntervalOffset < 0 || inst.IntervalOffset >= inst.Interval {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: interval_offset %d outside [0,%d)", s.Name, inst.IntervalOffset, inst.Interval)
	}

	if len(s.Thresholds) > 0 {
		inst.Thresholds = make(map[string]timeline.Range, len(s.Thresholds))
		for metric, bounds := range s.Thresholds {
			if len(bounds) != 2 {
				return timeline.Instrument{}, fmt.Errorf("instrument %q: threshold %q needs [min, max]", s.Name, metric)
			}
			inst.Thresholds[metric] = timeline.Range{Min: bounds[0], Max: bounds[1]}
		}
	}

	var err error
	if inst.GainAggregate, err = timeline.ParseAggregationType(s.GainAggregate); err != nil {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: gain_aggregate: %w", s.Name, err)
	}
	if inst.ProbabilityAggregate, err = timeline.ParseAggregationType(s.ProbabilityAggregate); err != nil {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: probability_aggregate: %w", s.Name, err)
	}
	if s.AggregatePercentile < 0 || s.AggregatePercentile > 100 {
		return timeline.Instrument{}, fmt.Errorf("instrument %q: aggregate_percentile %v outside [0,100]", s.Name, s.AggregatePercentile)
	}
	inst.AggregatePercentile = s.AggregatePercentile

	if s.GainMetric != "" {
		inst.GainRange = timeline.Range{Min: 1, Max: 1}
		if len(s.GainRange) == 2 {
			inst.GainRange = timeline.Range{Min: s.GainRange[0], Max: s.GainRange[1]}
		} else if len(s.GainRange) != 0 {
			return timeline.Instrument{}, fmt.Errorf("instrument %q: gain_range needs [min, max]", s.Name)
		}
	}

	return inst, nil
}

// ResolveAll resolves the active specs, numbering them in order
func ResolveAll(specs []InstrumentSpec, t Timing) ([]timeline.Instrument, error) {
	var instruments []timeline.Instrument
	for _, s := range specs {
		if !s.IsActive() {
			continue
		}
		inst, err := s.Resolve(len(instruments), t)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// pair returns (from, to) from either a constant value or explicit bounds
func pair(constant, from, to *float64, def float64) (float64, float64) {
	f, t := def, def
	if constant != nil {
		f, t = *constant, *constant
	}
	if from != nil {
		f = *from
	}
	if to != nil {
		t = *to
	}
	return f, t
}

// LoadInstruments reads an instrument table. Threshold columns are named
// <metric>_min and <metric>_max for each of metrics; a metric without them is unbounded.
func LoadInstruments(path string, metrics []string) ([]InstrumentSpec, error) {
	table, err := LoadTable(path, FormatAuto)
	if err != nil {
		return nil, err
	}
	return InstrumentsFromTable(table, metrics)
}

// InstrumentsFromTable converts an instrument table into specs
func InstrumentsFromTable(table *Table, metrics []string) ([]InstrumentSpec, error) {
	if err := table.Require("file"); err != nil {
		return nil, err
	}
	for _, m := range metrics {
		lo, hi := m+"_min", m+"_max"
		if table.HasColumn(lo) != table.HasColumn(hi) {
			if !table.HasColumn(lo) {
				return nil, &MissingColumnError{File: table.Name, Column: lo}
			}
			return nil, &MissingColumnError{File: table.Name, Column: hi}
		}
	}

	specs := make([]InstrumentSpec, 0, len(table.Rows))
	for _, row := range table.Rows {
		spec, err := instrumentFromRow(table, row, metrics)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func instrumentFromRow(t *Table, row Row, metrics []string) (InstrumentSpec, error) {
	spec := InstrumentSpec{
		Name:              row.Values["name"],
		File:              row.Values["file"],
		Category:          row.Values["category"],
		ProbabilityMetric: row.Values["probability_metric"],
		GainMetric:        row.Values["gain_metric"],

		GainAggregate:        row.Values["gain_aggregate"],
		ProbabilityAggregate: row.Values["probability_aggregate"],
	}
	if spec.Name == "" {
		spec.Name = spec.File
	}
	if spec.File == "" {
		return spec, &RowError{File: t.Name, Line: row.Line, Column: "file", Err: fmt.Errorf("empty")}
	}

	active, err := t.BoolOr(row, "active", true)
	if err != nil {
		return spec, err
	}
	spec.Active = &active

	if spec.Retrigger, err = t.BoolOr(row, "retrigger", false); err != nil {
		return spec, err
	}

	optional := map[string]**float64{
		"gain": &spec.Gain, "from_gain": &spec.FromGain, "to_gain": &spec.ToGain,
		"tempo": &spec.Tempo, "from_tempo": &spec.FromTempo, "to_tempo": &spec.ToTempo,
		"interval_phase": &spec.IntervalPhase,
	}
	for col, dst := range optional {
		if raw, ok := row.Values[col]; !ok || raw == "" {
			continue
		}
		v, err := t.Float(row, col)
		if err != nil {
			return spec, err
		}
		*dst = &v
	}

	plain := map[string]*float64{
		"tempo_offset": &spec.TempoOffset, "round_to": &spec.RoundTo, "probability_scale": &spec.ProbabilityScale,
		"aggregate_percentile": &spec.AggregatePercentile,
	}
	for col, dst := range plain {
		if *dst, err = t.FloatOr(row, col, 0); err != nil {
			return spec, err
		}
	}

	ints := map[string]*int{
		"gain_phase": &spec.GainPhase, "tempo_phase": &spec.TempoPhase, "interval_offset": &spec.IntervalOffset,
	}
	for col, dst := range ints {
		if raw, ok := row.Values[col]; !ok || raw == "" {
			continue
		}
		if *dst, err = t.Int(row, col); err != nil {
			return spec, err
		}
	}
	if raw, ok := row.Values["interval"]; ok && raw != "" {
		n, err := t.Int(row, "interval")
		if err != nil {
			return spec, err
		}
		spec.Interval = &n
	}

	if t.HasColumn("gain_range_min") && t.HasColumn("gain_range_max") {
		lo, err := t.FloatOr(row, "gain_range_min", 1)
		if err != nil {
			return spec, err
		}
		hi, err := t.FloatOr(row, "gain_range_max", 1)
		if err != nil {
			return spec, err
		}
		spec.GainRange = []float64{lo, hi}
	}

	for _, m := range metrics {
		if !t.HasColumn(m + "_min") {
			continue
		}
		lo, err := t.Float(row, m+"_min")
		if err != nil {
			return spec, err
		}
		hi, err := t.Float(row, m+"_max")
		if err != nil {
			return spec, err
		}
		if spec.Thresholds == nil {
			spec.Thresholds = make(map[string][]float64)
		}
		spec.Thresholds[m] = []float64{lo, hi}
	}

	return spec, nil
}
