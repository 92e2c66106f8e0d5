package timeline

// Range is a half-open interval [Min, Max) over a normalized metric
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in [Min, Max)
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v < r.Max
}

// Instrument is a playable sound and the rules that decide when and how it plays
type Instrument struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	File     string `json:"file"`
	Category string `json:"category,omitempty"`

	// Thresholds keyed by metric name; metrics without an entry are unbounded
	Thresholds map[string]Range `json:"thresholds,omitempty"`

	FromGain  float64 `json:"from_gain"`
	ToGain    float64 `json:"to_gain"`
	GainPhase int     `json:"gain_phase,omitempty"` // beats, 0 follows the span

	FromBeatMs  int     `json:"from_beat_ms"`
	ToBeatMs    int     `json:"to_beat_ms"`
	TempoPhase  int     `json:"tempo_phase,omitempty"` // beats, 0 follows the span
	TempoOffset float64 `json:"tempo_offset,omitempty"`
	RoundToMs   int     `json:"round_to_ms,omitempty"`

	IntervalMs     int `json:"interval_ms"`
	Interval       int `json:"interval"`
	IntervalOffset int `json:"interval_offset"`

	Retrigger bool `json:"retrigger,omitempty"`

	ProbabilityMetric string  `json:"probability_metric,omitempty"`
	ProbabilityScale  float64 `json:"probability_scale,omitempty"`

	GainMetric string `json:"gain_metric,omitempty"`
	GainRange  Range  `json:"gain_range,omitempty"`

	// Span reductions of the gain and probability metrics; empty means Avg
	GainAggregate        AggregationType `json:"gain_aggregate,omitempty"`
	ProbabilityAggregate AggregationType `json:"probability_aggregate,omitempty"`
	AggregatePercentile  float64         `json:"aggregate_percentile,omitempty"`
}

// Record is one ordered unit of the timeline
type Record struct {
	Start      int                `json:"start"`
	Stop       int                `json:"stop"`
	Label      string             `json:"label,omitempty"`
	Category   string             `json:"category,omitempty"`
	Raw        map[string]float64 `json:"raw,omitempty"`
	Normalized map[string]float64 `json:"normalized,omitempty"`
}

// Duration returns the record length in milliseconds
func (r Record) Duration() int {
	return r.Stop - r.Start
}

// Span is a maximal contiguous run of eligible records for one instrument
type Span struct {
	Start    int `json:"start"`
	Duration int `json:"duration"`
	// First and Last index the records covered by the span
	First int `json:"first"`
	Last  int `json:"last"`
}

// End returns the first millisecond after the span
func (s Span) End() int {
	return s.Start + s.Duration
}

// Event is a single sample trigger in the output sequence
type Event struct {
	Instrument int     `json:"instrument"`
	Position   int     `json:"position"`
	Gain       float64 `json:"gain"`
	Rate       float64 `json:"rate"`
	ElapsedMs  int     `json:"elapsed_ms"`
	DeltaMs    int     `json:"delta_ms"`
}

// Sequence is a list of events
type Sequence []Event
