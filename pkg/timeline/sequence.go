package timeline

import (
	"math"
	"sort"
)

const (
	jitterBase      = 3
	probabilityBase = 5
)

// BuilderOptions configures a SequenceBuilder for one run
type BuilderOptions struct {
	// VarianceMs is the maximum jitter applied either side of a beat
	VarianceMs int `json:"variance_ms"`
	// TempoRad scales the sine period of the tempo envelope
	TempoRad float64 `json:"tempo_rad"`
	// RoundToMs is the granularity beat lengths are rounded to
	RoundToMs int `json:"round_to_ms"`
}

// Modulation carries per-span adjustments computed from the records a span covers
type Modulation struct {
	GainMultiplier float64
	// Probability gates each candidate beat when HasProbability is set
	Probability    float64
	HasProbability bool
}

// NoModulation leaves the envelope untouched
var NoModulation = Modulation{GainMultiplier: 1}

// SequenceBuilder accumulates events for a whole run.
// It owns the jitter cursor shared by every instrument so jitter values never repeat.
type SequenceBuilder struct {
	opts        BuilderOptions
	events      Sequence
	cursor      int
	instCursors map[int]int
}

// NewSequenceBuilder creates an empty builder
func NewSequenceBuilder(opts BuilderOptions) *SequenceBuilder {
	if opts.TempoRad == 0 {
		opts.TempoRad = 1
	}
	return &SequenceBuilder{
		opts:        opts,
		instCursors: make(map[int]int),
	}
}

// Cursor returns the number of jitter samples drawn so far
func (b *SequenceBuilder) Cursor() int {
	return b.cursor
}

// Len returns the number of events emitted so far
func (b *SequenceBuilder) Len() int {
	return len(b.events)
}

// AddInstrument builds the spans of inst over records and emits beats for each of them.
// It returns the spans and the number of events emitted.
func (b *SequenceBuilder) AddInstrument(inst Instrument, records []Record) ([]Span, int) {
	spans := BuildSpans(inst, records)
	emitted := 0
	for _, span := range spans {
		emitted += b.EmitSpan(inst, span, ModulationFor(inst, records, span))
	}
	return spans, emitted
}

// ModulationFor derives the span gain multiplier and probability from the span's records
func ModulationFor(inst Instrument, records []Record, span Span) Modulation {
	mod := NoModulation
	if inst.GainMetric != "" {
		level := inst.reduce(SpanValues(records, span, inst.GainMetric), inst.GainAggregate)
		mod.GainMultiplier = Lerp(inst.GainRange.Min, inst.GainRange.Max, level)
	}
	if inst.ProbabilityMetric != "" && (inst.Category == "" || !isWildcard(inst.Category)) {
		scale := inst.ProbabilityScale
		if scale == 0 {
			scale = 1
		}
		level := inst.reduce(SpanValues(records, span, inst.ProbabilityMetric), inst.ProbabilityAggregate)
		mod.Probability = level * scale
		mod.HasProbability = true
	}
	return mod
}

func (inst Instrument) reduce(values []float64, agg AggregationType) float64 {
	if agg == "" {
		agg = Avg
	}
	return Aggregate(values, agg, inst.AggregatePercentile).Value
}

// EmitSpan walks span at the instrument's beat interval and appends the beats that pass its gates.
// It returns the number of events emitted.
func (b *SequenceBuilder) EmitSpan(inst Instrument, span Span, mod Modulation) int {
	if span.Duration <= 0 {
		return 0
	}

	offset := int(inst.TempoOffset * float64(inst.FromBeatMs))
	ms := span.Start + offset
	if inst.RoundToMs > 0 {
		ms = int(RoundToNearest(float64(ms), float64(inst.RoundToMs)))
	}

	gate := GateFor(inst)
	minMs := inst.FromBeatMs
	if inst.ToBeatMs < minMs {
		minMs = inst.ToBeatMs
	}
	remaining := span.Duration
	elapsed := offset
	emitted := 0

	for step := 0; remaining >= minMs; step++ {
		percent := float64(elapsed) / float64(span.Duration)

		tempoPercent := percent
		if inst.TempoPhase > 0 {
			tempoPercent = PhasePercent(step, inst.TempoPhase)
		}
		beat := BeatMsAt(inst, tempoPercent, b.opts.TempoRad, b.opts.RoundToMs)
		if beat <= 0 {
			beat = 1
		}

		if gate.Passes(ms) && b.chance(inst, mod) {
			gainPercent := percent
			if inst.GainPhase > 0 {
				gainPercent = PhasePercent(step, inst.GainPhase)
			}
			gain := GainAt(inst, gainPercent)
			if mod.GainMultiplier != 1 {
				gain *= mod.GainMultiplier
			}

			at := ms + Jitter(Halton(b.cursor, jitterBase), b.opts.VarianceMs)
			b.events = append(b.events, Event{
				Instrument: inst.Index,
				Position:   0,
				Gain:       gain,
				Rate:       1,
				ElapsedMs:  int(math.Max(float64(at), 0)),
			})
			b.cursor++
			emitted++
		}

		remaining -= beat
		elapsed += beat
		ms += beat
	}

	return emitted
}

// chance applies the per-instrument probability gate
func (b *SequenceBuilder) chance(inst Instrument, mod Modulation) bool {
	if !mod.HasProbability {
		return true
	}
	h := Halton(b.instCursors[inst.Index], probabilityBase)
	b.instCursors[inst.Index]++
	return h < mod.Probability
}

// Events returns the emitted events in emission order
func (b *SequenceBuilder) Events() Sequence {
	out := make(Sequence, len(b.events))
	copy(out, b.events)
	return out
}

// Build sorts and delta-encodes the emitted events
func (b *SequenceBuilder) Build() Sequence {
	return Encode(b.events)
}

// Encode stable-sorts events by absolute time and sets each DeltaMs to the gap from the previous event.
// The first event's delta is its own absolute time.
func Encode(events Sequence) Sequence {
	sorted := make(Sequence, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ElapsedMs < sorted[j].ElapsedMs
	})

	previous := 0
	for i := range sorted {
		sorted[i].DeltaMs = sorted[i].ElapsedMs - previous
		previous = sorted[i].ElapsedMs
	}
	return sorted
}

// AbsoluteTimes reconstructs absolute times from the deltas by prefix sum
func AbsoluteTimes(seq Sequence) []int {
	times := make([]int, len(seq))
	total := 0
	for i, e := range seq {
		total += e.DeltaMs
		times[i] = total
	}
	return times
}

// TotalMs returns the end of the last record
func TotalMs(records []Record) int {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Stop
}
