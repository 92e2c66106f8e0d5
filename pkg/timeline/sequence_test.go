package timeline

import (
	"math"
	"testing"
)

func steadyInstrument(index int) Instrument {
	return Instrument{
		Index:      index,
		FromGain:   1,
		ToGain:     1,
		FromBeatMs: 500,
		ToBeatMs:   500,
		IntervalMs: 500,
		Interval:   1,
	}
}

func TestEmitSpanSteady(t *testing.T) {
	b := NewSequenceBuilder(BuilderOptions{})
	n := b.EmitSpan(steadyInstrument(0), Span{Start: 0, Duration: 2000}, NoModulation)

	if n != 4 {
		t.Fatalf("expected 4 events, got %d", n)
	}
	for i, e := range b.Events() {
		if e.ElapsedMs != i*500 {
			t.Errorf("event %d at %d, expected %d", i, e.ElapsedMs, i*500)
		}
		if e.Gain != 1 || e.Rate != 1 || e.Position != 0 {
			t.Errorf("event %d unexpected fields %+v", i, e)
		}
	}
}

func TestEmitSpanIntervalGate(t *testing.T) {
	inst := steadyInstrument(0)
	inst.Interval = 2
	inst.IntervalOffset = 1

	b := NewSequenceBuilder(BuilderOptions{})
	b.EmitSpan(inst, Span{Start: 0, Duration: 2000}, NoModulation)

	events := b.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ElapsedMs != 500 || events[1].ElapsedMs != 1500 {
		t.Errorf("unexpected times %d, %d", events[0].ElapsedMs, events[1].ElapsedMs)
	}
}

func TestEmitSpanGainPhase(t *testing.T) {
	inst := steadyInstrument(0)
	inst.FromGain = 0.2
	inst.ToGain = 0.8
	inst.GainPhase = 4

	b := NewSequenceBuilder(BuilderOptions{})
	b.EmitSpan(inst, Span{Start: 0, Duration: 2000}, NoModulation)

	events := b.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if math.Abs(events[0].Gain-0.2) > 1e-9 {
		t.Errorf("beat 0: expected 0.2, got %v", events[0].Gain)
	}
	if math.Abs(events[2].Gain-0.8) > 1e-9 {
		t.Errorf("beat 2: expected 0.8, got %v", events[2].Gain)
	}
}

func TestEmitSpanTempoOffsetAndRounding(t *testing.T) {
	inst := steadyInstrument(0)
	inst.TempoOffset = 0.5
	inst.RoundToMs = 500

	b := NewSequenceBuilder(BuilderOptions{})
	// offset is 250ms, start 1000+250 rounds to 1500
	b.EmitSpan(inst, Span{Start: 1000, Duration: 1000}, NoModulation)

	events := b.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ElapsedMs != 1500 || events[1].ElapsedMs != 2000 {
		t.Errorf("expected 1500 and 2000, got %d and %d", events[0].ElapsedMs, events[1].ElapsedMs)
	}
}

func TestEmitSpanJitterClampsAtZero(t *testing.T) {
	b := NewSequenceBuilder(BuilderOptions{VarianceMs: 20})
	b.EmitSpan(steadyInstrument(0), Span{Start: 0, Duration: 500}, NoModulation)

	events := b.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	// first Halton sample is 0, giving -20ms which clamps to 0
	if events[0].ElapsedMs != 0 {
		t.Errorf("expected 0, got %d", events[0].ElapsedMs)
	}
}

func TestJitterCursorSharedAcrossInstruments(t *testing.T) {
	b := NewSequenceBuilder(BuilderOptions{VarianceMs: 100})
	b.EmitSpan(steadyInstrument(0), Span{Start: 1000, Duration: 1000}, NoModulation)
	b.EmitSpan(steadyInstrument(1), Span{Start: 1000, Duration: 1000}, NoModulation)

	if b.Cursor() != 4 {
		t.Fatalf("expected cursor 4, got %d", b.Cursor())
	}

	events := b.Events()
	// second instrument continues the sequence rather than restarting it
	for i := 0; i < 2; i++ {
		if events[i].ElapsedMs == events[i+2].ElapsedMs {
			t.Errorf("instrument 1 repeated jitter of instrument 0 at beat %d", i)
		}
	}
	expected := 1000 + Jitter(Halton(2, 3), 100)
	if events[2].ElapsedMs != expected {
		t.Errorf("expected %d, got %d", expected, events[2].ElapsedMs)
	}
}

func TestEmitSpanGainMultiplier(t *testing.T) {
	b := NewSequenceBuilder(BuilderOptions{})
	b.EmitSpan(steadyInstrument(0), Span{Start: 0, Duration: 500}, Modulation{GainMultiplier: 0.5})

	if got := b.Events()[0].Gain; got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestEmitSpanProbability(t *testing.T) {
	b := NewSequenceBuilder(BuilderOptions{})
	n := b.EmitSpan(steadyInstrument(0), Span{Start: 0, Duration: 5000},
		Modulation{GainMultiplier: 1, Probability: 0, HasProbability: true})
	if n != 0 {
		t.Errorf("zero probability should emit nothing, got %d", n)
	}

	n = b.EmitSpan(steadyInstrument(1), Span{Start: 0, Duration: 5000},
		Modulation{GainMultiplier: 1, Probability: 1, HasProbability: true})
	if n != 10 {
		t.Errorf("certain probability should emit every beat, got %d", n)
	}
}

func TestEmitSpanTerminatesOnZeroBeat(t *testing.T) {
	inst := steadyInstrument(0)
	inst.FromBeatMs = 0
	inst.ToBeatMs = 0

	b := NewSequenceBuilder(BuilderOptions{})
	n := b.EmitSpan(inst, Span{Start: 0, Duration: 10}, NoModulation)
	if n == 0 {
		t.Errorf("expected some events")
	}
}

func TestAddInstrumentEmptyEligibility(t *testing.T) {
	inst := steadyInstrument(0)
	inst.Thresholds = map[string]Range{"v": {Min: 2, Max: 3}}

	b := NewSequenceBuilder(BuilderOptions{})
	spans, n := b.AddInstrument(inst, tiledRecords("v", 0.1, 0.5, 0.9))
	if len(spans) != 0 || n != 0 {
		t.Errorf("expected no spans and no events, got %d spans %d events", len(spans), n)
	}
	if len(b.Build()) != 0 {
		t.Errorf("expected empty sequence")
	}
}

func TestAddInstrumentSingleEligibleRecord(t *testing.T) {
	inst := steadyInstrument(0)
	inst.Thresholds = map[string]Range{"v": {Min: 0.4, Max: 0.6}}

	b := NewSequenceBuilder(BuilderOptions{})
	spans, n := b.AddInstrument(inst, tiledRecords("v", 0.1, 0.5, 0.9))
	if len(spans) != 1 || spans[0].Start != 1000 || spans[0].Duration != 1000 {
		t.Fatalf("unexpected spans %+v", spans)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
	for _, e := range b.Events() {
		if e.ElapsedMs < 1000 || e.ElapsedMs >= 2000 {
			t.Errorf("event outside eligible record: %d", e.ElapsedMs)
		}
	}
}

func TestModulationFor(t *testing.T) {
	records := tiledRecords("race", 0.2, 0.4, 0.6)
	inst := Instrument{
		GainMetric:        "race",
		GainRange:         Range{Min: 0.5, Max: 1.5},
		ProbabilityMetric: "race",
		ProbabilityScale:  2,
	}

	mod := ModulationFor(inst, records, Span{First: 0, Last: 2})
	if math.Abs(mod.GainMultiplier-0.9) > 1e-9 {
		t.Errorf("expected gain multiplier 0.9, got %v", mod.GainMultiplier)
	}
	if !mod.HasProbability || math.Abs(mod.Probability-0.8) > 1e-9 {
		t.Errorf("expected probability 0.8, got %+v", mod)
	}

	inst.Category = "all"
	if ModulationFor(inst, records, Span{First: 0, Last: 2}).HasProbability {
		t.Errorf("wildcard instruments skip the probability gate")
	}
}

func TestModulationForAggregates(t *testing.T) {
	records := tiledRecords("race", 0.2, 0.4, 0.6)
	inst := Instrument{
		GainMetric:           "race",
		GainRange:            Range{Min: 0.5, Max: 1.5},
		GainAggregate:        Percentile,
		AggregatePercentile:  100,
		ProbabilityMetric:    "race",
		ProbabilityScale:     2,
		ProbabilityAggregate: Min,
	}

	mod := ModulationFor(inst, records, Span{First: 0, Last: 2})
	if math.Abs(mod.GainMultiplier-1.1) > 1e-9 {
		t.Errorf("expected gain multiplier 1.1 from the span maximum, got %v", mod.GainMultiplier)
	}
	if math.Abs(mod.Probability-0.4) > 1e-9 {
		t.Errorf("expected probability 0.4 from the span minimum, got %v", mod.Probability)
	}
}

func TestEncode(t *testing.T) {
	events := Sequence{
		{Instrument: 0, ElapsedMs: 300},
		{Instrument: 1, ElapsedMs: 100},
		{Instrument: 2, ElapsedMs: 100},
		{Instrument: 3, ElapsedMs: 200},
	}

	encoded := Encode(events)

	expectedOrder := []int{1, 2, 3, 0}
	expectedDelta := []int{100, 0, 100, 100}
	for i, e := range encoded {
		if e.Instrument != expectedOrder[i] {
			t.Errorf("position %d: expected instrument %d, got %d", i, expectedOrder[i], e.Instrument)
		}
		if e.DeltaMs != expectedDelta[i] {
			t.Errorf("position %d: expected delta %d, got %d", i, expectedDelta[i], e.DeltaMs)
		}
	}

	if events[0].DeltaMs != 0 {
		t.Errorf("Encode should not modify its input")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	b := NewSequenceBuilder(BuilderOptions{VarianceMs: 40})
	for i := 0; i < 3; i++ {
		inst := steadyInstrument(i)
		inst.FromBeatMs = 300 + i*70
		inst.ToBeatMs = 200 + i*30
		b.EmitSpan(inst, Span{Start: i * 250, Duration: 5000}, NoModulation)
	}

	seq := b.Build()
	times := AbsoluteTimes(seq)
	for k, e := range seq {
		if times[k] != e.ElapsedMs {
			t.Fatalf("prefix sum %d = %d, expected %d", k, times[k], e.ElapsedMs)
		}
		if k > 0 && e.DeltaMs < 0 {
			t.Fatalf("negative delta at %d", k)
		}
	}
}

func TestTotalMs(t *testing.T) {
	if TotalMs(nil) != 0 {
		t.Errorf("expected 0 for empty records")
	}
	if got := TotalMs(tiledRecords("v", 1, 2, 3)); got != 3000 {
		t.Errorf("expected 3000, got %d", got)
	}
}
