package timeline

// queueState is the run-length builder state
type queueState int

const (
	idle queueState = iota
	accumulating
)

// BuildSpans scans records once and returns the maximal contiguous eligible spans for inst.
// A queue opens on an eligible record, extends while records stay eligible and contiguous,
// and flushes on an ineligible record, a time gap, or the end of the timeline.
// Retrigger instruments flush after every eligible record.
func BuildSpans(inst Instrument, records []Record) []Span {
	var spans []Span
	state := idle
	var current Span

	flush := func() {
		if state == accumulating && current.Duration > 0 {
			spans = append(spans, current)
		}
		state = idle
		current = Span{}
	}

	for i, rec := range records {
		eligible := Eligible(inst, rec)

		// Close the open queue on ineligibility or a gap
		if state == accumulating && (!eligible || rec.Start != current.End()) {
			flush()
		}

		if !eligible {
			continue
		}

		if state == idle {
			state = accumulating
			current = Span{Start: rec.Start, First: i, Last: i}
		}
		current.Duration += rec.Duration()
		current.Last = i

		if inst.Retrigger {
			flush()
		}
	}

	flush()
	return spans
}

// Overlaps reports whether any two spans share time
func Overlaps(spans []Span) bool {
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].End() {
			return true
		}
	}
	return false
}

// TotalDuration sums span durations
func TotalDuration(spans []Span) int {
	total := 0
	for _, s := range spans {
		total += s.Duration
	}
	return total
}
