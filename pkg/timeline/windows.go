package timeline

// Window is one tumbling bucket of an interval gate
type Window struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// IntervalGate thins a beat stream to one bucket in every Interval.
// Buckets are tumbling windows of Size milliseconds aligned to time zero.
type IntervalGate struct {
	Size   int `json:"size"`
	Every  int `json:"every"`
	Offset int `json:"offset"`
}

// GateFor returns the interval gate configured on an instrument
func GateFor(inst Instrument) IntervalGate {
	return IntervalGate{Size: inst.IntervalMs, Every: inst.Interval, Offset: inst.IntervalOffset}
}

// Enabled reports whether the gate thins anything at all
func (g IntervalGate) Enabled() bool {
	return g.Size > 0 && g.Every > 0
}

// Bucket returns the tumbling window containing elapsedMs.
// Negative times fall into negative buckets (floor division).
func (g IntervalGate) Bucket(elapsedMs int) Window {
	if g.Size <= 0 {
		return Window{}
	}
	idx := floorDiv(elapsedMs, g.Size)
	return Window{Index: idx, Start: idx * g.Size, End: (idx + 1) * g.Size}
}

// Passes reports whether an event at elapsedMs may sound
func (g IntervalGate) Passes(elapsedMs int) bool {
	if !g.Enabled() {
		return true
	}
	return floorMod(g.Bucket(elapsedMs).Index, g.Every) == g.Offset
}

// OpenWindows lists the buckets within [0, end) in which the gate lets beats through.
// A disabled gate or one that passes every bucket returns nil.
func (g IntervalGate) OpenWindows(end int) []Window {
	if !g.Enabled() || g.Every == 1 {
		return nil
	}
	var open []Window
	for _, w := range CreateTumblingWindows(0, end, g.Size) {
		if g.Passes(w.Start) {
			open = append(open, w)
		}
	}
	return open
}

// CreateTumblingWindows splits [start, end) into windows of size milliseconds
func CreateTumblingWindows(start, end, size int) []Window {
	var windows []Window
	if size <= 0 {
		return windows
	}

	current := start
	for i := 0; current < end; i++ {
		windowEnd := current + size
		if windowEnd > end {
			windowEnd = end
		}
		windows = append(windows, Window{Index: i, Start: current, End: windowEnd})
		current = windowEnd
	}

	return windows
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}
