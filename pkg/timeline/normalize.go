package timeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroRange is returned when a metric has the same minimum and maximum under PolicyReject
var ErrZeroRange = errors.New("zero range")

// ZeroRangePolicy decides how a degenerate (min == max) range normalizes
type ZeroRangePolicy string

const (
	PolicyMidpoint ZeroRangePolicy = "midpoint"
	PolicyReject   ZeroRangePolicy = "reject"
)

// MetricRange is the observed extent of a metric over a dataset
type MetricRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Degenerate reports whether the range has no width
func (r MetricRange) Degenerate() bool {
	return r.Max == r.Min
}

// Normalize rescales v into [0,1] relative to r.
// Values outside r map outside [0,1]. A degenerate range maps everything to 0.5.
func Normalize(v float64, r MetricRange) float64 {
	if r.Degenerate() {
		return 0.5
	}
	return (v - r.Min) / (r.Max - r.Min)
}

// ObservedRange computes the min and max of values
func ObservedRange(values []float64) MetricRange {
	return MetricRange{Min: minValues(values), Max: maxValues(values)}
}

// Normalizer rescales raw record metrics into Normalized values
type Normalizer struct {
	Policy ZeroRangePolicy
	// Precision rounds normalized values to this many decimals when > 0
	Precision int
	// Groups maps a metric to a shared range group name
	Groups map[string]string
	// Fixed ranges override observed ones, keyed by metric or group
	Fixed map[string]MetricRange
}

// Ranges returns the range used for every metric present in records
func (n Normalizer) Ranges(records []Record, metrics []string) map[string]MetricRange {
	byKey := make(map[string][]float64)
	for _, m := range metrics {
		key := n.groupOf(m)
		for _, r := range records {
			if v, ok := r.Raw[m]; ok {
				byKey[key] = append(byKey[key], v)
			}
		}
	}

	ranges := make(map[string]MetricRange, len(metrics))
	for _, m := range metrics {
		key := n.groupOf(m)
		if fixed, ok := n.Fixed[m]; ok {
			ranges[m] = fixed
			continue
		}
		if fixed, ok := n.Fixed[key]; ok {
			ranges[m] = fixed
			continue
		}
		ranges[m] = ObservedRange(byKey[key])
	}
	return ranges
}

// Apply fills Normalized on every record for the given metrics and returns the ranges used
func (n Normalizer) Apply(records []Record, metrics []string) (map[string]MetricRange, error) {
	ranges := n.Ranges(records, metrics)
	for _, m := range metrics {
		if ranges[m].Degenerate() && n.Policy == PolicyReject {
			return nil, fmt.Errorf("metric %q: %w (%g)", m, ErrZeroRange, ranges[m].Min)
		}
	}

	for i := range records {
		if records[i].Normalized == nil {
			records[i].Normalized = make(map[string]float64, len(metrics))
		}
		for _, m := range metrics {
			v, ok := records[i].Raw[m]
			if !ok {
				continue
			}
			nv := Normalize(v, ranges[m])
			if n.Precision > 0 {
				p := math.Pow(10, float64(n.Precision))
				nv = math.Round(nv*p) / p
			}
			records[i].Normalized[m] = nv
		}
	}
	return ranges, nil
}

func (n Normalizer) groupOf(metric string) string {
	if g, ok := n.Groups[metric]; ok && g != "" {
		return g
	}
	return metric
}
