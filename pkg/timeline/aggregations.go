package timeline

import (
	"fmt"
	"math"
	"sort"
)

// AggregationType represents different types of aggregations
type AggregationType string

const (
	Sum        AggregationType = "sum"
	Avg        AggregationType = "avg"
	Min        AggregationType = "min"
	Max        AggregationType = "max"
	Count      AggregationType = "count"
	StdDev     AggregationType = "stddev"
	Percentile AggregationType = "percentile"
	Median     AggregationType = "median"
	First      AggregationType = "first"
	Last       AggregationType = "last"
)

// AggregationResult represents the result of an aggregation operation
type AggregationResult struct {
	Type  AggregationType `json:"type"`
	Value float64         `json:"value"`
	Count int             `json:"count"`
}

// ParseAggregationType validates an aggregation name, defaulting to Avg
func ParseAggregationType(s string) (AggregationType, error) {
	if s == "" {
		return Avg, nil
	}
	switch t := AggregationType(s); t {
	case Sum, Avg, Min, Max, Count, StdDev, Percentile, Median, First, Last:
		return t, nil
	}
	return "", fmt.Errorf("unknown aggregation %q", s)
}

// Aggregate reduces values with the given aggregation
func Aggregate(values []float64, aggType AggregationType, percentile float64) AggregationResult {
	result := AggregationResult{Type: aggType, Count: len(values)}
	if len(values) == 0 {
		return result
	}

	switch aggType {
	case Sum:
		result.Value = sumValues(values)
	case Avg:
		result.Value = avgValues(values)
	case Min:
		result.Value = minValues(values)
	case Max:
		result.Value = maxValues(values)
	case Count:
		result.Value = float64(len(values))
	case StdDev:
		result.Value = stdDevValues(values)
	case Percentile:
		result.Value = percentileValues(values, percentile)
	case Median:
		result.Value = percentileValues(values, 50)
	case First:
		result.Value = values[0]
	case Last:
		result.Value = values[len(values)-1]
	}

	return result
}

// SpanValues collects a normalized metric over the records covered by a span
func SpanValues(records []Record, span Span, metric string) []float64 {
	var values []float64
	for i := span.First; i <= span.Last && i < len(records); i++ {
		if v, ok := records[i].Normalized[metric]; ok {
			values = append(values, v)
		}
	}
	return values
}

func sumValues(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

func avgValues(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sumValues(values) / float64(len(values))
}

func minValues(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
	}
	return min
}

func maxValues(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

func stdDevValues(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	avg := avgValues(values)
	sumSquaredDiff := 0.0
	for _, v := range values {
		diff := v - avg
		sumSquaredDiff += diff * diff
	}

	return math.Sqrt(sumSquaredDiff / float64(len(values)))
}

func percentileValues(values []float64, percentile float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if percentile <= 0 {
		return sorted[0]
	}
	if percentile >= 100 {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between closest ranks
	index := (percentile / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
