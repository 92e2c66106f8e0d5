package timeline

import (
	"fmt"
	"sort"
)

// Stage selects whether a transform reads raw or normalized values
type Stage string

const (
	StageRaw        Stage = "raw"
	StageNormalized Stage = "normalized"
)

// TransformSpec describes a derived metric
type TransformSpec struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Source    string  `json:"source"`
	Threshold float64 `json:"threshold,omitempty"`
	Decay     float64 `json:"decay,omitempty"`
	Group     string  `json:"group,omitempty"`
}

// TransformFunc computes spec.Name on every record.
// A non-nil range replaces the observed range when the metric is normalized.
type TransformFunc func(records []Record, spec TransformSpec) (*MetricRange, error)

type transformEntry struct {
	stage Stage
	fn    TransformFunc
}

// TransformRegistry maps transform kinds to their implementations
type TransformRegistry struct {
	registry map[string]transformEntry
}

// NewTransformRegistry creates a registry with the built-in transforms
func NewTransformRegistry() *TransformRegistry {
	tr := &TransformRegistry{registry: make(map[string]transformEntry)}

	tr.Register("residue", StageRaw, residueTransform)
	tr.Register("cumulative", StageRaw, cumulativeTransform)
	tr.Register("group_mean", StageNormalized, groupMeanTransform)

	return tr
}

// Register adds or replaces a transform kind
func (tr *TransformRegistry) Register(kind string, stage Stage, fn TransformFunc) {
	tr.registry[kind] = transformEntry{stage: stage, fn: fn}
}

// Stage returns the stage of a registered kind
func (tr *TransformRegistry) Stage(kind string) (Stage, error) {
	e, ok := tr.registry[kind]
	if !ok {
		return "", fmt.Errorf("unknown transform %q", kind)
	}
	return e.stage, nil
}

// Kinds lists registered transform kinds
func (tr *TransformRegistry) Kinds() []string {
	kinds := make([]string, 0, len(tr.registry))
	for k := range tr.registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Apply runs every spec of the given stage in order
func (tr *TransformRegistry) Apply(records []Record, specs []TransformSpec, stage Stage) (map[string]MetricRange, error) {
	ranges := make(map[string]MetricRange)
	for _, spec := range specs {
		e, ok := tr.registry[spec.Kind]
		if !ok {
			return nil, fmt.Errorf("transform %q: unknown kind %q", spec.Name, spec.Kind)
		}
		if e.stage != stage {
			continue
		}
		r, err := e.fn(records, spec)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", spec.Name, err)
		}
		if r != nil {
			ranges[spec.Name] = *r
		}
	}
	return ranges, nil
}

// residueTransform accumulates readings above a threshold in a buffer that decays every record.
// The metric holds the buffer sum as of the last exceedance; its range covers exceedances only.
func residueTransform(records []Record, spec TransformSpec) (*MetricRange, error) {
	var buffer []float64
	residue := 0.0
	var r *MetricRange

	for i := range records {
		v, ok := records[i].Raw[spec.Source]
		if !ok {
			return nil, fmt.Errorf("record %d has no %q", i, spec.Source)
		}
		if v > spec.Threshold {
			buffer = append(buffer, v)
			residue = sumValues(buffer)
			if r == nil {
				r = &MetricRange{Min: residue, Max: residue}
			}
			r.Min = minValues([]float64{r.Min, residue})
			r.Max = maxValues([]float64{r.Max, residue})
		}
		records[i].Raw[spec.Name] = residue

		next := buffer[:0]
		for _, item := range buffer {
			if item -= spec.Decay; item > 0 {
				next = append(next, item)
			}
		}
		buffer = next
	}
	return r, nil
}

// cumulativeTransform is the running share of the source total up to and including each record
func cumulativeTransform(records []Record, spec TransformSpec) (*MetricRange, error) {
	total := 0.0
	for i := range records {
		v, ok := records[i].Raw[spec.Source]
		if !ok {
			return nil, fmt.Errorf("record %d has no %q", i, spec.Source)
		}
		total += v
	}
	if total == 0 {
		return nil, fmt.Errorf("source %q sums to zero", spec.Source)
	}

	running := 0.0
	for i := range records {
		running += records[i].Raw[spec.Source]
		records[i].Raw[spec.Name] = running / total
	}
	// shares are already in [0,1]
	return &MetricRange{Min: 0, Max: 1}, nil
}

// groupMeanTransform averages the normalized source over chunks of records.
// A chunk closes on the record whose group value reaches the dataset maximum.
func groupMeanTransform(records []Record, spec TransformSpec) (*MetricRange, error) {
	if spec.Group == "" {
		return nil, fmt.Errorf("group_mean needs a group column")
	}
	groups := make([]float64, len(records))
	for i := range records {
		groups[i] = records[i].Raw[spec.Group]
	}
	top := maxValues(groups)

	var chunk []int
	closeChunk := func() {
		values := make([]float64, 0, len(chunk))
		for _, idx := range chunk {
			values = append(values, records[idx].Normalized[spec.Source])
		}
		mean := avgValues(values)
		for _, idx := range chunk {
			records[idx].Normalized[spec.Name] = mean
		}
		chunk = chunk[:0]
	}

	for i := range records {
		if records[i].Normalized == nil {
			records[i].Normalized = make(map[string]float64)
		}
		chunk = append(chunk, i)
		if groups[i] >= top {
			closeChunk()
		}
	}
	if len(chunk) > 0 {
		closeChunk()
	}
	return nil, nil
}
