package timeline

import (
	"math"
	"testing"
)

func rawRecords(columns map[string][]float64) []Record {
	n := 0
	for _, v := range columns {
		n = len(v)
	}
	records := make([]Record, n)
	for i := range records {
		records[i].Raw = make(map[string]float64)
		records[i].Normalized = make(map[string]float64)
		for name, values := range columns {
			records[i].Raw[name] = values[i]
		}
	}
	return records
}

func TestResidueTransform(t *testing.T) {
	records := rawRecords(map[string][]float64{"pm": {20, 0, 12, 0}})
	specs := []TransformSpec{{Name: "residue", Kind: "residue", Source: "pm", Threshold: 10, Decay: 5}}

	ranges, err := NewTransformRegistry().Apply(records, specs, StageRaw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []float64{20, 20, 22, 22}
	for i, rec := range records {
		if rec.Raw["residue"] != expected[i] {
			t.Errorf("record %d: expected residue %v, got %v", i, expected[i], rec.Raw["residue"])
		}
	}
	if ranges["residue"] != (MetricRange{Min: 20, Max: 22}) {
		t.Errorf("range should cover exceedances only, got %+v", ranges["residue"])
	}
}

func TestRawTransformsMissingSource(t *testing.T) {
	for _, kind := range []string{"residue", "cumulative"} {
		t.Run(kind, func(t *testing.T) {
			records := rawRecords(map[string][]float64{"other": {1, 2}})
			// the second record lacks the source even though the first has it
			records[0].Raw["pm"] = 5
			specs := []TransformSpec{{Name: "derived", Kind: kind, Source: "pm"}}
			if _, err := NewTransformRegistry().Apply(records, specs, StageRaw); err == nil {
				t.Errorf("expected error for missing source")
			}
		})
	}
}

func TestCumulativeTransform(t *testing.T) {
	records := rawRecords(map[string][]float64{"loss": {1, 1, 2}})
	specs := []TransformSpec{{Name: "c_loss", Kind: "cumulative", Source: "loss"}}

	ranges, err := NewTransformRegistry().Apply(records, specs, StageRaw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []float64{0.25, 0.5, 1}
	for i, rec := range records {
		if rec.Raw["c_loss"] != expected[i] {
			t.Errorf("record %d: expected %v, got %v", i, expected[i], rec.Raw["c_loss"])
		}
	}
	if ranges["c_loss"] != (MetricRange{Min: 0, Max: 1}) {
		t.Errorf("unexpected range %+v", ranges["c_loss"])
	}
}

func TestGroupMeanTransform(t *testing.T) {
	records := rawRecords(map[string][]float64{"year": {1, 2, 1, 2}})
	for i, v := range []float64{0.2, 0.4, 0.6, 1.0} {
		records[i].Normalized["f"] = v
	}
	specs := []TransformSpec{
		{Name: "f_avg", Kind: "group_mean", Source: "f", Group: "year"},
		{Name: "skipped", Kind: "residue", Source: "f"},
	}

	if _, err := NewTransformRegistry().Apply(records, specs, StageNormalized); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []float64{0.3, 0.3, 0.8, 0.8}
	for i, rec := range records {
		if math.Abs(rec.Normalized["f_avg"]-expected[i]) > 1e-9 {
			t.Errorf("record %d: expected %v, got %v", i, expected[i], rec.Normalized["f_avg"])
		}
	}
	if _, ok := records[0].Raw["skipped"]; ok {
		t.Errorf("raw transforms must not run in the normalized stage")
	}
}

func TestTransformRegistry(t *testing.T) {
	tr := NewTransformRegistry()

	if _, err := tr.Stage("nope"); err == nil {
		t.Errorf("expected error for unknown kind")
	}

	tr.Register("double", StageRaw, func(records []Record, spec TransformSpec) (*MetricRange, error) {
		for i := range records {
			records[i].Raw[spec.Name] = records[i].Raw[spec.Source] * 2
		}
		return nil, nil
	})

	records := rawRecords(map[string][]float64{"v": {1, 2}})
	if _, err := tr.Apply(records, []TransformSpec{{Name: "v2", Kind: "double", Source: "v"}}, StageRaw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[1].Raw["v2"] != 4 {
		t.Errorf("expected 4, got %v", records[1].Raw["v2"])
	}

	if _, err := tr.Apply(records, []TransformSpec{{Name: "x", Kind: "nope"}}, StageRaw); err == nil {
		t.Errorf("expected error for unknown kind in Apply")
	}

	if len(tr.Kinds()) != 4 {
		t.Errorf("expected 4 kinds, got %v", tr.Kinds())
	}
}
