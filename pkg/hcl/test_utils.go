package hcl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leowmjw/go-sonify/pkg/render"
)

// AssertConfigsEqual compares two render configs for equality in tests, ignoring BaseDir
func AssertConfigsEqual(t *testing.T, expected, actual *render.Config) {
	t.Helper()
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.BPM, actual.BPM)
	assert.Equal(t, expected.DivisionsPerBeat, actual.DivisionsPerBeat)
	assert.Equal(t, expected.VarianceMs, actual.VarianceMs)

	// Block lists decode as empty slices from HCL and nil from JSON
	expectedDataset, actualDataset := expected.Dataset, actual.Dataset
	assert.ElementsMatch(t, expectedDataset.Metrics, actualDataset.Metrics)
	assert.ElementsMatch(t, expectedDataset.Transforms, actualDataset.Transforms)
	expectedDataset.Metrics, actualDataset.Metrics = nil, nil
	expectedDataset.Transforms, actualDataset.Transforms = nil, nil
	assert.Equal(t, expectedDataset, actualDataset)

	assert.Equal(t, expected.InstrumentsPath, actual.InstrumentsPath)
	assert.Equal(t, expected.Output, actual.Output)

	// Compare instruments one by one for readable failures
	assert.Equal(t, len(expected.Instruments), len(actual.Instruments))
	for i := 0; i < len(expected.Instruments) && i < len(actual.Instruments); i++ {
		assert.Equal(t, expected.Instruments[i], actual.Instruments[i], "instrument %d", i)
	}
}
