package metrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWorkedExample(t *testing.T) {
	report, err := Compute([]float64{1, 2, 3, 4}, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalDetections)
	assert.InDelta(t, 10.0, report.TotalAreaM2, 1e-9)
	assert.InDelta(t, 4.0, report.DetectionsPerHa, 1e-9)
	assert.InDelta(t, 1.0, report.ImageAreaHa, 1e-9)

	// Population std dev of 1..4: sqrt(1.25).
	assert.InDelta(t, math.Sqrt(1.25), report.AreaStdDev, 1e-9)

	// Gini = 2*(1+4+9+16)/(4*10) - 5/4 = 0.25.
	assert.InDelta(t, 0.25, report.Gini, 1e-9)

	// Cumulative sums 1,3,6,10; half of 10 first reached at the value 3.
	assert.InDelta(t, 3.0, report.PV50, 1e-9)
}

func TestComputeEqualAreasHaveZeroGini(t *testing.T) {
	for _, n := range []int{1, 2, 5, 100} {
		areas := make([]float64, n)
		for i := range areas {
			areas[i] = 7.5
		}
		report, err := Compute(areas, 2.0)
		require.NoError(t, err)
		assert.InDeltaf(t, 0.0, report.Gini, 1e-9, "n=%d", n)
	}
}

func TestComputeSingleDetection(t *testing.T) {
	report, err := Compute([]float64{5.0}, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalDetections)
	assert.Zero(t, report.Gini)
	assert.Zero(t, report.AreaStdDev)
	assert.InDelta(t, 5.0, report.PV50, 1e-9)
	assert.InDelta(t, 1.0, report.DetectionsPerHa, 1e-9)
}

func TestComputeEmptyInput(t *testing.T) {
	report, err := Compute(nil, 3.5)
	require.NoError(t, err)

	assert.Equal(t, Report{ImageAreaHa: 3.5}, report)
}

func TestComputeAllZeroAreas(t *testing.T) {
	report, err := Compute([]float64{0, 0, 0}, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalDetections)
	assert.Zero(t, report.TotalAreaM2)
	assert.Zero(t, report.Gini)
	assert.Zero(t, report.PV50)
	assert.InDelta(t, 3.0, report.DetectionsPerHa, 1e-9)
}

func TestComputeOrderIndependent(t *testing.T) {
	areas := []float64{12.5, 0.3, 4.4, 9.1, 4.4, 27.0, 1.2}
	want, err := Compute(areas, 2.25)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]float64(nil), areas...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got, err := Compute(shuffled, 2.25)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	areas := []float64{9, 1, 5}
	_, err := Compute(areas, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 1, 5}, areas)
}

func TestComputeInvalidImageArea(t *testing.T) {
	for _, ha := range []float64{0, -1, -0.0001} {
		_, err := Compute([]float64{1, 2}, ha)
		require.Errorf(t, err, "ha=%g", ha)
		assert.ErrorIs(t, errors.Cause(err), ErrInvalidImageArea)

		// The precondition fires regardless of areas content.
		_, err = Compute(nil, ha)
		require.Error(t, err)
	}
}

func TestComputePV50SkewedDistribution(t *testing.T) {
	// One dominant plant: half the cumulative area is only reached at the
	// largest value.
	report, err := Compute([]float64{1, 1, 1, 97}, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 97.0, report.PV50, 1e-9)

	// Strong inequality shows up in the Gini coefficient too.
	assert.Greater(t, report.Gini, 0.7)
}
