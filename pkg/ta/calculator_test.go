package ta

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEWMAConstantSeries(t *testing.T) {
	out := EWMA([]float64{5, 5, 5, 5}, 12)
	for _, v := range out {
		assert.InDelta(t, 5.0, v, 1e-12)
	}
}

func TestEWMABiasCorrected(t *testing.T) {
	// span=3 => alpha=0.5, 权重 1, 0.5, 0.25
	out := EWMA([]float64{1, 2, 3}, 3)
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0], 1e-12)
	assert.InDelta(t, (2+0.5*1)/1.5, out[1], 1e-12)
	assert.InDelta(t, (3+0.5*2+0.25*1)/1.75, out[2], 1e-12)
}

func TestEWMAEmpty(t *testing.T) {
	assert.Empty(t, EWMA(nil, 9))
}

func TestPolyFit1(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	y := []float64{1, 3, 5, 7}
	slope, intercept := PolyFit1(x, y)
	assert.InDelta(t, 2.0, slope, 1e-12)
	assert.InDelta(t, 1.0, intercept, 1e-12)

	slope, _ = PolyFit1([]float64{1, 1}, []float64{2, 3})
	assert.True(t, math.IsNaN(slope))
}

func TestPopulationStdDev(t *testing.T) {
	assert.InDelta(t, 2.0, PopulationStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.True(t, math.IsNaN(PopulationStdDev(nil)))
}

func TestHurstTrendingSeries(t *testing.T) {
	xs := make([]float64, 100)
	for i := range xs {
		xs[i] = float64(i * i)
	}
	h := Hurst(xs, DefaultHurstMaxLag)
	assert.Greater(t, h, 0.6)
}

func TestHurstMeanRevertingSeries(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	xs := make([]float64, 100)
	for i := range xs {
		xs[i] = 100 + rng.NormFloat64()
	}
	h := Hurst(xs, DefaultHurstMaxLag)
	assert.Less(t, h, 0.3)
}

func TestHurstShortSeries(t *testing.T) {
	assert.True(t, math.IsNaN(Hurst([]float64{1, 2, 3}, DefaultHurstMaxLag)))
}
