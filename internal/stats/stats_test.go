package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChiSquareSurvival(t *testing.T) {
	tests := []struct {
		name     string
		q        float64
		ndof     int
		expected float64
	}{
		{"zero statistic", 0, 1, 1},
		{"negative statistic", -0.3, 1, 1},
		{"one sigma one dof", 1, 1, 0.3173105},
		{"90% point one dof", 2.705543, 1, 0.10},
		{"two dof", 2 * math.Log(10), 2, 0.10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ChiSquareSurvival(tt.q, tt.ndof), 1e-6)
		})
	}

	assert.True(t, IsUndefined(ChiSquareSurvival(math.NaN(), 1)))
	assert.True(t, IsUndefined(ChiSquareSurvival(1, 0)))
}

func TestPoisson(t *testing.T) {
	t.Run("CDF", func(t *testing.T) {
		assert.InDelta(t, math.Exp(-2.5), PoissonCDF(0, 2.5), 1e-12)
		assert.InDelta(t, math.Exp(-2)*(1+2+2), PoissonCDF(2, 2), 1e-12)
		assert.Equal(t, 1.0, PoissonCDF(3, 0))
		assert.Equal(t, 0.0, PoissonCDF(-1, 1))
		assert.True(t, IsUndefined(PoissonCDF(1, -1)))
	})

	t.Run("Tail", func(t *testing.T) {
		assert.Equal(t, 1.0, PoissonTail(0, 4))
		assert.InDelta(t, 1-math.Exp(-1.5), PoissonTail(1, 1.5), 1e-12)
		assert.Equal(t, 0.0, PoissonTail(2, 0))
	})

	t.Run("Prob", func(t *testing.T) {
		assert.InDelta(t, math.Exp(-3)*27/6, PoissonProb(3, 3), 1e-12)
		assert.Equal(t, 1.0, PoissonProb(0, 0))
		assert.Equal(t, 0.0, PoissonProb(1, 0))
	})
}

func TestFisherCombine(t *testing.T) {
	// For a single p-value Fisher's method is the identity.
	assert.InDelta(t, 0.2, FisherCombine(0.2, 1), 1e-9)
	// Two p-values of 0.1: P(χ²(4) > -2 ln 0.01)
	x := -2 * math.Log(0.01)
	expected := math.Exp(-x/2) * (1 + x/2)
	assert.InDelta(t, expected, FisherCombine(0.01, 2), 1e-9)
	assert.Equal(t, 0.0, FisherCombine(0, 3))
	assert.Equal(t, 1.0, FisherCombine(1, 3))
	assert.True(t, IsUndefined(FisherCombine(-0.1, 2)))
}

func TestQuantile(t *testing.T) {
	values := []float64{5, 1, 4, math.NaN(), 2, 3}

	assert.Equal(t, 3.0, Quantile(values, 0.5))
	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 5.0, Quantile(values, 1))
	assert.True(t, math.IsNaN(values[3]), "input must not be reordered")
	assert.Equal(t, 5.0, values[0])
	assert.True(t, IsUndefined(Quantile(nil, 0.5)))
	assert.True(t, IsUndefined(Quantile([]float64{math.NaN()}, 0.5)))
}

func TestSigmaBands(t *testing.T) {
	assert.InDelta(t, 0.158655, OneSigmaLow, 1e-6)
	assert.InDelta(t, 0.841345, OneSigmaHigh, 1e-6)
	assert.InDelta(t, 0.022750, TwoSigmaLow, 1e-6)
	assert.InDelta(t, 0.977250, TwoSigmaHigh, 1e-6)
}
