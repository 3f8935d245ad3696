package poisson

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/stats"
)

func TestInterval_ClassicalUpperLimits(t *testing.T) {
	tests := []struct {
		name     string
		observed int
		expected float64
	}{
		// P(N=0|μ) = 0.1
		{"zero observed", 0, -math.Log(0.1)},
		// Σ_{k≤3} e^{-μ}μ^k/k! = 0.1
		{"three observed", 3, 6.680783},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits, err := Interval{Conversion: 1, Background: 0, Observed: tt.observed, Mode: CIUp, CL: 0.9}.Compute()
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, limits.Upper, 1e-5)
			assert.InDelta(t, tt.expected, limits.UpperEvents, 1e-5)
			assert.Zero(t, limits.Lower)
			assert.InDelta(t, 0.1, stats.PoissonCDF(tt.observed, limits.Upper), 1e-8)
		})
	}
}

func TestInterval_ConversionScalesLimit(t *testing.T) {
	base, err := Interval{Conversion: 1, Background: 1.2, Observed: 4, Mode: CIUp, CL: 0.95}.Compute()
	require.NoError(t, err)
	scaled, err := Interval{Conversion: 4, Background: 1.2, Observed: 4, Mode: CIUp, CL: 0.95}.Compute()
	require.NoError(t, err)

	assert.InDelta(t, base.Upper/4, scaled.Upper, 1e-7)
	assert.InDelta(t, base.UpperEvents, scaled.UpperEvents, 1e-6)
}

func TestInterval_CLsNotBelowClassical(t *testing.T) {
	for _, background := range []float64{0, 0.5, 1, 2.5, 5, 10} {
		for _, observed := range []int{0, 1, 3, 6} {
			classical, errCI := Interval{Conversion: 1, Background: background, Observed: observed, Mode: CIUp, CL: 0.9}.Compute()
			cls, err := Interval{Conversion: 1, Background: background, Observed: observed, Mode: CLsUp, CL: 0.9}.Compute()
			require.NoError(t, err, "b=%g n=%d", background, observed)
			if errCI != nil {
				// the classical interval is empty; CLs never is
				assert.True(t, limiterrors.IsType(errCI, limiterrors.ErrTypeRootNotBracketed))
				continue
			}
			assert.GreaterOrEqual(t, cls.Upper, classical.Upper-1e-7, "b=%g n=%d", background, observed)
		}
	}
}

func TestInterval_CLsEqualsClassicalWithoutBackground(t *testing.T) {
	classical, err := Interval{Conversion: 1, Observed: 2, Mode: CIUp, CL: 0.9}.Compute()
	require.NoError(t, err)
	cls, err := Interval{Conversion: 1, Observed: 2, Mode: CLsUp, CL: 0.9}.Compute()
	require.NoError(t, err)
	assert.InDelta(t, classical.Upper, cls.Upper, 1e-7)
}

func TestInterval_EmptyClassicalInterval(t *testing.T) {
	// zero observed on a large background excludes every σ ≥ 0
	limits, err := Interval{Conversion: 1, Background: 5, Observed: 0, Mode: CIUp, CL: 0.9}.Compute()
	require.Error(t, err)
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeRootNotBracketed))
	assert.True(t, math.IsNaN(limits.Upper))
}

func TestInterval_LowerLimits(t *testing.T) {
	t.Run("zero observed", func(t *testing.T) {
		limits, err := Interval{Conversion: 1, Background: 0, Observed: 0, Mode: CILow, CL: 0.9}.Compute()
		require.NoError(t, err)
		assert.Zero(t, limits.Lower)
		assert.True(t, math.IsInf(limits.Upper, 1))
	})

	t.Run("five observed", func(t *testing.T) {
		limits, err := Interval{Conversion: 1, Background: 0, Observed: 5, Mode: CILow, CL: 0.9}.Compute()
		require.NoError(t, err)
		assert.InDelta(t, 0.1, stats.PoissonTail(5, limits.Lower), 1e-8)
		assert.InDelta(t, 2.4326, limits.Lower, 1e-3)
	})

	t.Run("compatible with background", func(t *testing.T) {
		limits, err := Interval{Conversion: 1, Background: 4, Observed: 5, Mode: CILow, CL: 0.9}.Compute()
		require.NoError(t, err)
		assert.Zero(t, limits.Lower)
	})
}

func TestInterval_CLsLowerLimitIsZero(t *testing.T) {
	cases := []struct {
		n int
		b float64
	}{
		{1, 0.5}, {5, 1}, {10, 1}, {20, 3},
	}

	for _, c := range cases {
		in := Interval{Conversion: 1, Background: c.b, Observed: c.n, Mode: CLsLow, CL: 0.9}
		for _, sigma := range []float64{0, 1, 5, 25} {
			assert.GreaterOrEqual(t, in.LowerProbability(sigma), 1-1e-12, "n=%d b=%g sigma=%g", c.n, c.b, sigma)
		}

		limits, err := in.Compute()
		require.NoError(t, err)
		assert.Zero(t, limits.Lower, "n=%d b=%g", c.n, c.b)

		in.Mode = CLsTwoSided
		two, err := in.Compute()
		require.NoError(t, err)
		assert.Zero(t, two.Lower, "n=%d b=%g", c.n, c.b)
	}

	classical, err := Interval{Conversion: 1, Background: 1, Observed: 10, Mode: CITwoSided, CL: 0.9}.Compute()
	require.NoError(t, err)
	assert.Greater(t, classical.Lower, 0.0)
}

func TestInterval_TwoSided(t *testing.T) {
	for _, mode := range []Mode{CITwoSided, CLsTwoSided} {
		t.Run(string(mode), func(t *testing.T) {
			two, err := Interval{Conversion: 1, Background: 1, Observed: 10, Mode: mode, CL: 0.9}.Compute()
			require.NoError(t, err)
			assert.Less(t, two.Lower, two.Upper)
			assert.Greater(t, two.Upper, 0.0)

			// each end is a one-sided 95% limit
			upper, err := Interval{Conversion: 1, Background: 1, Observed: 10, Mode: CIUp, CL: 0.95}.Compute()
			require.NoError(t, err)
			if mode == CITwoSided {
				assert.InDelta(t, upper.Upper, two.Upper, 1e-7)
			} else {
				assert.GreaterOrEqual(t, two.Upper, upper.Upper-1e-7)
			}
		})
	}
}

func TestInterval_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   Interval
	}{
		{"zero conversion", Interval{Conversion: 0, Mode: CIUp, CL: 0.9}},
		{"negative background", Interval{Conversion: 1, Background: -1, Mode: CIUp, CL: 0.9}},
		{"negative observed", Interval{Conversion: 1, Observed: -1, Mode: CIUp, CL: 0.9}},
		{"confidence level one", Interval{Conversion: 1, Mode: CIUp, CL: 1}},
		{"unknown mode", Interval{Conversion: 1, Mode: "CI_SIDEWAYS", CL: 0.9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits, err := tt.in.Compute()
			require.Error(t, err)
			assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeValidation))
			assert.True(t, math.IsNaN(limits.Upper))
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		parsed, err := ParseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	parsed, err := ParseMode(" cls_up ")
	require.NoError(t, err)
	assert.Equal(t, CLsUp, parsed)
}

func TestInterval_Coverage(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		cl    float64
		sigma float64
	}{
		{"upper small signal", CIUp, 0.9, 0.5},
		{"upper large signal", CIUp, 0.9, 6},
		{"upper 95", CIUp, 0.95, 3},
		{"two-sided", CITwoSided, 0.9, 4},
		{"cls upper", CLsUp, 0.9, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cov, err := Interval{Conversion: 1, Background: 0.8, Mode: tt.mode, CL: tt.cl}.Coverage(tt.sigma)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, cov, tt.cl-1e-6)
			assert.LessOrEqual(t, cov, 1.0+1e-9)
		})
	}
}

func TestExperiment_Provider(t *testing.T) {
	e := &Experiment{Label: "counting", Conversion: 2, Background: 3, Observed: 4}
	require.NoError(t, e.Initialize())

	assert.InDelta(t, stats.PoissonCDF(4, 3), e.PValueB(), 1e-12)
	assert.InDelta(t, stats.PoissonCDF(4, 7), e.PValueS(2), 1e-12)
	assert.True(t, math.IsNaN(e.PValueS(-1)))

	sigma, events := e.EstimateCrossSection()
	assert.InDelta(t, 0.5, sigma, 1e-12)
	assert.InDelta(t, 1.0, events, 1e-12)

	lo, hi := e.AdmissibleRange()
	assert.Zero(t, lo)
	assert.Equal(t, 120.0, hi)

	bad := &Experiment{Label: "bad", Conversion: 0, Background: 1}
	assert.True(t, limiterrors.IsType(bad.Initialize(), limiterrors.ErrTypeNotReady))
}

func TestExperiment_Toys(t *testing.T) {
	e := &Experiment{Label: "counting", Conversion: 1, Background: 6, Observed: 2}
	p, err := e.CloneProvider()
	require.NoError(t, err)
	clone := p.(*Experiment)

	sum := 0
	rng := rand.New(rand.NewPCG(7, 0))
	const draws = 2000
	for i := 0; i < draws; i++ {
		require.NoError(t, clone.GenerateBackgroundOnly(rng))
		assert.GreaterOrEqual(t, clone.Observed, 0)
		sum += clone.Observed
	}
	assert.InDelta(t, 6.0, float64(sum)/draws, 0.3)
	assert.Equal(t, 2, e.Observed)
}

func BenchmarkInterval(b *testing.B) {
	benchmarks := []struct {
		name string
		mode Mode
	}{
		{"classical_upper", CIUp},
		{"cls_upper", CLsUp},
		{"two_sided", CITwoSided},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			in := Interval{Conversion: 1.5, Background: 3.2, Observed: 7, Mode: bm.mode, CL: 0.9}
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := in.Compute(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
