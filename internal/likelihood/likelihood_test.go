package likelihood

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/stats"
)

func quietOptions() Options {
	return Options{
		Minimizer: NewGonumMinimizer(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newPOI() *Parameter {
	p := NewParameter(AutoID, ParameterOfInterest, "sigma", 0, 0.1, 0, 1000)
	p.Common = true
	return p
}

// newCountingModel builds a single-bin model with n observed, b expected
// background and s signal events per unit σ.
func newCountingModel(t *testing.T, name string, n int, b, s, bkgUncertainty float64) *ProfileModel {
	t.Helper()
	d, err := NewBinnedDataset(BinnedConfig{
		Name:                  name,
		Bins:                  []Bin{{Label: "signal_region", Observed: n, Background: b, Signal: s}},
		BackgroundUncertainty: bkgUncertainty,
	})
	require.NoError(t, err)
	m, err := NewProfileModel(d, newPOI(), quietOptions())
	require.NoError(t, err)
	return m
}

func TestLikelihood_AddReplaceActivate(t *testing.T) {
	l := NewLikelihood("bookkeeping", nil, quietOptions())

	a := NewParameter(AutoID, Nuisance, "a", 0, 1, -1, 1)
	id, err := l.Add(a, IDAuto)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.Equal(t, 0, a.ID)

	b := NewParameter(5, Nuisance, "b", 0, 1, -1, 1)
	id, err = l.Add(b, IDSame)
	require.NoError(t, err)
	assert.Equal(t, 5, id)

	_, err = l.Add(NewParameter(5, Nuisance, "dup", 0, 1, -1, 1), IDSame)
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeValidation))

	id, err = l.Add(NewParameter(AutoID, Fixed, "c", 2, 1, 0, 3), IDAuto)
	require.NoError(t, err)
	assert.Equal(t, 6, id)

	replacement := NewParameter(5, Nuisance, "b2", 0.5, 1, -1, 1)
	require.NoError(t, l.Replace(5, replacement))
	got, ok := l.Parameter(5)
	require.True(t, ok)
	assert.Same(t, replacement, got)
	_, ok = l.ParameterByName("b")
	assert.False(t, ok)
	assert.Equal(t, 0.5, l.Value("b2"))
	assert.True(t, math.IsNaN(l.Value("missing")))

	assert.Error(t, l.Replace(42, replacement))

	require.NoError(t, l.Activate(0, false))
	assert.Len(t, l.ActiveParameters(), 2)
	assert.Len(t, l.Parameters(), 3)
	assert.Error(t, l.Activate(42, true))
}

func TestLikelihood_EvaluateSentinel(t *testing.T) {
	// zero background and zero signal at σ=0 gives μ=0 with an observed event
	m := newCountingModel(t, "empty", 2, 0, 1, 0)
	assert.Equal(t, ObjectiveSentinel, m.Evaluate())

	m.POI().Current = math.NaN()
	assert.Equal(t, ObjectiveSentinel, m.Evaluate())

	require.NoError(t, m.POI().SetValue(2))
	assert.Greater(t, m.Evaluate(), ObjectiveSentinel)
}

func TestLikelihood_MaximizeWithoutMinimizer(t *testing.T) {
	opts := quietOptions()
	opts.Minimizer = nil
	d, err := NewBinnedDataset(BinnedConfig{Name: "x", Bins: []Bin{{Observed: 3, Background: 1, Signal: 1}}})
	require.NoError(t, err)
	m, err := NewProfileModel(d, newPOI(), opts)
	require.NoError(t, err)

	assert.True(t, stats.IsUndefined(m.Maximize(false)))
	err = m.Initialize()
	assert.Error(t, err)
}

func TestProfileModel_BestFit(t *testing.T) {
	m := newCountingModel(t, "excess", 8, 3, 1, 0)
	require.NoError(t, m.Initialize())

	assert.InDelta(t, 5.0, m.SigmaHat(), 1e-2)
	assert.InDelta(t, 5.0, m.POI().Current, 1e-2)
	// Poisson curvature: Var(σ̂) = n/s² = 8
	assert.InDelta(t, math.Sqrt(8), m.POI().Uncertainty, 0.05)

	sigma, events := m.EstimateCrossSection()
	assert.InDelta(t, 5.0, sigma, 1e-2)
	assert.InDelta(t, 5.0, events, 1e-2)
}

func TestProfileModel_TestStatisticNonNegative(t *testing.T) {
	models := map[string]*ProfileModel{
		"excess":      newCountingModel(t, "excess", 9, 4, 1, 0.2),
		"deficit":     newCountingModel(t, "deficit", 1, 4, 1, 0.2),
		"no_nuisance": newCountingModel(t, "plain", 4, 4, 2, 0),
	}

	for name, m := range models {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, m.Initialize())
			for _, sigma := range []float64{0, 0.5, 1, 2, 3.5, 5, 10, 20} {
				q := m.TestStatistic(sigma)
				require.False(t, math.IsNaN(q), "sigma=%g", sigma)
				assert.GreaterOrEqual(t, q, 0.0, "sigma=%g", sigma)
			}
		})
	}
}

func TestProfileModel_PValueAtBestFit(t *testing.T) {
	m := newCountingModel(t, "excess", 8, 3, 1, 0)
	require.NoError(t, m.Initialize())
	assert.InDelta(t, 0.5, m.PValueS(m.SigmaHat()), 2e-3)
}

func TestProfileModel_PValueMonotone(t *testing.T) {
	tests := []struct {
		name string
		n    int
		b    float64
		dB   float64
	}{
		{"observed equals background", 3, 3, 0},
		{"deficit with background uncertainty", 2, 5, 0.1},
		{"zero observed", 0, 1.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newCountingModel(t, "mono", tt.n, tt.b, 1, tt.dB)
			require.NoError(t, m.Initialize())

			prev := math.Inf(1)
			for sigma := 0.0; sigma <= 15; sigma += 0.5 {
				p := m.PValueS(sigma)
				require.False(t, math.IsNaN(p))
				assert.LessOrEqual(t, p, prev+1e-6, "sigma=%g", sigma)
				prev = p
			}
		})
	}
}

func TestProfileModel_PValueB(t *testing.T) {
	deficit := newCountingModel(t, "deficit", 1, 4, 1, 0)
	require.NoError(t, deficit.Initialize())
	assert.Equal(t, 0.5, deficit.PValueB())

	excess := newCountingModel(t, "excess", 12, 4, 1, 0)
	require.NoError(t, excess.Initialize())
	pb := excess.PValueB()
	assert.Less(t, pb, 0.5)
	assert.Greater(t, pb, 0.0)
}

func TestProfileModel_NoBackgroundNoEvents(t *testing.T) {
	m := newCountingModel(t, "empty", 0, 0, 1, 0)
	require.NoError(t, m.POI().SetValue(0))
	assert.InDelta(t, 0.0, m.Evaluate(), 1e-12, "ln P(0|0) = 0")

	require.NoError(t, m.Initialize())
	assert.InDelta(t, 0.0, m.SigmaHat(), 1e-6)
	assert.Equal(t, 0.5, m.PValueB())
	// ln L(σ) = −σ, so q(1) = 2
	assert.InDelta(t, 0.5*stats.ChiSquareSurvival(2, 1), m.PValueS(1), 1e-4)
}

func TestProfileModel_ScaledParameterOfInterest(t *testing.T) {
	m := newCountingModel(t, "scaled", 8, 3, 1, 0)
	m.POI().Scale = 10
	require.NoError(t, m.Initialize())

	assert.InDelta(t, 5.0, m.SigmaHat(), 1e-2)
	assert.InDelta(t, math.Sqrt(8), m.POI().Uncertainty, 0.05)
}

func TestProfileModel_QTildePolicy(t *testing.T) {
	d, err := NewBinnedDataset(BinnedConfig{Name: "qt", Bins: []Bin{{Observed: 8, Background: 3, Signal: 1}}})
	require.NoError(t, err)
	opts := quietOptions()
	opts.Policy = StatisticQTilde
	m, err := NewProfileModel(d, newPOI(), opts)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())

	assert.Zero(t, m.TestStatistic(1))
	assert.Greater(t, m.TestStatistic(12), 0.0)

	plain := newCountingModel(t, "plain", 8, 3, 1, 0)
	require.NoError(t, plain.Initialize())
	assert.Greater(t, plain.TestStatistic(1), 0.0)
}

func TestProfileModel_NotReady(t *testing.T) {
	m := newCountingModel(t, "lazy", 3, 3, 1, 0)
	assert.True(t, math.IsNaN(m.PValueS(1)))
	assert.True(t, math.IsNaN(m.PValueB()))

	require.NoError(t, m.Activate(0, false))
	err := m.CheckReady()
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeNotReady))
}

func TestProfileModel_Toys(t *testing.T) {
	m := newCountingModel(t, "toy", 7, 5, 1, 0.1)
	require.NoError(t, m.Initialize())

	c1, err := m.clone()
	require.NoError(t, err)
	c2, err := m.clone()
	require.NoError(t, err)

	require.NoError(t, c1.GenerateBackgroundOnly(rand.New(rand.NewPCG(11, 3))))
	require.NoError(t, c2.GenerateBackgroundOnly(rand.New(rand.NewPCG(11, 3))))

	assert.Equal(t, c1.Dataset().ObservedCount(0), c2.Dataset().ObservedCount(0))
	nuisance, ok := c1.ParameterByName("toy." + BackgroundNuisance)
	require.True(t, ok)
	other, ok := c2.ParameterByName("toy." + BackgroundNuisance)
	require.True(t, ok)
	assert.Equal(t, nuisance.Reference, other.Reference)
	assert.NotSame(t, nuisance, other)

	// the original keeps its data
	assert.Equal(t, 7, m.Dataset().ObservedCount(0))
	require.NoError(t, c1.Initialize())
	assert.False(t, math.IsNaN(c1.PValueS(2)))
}

func TestCombinedModel_SharedParameters(t *testing.T) {
	a := newCountingModel(t, "a", 5, 5, 1, 0)
	b := newCountingModel(t, "b", 5, 5, 1, 0)

	c := NewCombinedModel("a+b", quietOptions())
	require.NoError(t, c.Combine(a))
	require.NoError(t, c.Combine(b))
	err := c.Combine(b)
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeValidation))

	require.NoError(t, c.CheckReady())
	assert.Same(t, a.POI(), b.POI())
	assert.Len(t, c.ParametersOfInterest(), 1)

	require.NoError(t, c.ParametersOfInterest()[0].SetValue(3))
	assert.Equal(t, 3.0, a.Value("sigma"))
	assert.Equal(t, 3.0, b.Value("sigma"))

	// a second check keeps the sharing intact
	require.NoError(t, c.CheckReady())
	assert.Same(t, a.POI(), b.POI())
}

func TestCombinedModel_ParameterConflict(t *testing.T) {
	a := newCountingModel(t, "a", 5, 5, 1, 0)
	b := newCountingModel(t, "b", 5, 5, 1, 0)
	b.POI().Upper = 500

	c := NewCombinedModel("a+b", quietOptions())
	require.NoError(t, c.Combine(a))
	require.NoError(t, c.Combine(b))

	err := c.CheckReady()
	require.Error(t, err)
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeParameterConflict))
	assert.Contains(t, err.Error(), "sigma")
	assert.True(t, math.IsNaN(c.PValueS(1)))
}

func TestCombinedModel_MatchesDoubledExposure(t *testing.T) {
	c := NewCombinedModel("a+b", quietOptions())
	require.NoError(t, c.Combine(newCountingModel(t, "a", 10, 10, 1, 0)))
	require.NoError(t, c.Combine(newCountingModel(t, "b", 10, 10, 1, 0)))
	require.NoError(t, c.Initialize())

	doubled := newCountingModel(t, "doubled", 20, 20, 2, 0)
	require.NoError(t, doubled.Initialize())

	assert.InDelta(t, 0.0, c.SigmaHat(), 1e-2)
	assert.InDelta(t, doubled.SignalPerUnit(), c.SignalPerUnit(), 1e-12)
	for _, sigma := range []float64{1, 2.5, 5} {
		assert.InDelta(t, doubled.TestStatistic(sigma), c.TestStatistic(sigma), 1e-4, "sigma=%g", sigma)
	}
}

func TestCombinedModel_SharedNuisancePenalisedOnce(t *testing.T) {
	mk := func(name string) *ProfileModel {
		d, err := NewBinnedDataset(BinnedConfig{
			Name:                  name,
			Bins:                  []Bin{{Observed: 4, Background: 4, Signal: 1}},
			BackgroundUncertainty: 0.2,
			CommonBackground:      true,
		})
		require.NoError(t, err)
		m, err := NewProfileModel(d, newPOI(), quietOptions())
		require.NoError(t, err)
		return m
	}
	a, b := mk("a"), mk("b")
	c := NewCombinedModel("a+b", quietOptions())
	require.NoError(t, c.Combine(a))
	require.NoError(t, c.Combine(b))
	require.NoError(t, c.CheckReady())

	nuisance, ok := c.ParameterByName(BackgroundNuisance)
	require.True(t, ok)
	nuisance.Current = 1
	assert.InDelta(t, a.dataLogLikelihood()+b.dataLogLikelihood()-0.5, c.Evaluate(), 1e-12)
}

func TestCombinedModel_Mass(t *testing.T) {
	mk := func(name string) *ProfileModel {
		d, err := NewBinnedDataset(BinnedConfig{
			Name:         name,
			Bins:         []Bin{{Observed: 3, Background: 3}},
			Masses:       []float64{10, 20},
			SignalByMass: [][]float64{{1}, {3}},
		})
		require.NoError(t, err)
		m, err := NewProfileModel(d, newPOI(), quietOptions())
		require.NoError(t, err)
		return m
	}
	a, b := mk("a"), mk("b")
	c := NewCombinedModel("a+b", quietOptions())
	require.NoError(t, c.Combine(a))
	require.NoError(t, c.Combine(b))

	require.NoError(t, c.SetMass(15))
	mass, err := c.Mass()
	require.NoError(t, err)
	assert.Equal(t, 15.0, mass)
	assert.InDelta(t, 4.0, c.SignalPerUnit(), 1e-12)

	require.NoError(t, a.SetMass(20))
	_, err = c.Mass()
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeParameterConflict))

	assert.Error(t, c.SetMass(30))
}

func TestCombinedModel_Clone(t *testing.T) {
	c := NewCombinedModel("a+b", quietOptions())
	require.NoError(t, c.Combine(newCountingModel(t, "a", 4, 3, 1, 0.1)))
	require.NoError(t, c.Combine(newCountingModel(t, "b", 6, 5, 2, 0.1)))
	require.NoError(t, c.CheckReady())

	p, err := c.CloneProvider()
	require.NoError(t, err)
	clone := p.(*CombinedModel)
	require.Len(t, clone.Members(), 2)
	assert.Same(t, clone.Members()[0].POI(), clone.Members()[1].POI())
	assert.NotSame(t, c.Members()[0].POI(), clone.Members()[0].POI())

	require.NoError(t, clone.GenerateBackgroundOnly(rand.New(rand.NewPCG(1, 1))))
	assert.Equal(t, 4, c.Members()[0].Dataset().ObservedCount(0))
	require.NoError(t, clone.Initialize())
}

func TestPrintCurrentParameters(t *testing.T) {
	m := newCountingModel(t, "print", 3, 2, 1, 0.1)
	require.NoError(t, m.Initialize())

	var buf bytes.Buffer
	require.NoError(t, m.PrintCurrentParameters(&buf))
	out := buf.String()
	assert.Contains(t, out, "sigma")
	assert.Contains(t, out, "print."+BackgroundNuisance)
	assert.Contains(t, out, "nuisance")
}

func TestBinnedDataset_MassInterpolation(t *testing.T) {
	d, err := NewBinnedDataset(BinnedConfig{
		Name:         "grid",
		Bins:         []Bin{{Background: 1}, {Background: 2}},
		Masses:       []float64{10, 20, 40},
		SignalByMass: [][]float64{{1, 0}, {2, 4}, {6, 8}},
	})
	require.NoError(t, err)

	tests := []struct {
		mass     float64
		expected []float64
	}{
		{10, []float64{1, 0}},
		{15, []float64{1.5, 2}},
		{20, []float64{2, 4}},
		{30, []float64{4, 6}},
		{40, []float64{6, 8}},
	}
	state := nominalState{NewLikelihood("state", nil, quietOptions())}
	for _, tt := range tests {
		require.NoError(t, d.SetMass(tt.mass))
		for bin, want := range tt.expected {
			assert.InDelta(t, want, d.ExpectedSignal(bin, 1, state), 1e-12, "mass=%g bin=%d", tt.mass, bin)
		}
	}

	assert.Error(t, d.SetMass(5))
	assert.Error(t, d.SetMass(41))

	_, err = NewBinnedDataset(BinnedConfig{Name: "bad", Bins: []Bin{{Background: -1}}})
	assert.Error(t, err)
}
