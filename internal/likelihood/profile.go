package likelihood

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/pvalue"
	"limitcli/internal/stats"
)

// EstimateUnconditional resets the parameters and performs the fit with the
// parameters of interest free, caching SigmaHat and LogDenominator.
func (l *Likelihood) EstimateUnconditional() error {
	if err := l.Ready(); err != nil {
		return err
	}
	l.ResetParameters()
	if v := l.Maximize(false); math.IsNaN(v) {
		return limiterrors.NewOptimizerUnavailableError("unconditional fit failed", nil).WithContext("model", l.name)
	}
	return nil
}

// TestStatistic returns q(σ) = 2·(ln L̂ − ln L(σ)) where L(σ) is maximized
// with every parameter of interest held at sigma. q is clipped at 0. Under
// StatisticQTilde, q is 0 for sigma ≤ σ̂ without a conditional fit.
// Undefined is returned (and logged) when the model is not ready or the
// fit fails.
func (l *Likelihood) TestStatistic(sigma float64) float64 {
	if err := l.Ready(); err != nil {
		l.logger.Error("test statistic requested from a model that is not ready", "model", l.name, "error", err)
		return stats.Undefined
	}
	if math.IsNaN(l.logDenominator) {
		err := limiterrors.NewNotReadyError("unconditional fit has not been performed").WithContext("model", l.name)
		l.logger.Error("test statistic unavailable", "sigma", sigma, "error", err)
		return stats.Undefined
	}
	if l.policy == StatisticQTilde && sigma <= l.sigmaHat {
		return 0
	}

	l.ResetParameters()
	for _, p := range l.ParametersOfInterest() {
		if err := p.SetValue(sigma); err != nil {
			l.logger.Error("hypothesis outside parameter bounds", "model", l.name, "sigma", sigma, "error", err)
			return stats.Undefined
		}
	}
	logNumerator := l.Maximize(true)
	if math.IsNaN(logNumerator) {
		return stats.Undefined
	}
	q := 2 * (l.logDenominator - logNumerator)
	if q < 0 {
		q = 0
	}
	return q
}

// PValueS returns the asymptotic p-value ½·χ²_surv(q(σ), nPOI)
func (l *Likelihood) PValueS(sigma float64) float64 {
	q := l.TestStatistic(sigma)
	if math.IsNaN(q) {
		return stats.Undefined
	}
	return 0.5 * stats.ChiSquareSurvival(q, l.NumberOfParametersOfInterest())
}

// zeroSignalTolerance is the largest best fit still treated as no signal.
// Bounded fits approach a lower bound of 0 without landing on it exactly.
const zeroSignalTolerance = 1e-9

// PValueB returns the background-only p-value. A best fit at or below zero
// (within zeroSignalTolerance) is compatible with no signal and yields 0.5
// directly.
func (l *Likelihood) PValueB() float64 {
	if math.IsNaN(l.sigmaHat) {
		l.logger.Error("background p-value requested before the unconditional fit", "model", l.name)
		return stats.Undefined
	}
	if l.sigmaHat <= zeroSignalTolerance {
		return 0.5
	}
	return l.PValueS(0)
}

// ProfileModel is a binned Poisson likelihood over a Dataset with a single
// parameter of interest:
//
//	ln L = Σ_bins [n ln μ − μ − ln n!] + Σ constraint penalties
//	μ    = b(ν) + s(σ, ν)
type ProfileModel struct {
	*Likelihood
	dataset Dataset
	poi     *Parameter
}

var (
	_ pvalue.Provider      = (*ProfileModel)(nil)
	_ pvalue.Toy           = (*ProfileModel)(nil)
	_ pvalue.MassDependent = (*ProfileModel)(nil)
)

// NewProfileModel builds a model over dataset with poi as the parameter of
// interest. The dataset's nuisances are registered alongside.
func NewProfileModel(dataset Dataset, poi *Parameter, opts Options) (*ProfileModel, error) {
	if dataset == nil {
		return nil, limiterrors.NewNotReadyError("profile model needs a dataset")
	}
	if poi == nil || poi.Kind != ParameterOfInterest {
		return nil, limiterrors.NewNotReadyError("profile model needs a parameter of interest").
			WithContext("dataset", dataset.Name())
	}
	m := &ProfileModel{dataset: dataset, poi: poi}
	m.Likelihood = NewLikelihood(dataset.Name(), m, opts)
	if _, err := m.Add(poi, IDAuto); err != nil {
		return nil, err
	}
	for _, p := range dataset.Nuisances() {
		if _, err := m.Add(p, IDAuto); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Experiment returns the experiment identifier used when combining
func (m *ProfileModel) Experiment() string {
	return m.dataset.Name()
}

// Dataset returns the model's data provider
func (m *ProfileModel) Dataset() Dataset {
	return m.dataset
}

// POI returns the parameter of interest
func (m *ProfileModel) POI() *Parameter {
	return m.poi
}

// Mode implements pvalue.Provider
func (m *ProfileModel) Mode() pvalue.Mode {
	return pvalue.ModeProfile
}

// CheckReady verifies the model has a usable dataset and exactly one
// active parameter of interest.
func (m *ProfileModel) CheckReady() error {
	err := m.checkReady()
	m.setReady(err)
	return err
}

func (m *ProfileModel) checkReady() error {
	if m.dataset.Bins() == 0 {
		return limiterrors.NewNotReadyError("dataset has no bins").WithContext("model", m.name)
	}
	pois := m.ParametersOfInterest()
	if len(pois) != 1 {
		return limiterrors.NewNotReadyError("profile model needs exactly one active parameter of interest").
			WithContext("model", m.name).WithContext("count", len(pois))
	}
	if pois[0] != m.poi {
		return limiterrors.NewNotReadyError("parameter of interest is not registered").
			WithContext("model", m.name).WithContext("parameter", m.poi.Name)
	}
	for _, p := range m.ActiveParameters() {
		if err := p.Validate(); err != nil {
			return limiterrors.NewAppError(limiterrors.ErrTypeNotReady, "invalid parameter", err).WithContext("model", m.name)
		}
	}
	return nil
}

// Initialize implements pvalue.Provider
func (m *ProfileModel) Initialize() error {
	if err := m.CheckReady(); err != nil {
		return err
	}
	return m.EstimateUnconditional()
}

// ComputeObjective implements Objective
func (m *ProfileModel) ComputeObjective() float64 {
	v := m.dataLogLikelihood()
	if v <= ObjectiveSentinel {
		return ObjectiveSentinel
	}
	return v + m.ConstraintPenalty()
}

// dataLogLikelihood is the Poisson term without constraint penalties
func (m *ProfileModel) dataLogLikelihood() float64 {
	sigma := m.poi.Current
	sum := 0.0
	for bin := 0; bin < m.dataset.Bins(); bin++ {
		mu := m.dataset.ExpectedBackground(bin, m) + m.dataset.ExpectedSignal(bin, sigma, m)
		if !(mu >= 0) || math.IsInf(mu, 0) {
			return ObjectiveSentinel
		}
		n := float64(m.dataset.ObservedCount(bin))
		if mu == 0 {
			// ln P(0 | 0) = 0; any observed event is impossible
			if n == 0 {
				continue
			}
			return ObjectiveSentinel
		}
		lg, _ := math.Lgamma(n + 1)
		sum += n*math.Log(mu) - mu - lg
	}
	return sum
}

// SignalPerUnit implements pvalue.Provider, evaluated at nominal nuisances
func (m *ProfileModel) SignalPerUnit() float64 {
	state := nominalState{m.Likelihood}
	total := 0.0
	for bin := 0; bin < m.dataset.Bins(); bin++ {
		total += m.dataset.ExpectedSignal(bin, 1, state)
	}
	return total
}

// AdmissibleRange implements pvalue.Provider: the dataset range limited to
// what the parameter of interest bounds can reach.
func (m *ProfileModel) AdmissibleRange() (float64, float64) {
	lo, hi := m.dataset.AdmissibleRange()
	conv := m.SignalPerUnit()
	if conv > 0 {
		lo = math.Max(lo, m.poi.Lower*conv)
		hi = math.Min(hi, m.poi.Upper*conv)
	}
	return lo, hi
}

// EstimateCrossSection implements pvalue.Provider
func (m *ProfileModel) EstimateCrossSection() (float64, float64) {
	return m.sigmaHat, m.sigmaHat * m.SignalPerUnit()
}

// GenerateBackgroundOnly implements pvalue.Toy. Observed counts are drawn
// from the nominal background and the constraint references are redrawn
// from a unit Gaussian.
func (m *ProfileModel) GenerateBackgroundOnly(rng *rand.Rand) error {
	if err := m.generateData(rng); err != nil {
		return err
	}
	redrawReferences(m.Likelihood, rng)
	m.invalidate()
	return nil
}

func (m *ProfileModel) generateData(rng *rand.Rand) error {
	toy, ok := m.dataset.(ToyDataset)
	if !ok {
		return limiterrors.NewNotReadyError("dataset cannot generate pseudo-data").WithContext("model", m.name)
	}
	state := nominalState{m.Likelihood}
	for bin := 0; bin < toy.Bins(); bin++ {
		lambda := toy.ExpectedBackground(bin, state)
		n := 0
		if lambda > 0 {
			n = int(distuv.Poisson{Lambda: lambda, Src: rng}.Rand())
		}
		if err := toy.SetObservedCount(bin, n); err != nil {
			return err
		}
	}
	return nil
}

func redrawReferences(l *Likelihood, rng *rand.Rand) {
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for _, p := range l.ActiveParameters() {
		if p.Constrained {
			p.Reference = unit.Rand()
		}
	}
}

// CloneProvider implements pvalue.Toy
func (m *ProfileModel) CloneProvider() (pvalue.Provider, error) {
	return m.clone()
}

func (m *ProfileModel) clone() (*ProfileModel, error) {
	toy, ok := m.dataset.(ToyDataset)
	if !ok {
		return nil, limiterrors.NewNotReadyError("dataset cannot be cloned").WithContext("model", m.name)
	}
	d, err := toy.CloneDataset()
	if err != nil {
		return nil, err
	}
	poi := m.poi.Clone()
	poi.Kind = ParameterOfInterest
	poi.Combined = false
	poi.Reset()
	return NewProfileModel(d, poi, m.options())
}

// SetMass implements pvalue.MassDependent
func (m *ProfileModel) SetMass(mass float64) error {
	md, ok := m.dataset.(MassDataset)
	if !ok {
		return limiterrors.NewValidationError("dataset does not depend on mass", nil).WithContext("model", m.name)
	}
	if err := md.SetMass(mass); err != nil {
		return err
	}
	m.invalidate()
	return nil
}

// Mass implements pvalue.MassDependent
func (m *ProfileModel) Mass() (float64, error) {
	md, ok := m.dataset.(MassDataset)
	if !ok {
		return math.NaN(), limiterrors.NewValidationError("dataset does not depend on mass", nil).WithContext("model", m.name)
	}
	return md.Mass()
}

// nominalState reads parameters at their initial values
type nominalState struct {
	l *Likelihood
}

func (s nominalState) Value(name string) float64 {
	if p, ok := s.l.byName[name]; ok {
		return p.Initial
	}
	return math.NaN()
}
