package poisson

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/pvalue"
	"limitcli/internal/stats"
)

// Experiment is an exact single-bin counting p-value provider:
//
//	PValueS(σ) = P(N ≤ n | b + σk)
//	PValueB()  = P(N ≤ n | b)
//
// With the CLs correction in the exclusion engine it reproduces the CLS_UP
// interval.
type Experiment struct {
	Label      string
	Conversion float64
	Background float64
	Observed   int
	// MaxEvents overrides the upper end of the admissible range
	MaxEvents float64
}

var (
	_ pvalue.Provider = (*Experiment)(nil)
	_ pvalue.Toy      = (*Experiment)(nil)
)

// Name implements pvalue.Provider
func (e *Experiment) Name() string {
	return e.Label
}

// Mode implements pvalue.Provider
func (e *Experiment) Mode() pvalue.Mode {
	return pvalue.ModeCounting
}

// Initialize implements pvalue.Provider
func (e *Experiment) Initialize() error {
	in := Interval{Conversion: e.Conversion, Background: e.Background, Observed: e.Observed, Mode: CIUp, CL: 0.5}
	if err := in.Validate(); err != nil {
		return limiterrors.NewAppError(limiterrors.ErrTypeNotReady, "invalid counting experiment", err).
			WithContext("experiment", e.Label)
	}
	return nil
}

// PValueS implements pvalue.Provider
func (e *Experiment) PValueS(sigma float64) float64 {
	if !(sigma >= 0) {
		return stats.Undefined
	}
	return stats.PoissonCDF(e.Observed, e.Background+sigma*e.Conversion)
}

// PValueB implements pvalue.Provider
func (e *Experiment) PValueB() float64 {
	return stats.PoissonCDF(e.Observed, e.Background)
}

// SignalPerUnit implements pvalue.Provider
func (e *Experiment) SignalPerUnit() float64 {
	return e.Conversion
}

// AdmissibleRange implements pvalue.Provider
func (e *Experiment) AdmissibleRange() (float64, float64) {
	if e.MaxEvents > 0 {
		return 0, e.MaxEvents
	}
	return 0, 10*(float64(e.Observed)+e.Background) + 50
}

// EstimateCrossSection implements pvalue.Provider: the excess over
// background, clipped at zero.
func (e *Experiment) EstimateCrossSection() (float64, float64) {
	events := math.Max(0, float64(e.Observed)-e.Background)
	if !(e.Conversion > 0) {
		return stats.Undefined, events
	}
	return events / e.Conversion, events
}

// GenerateBackgroundOnly implements pvalue.Toy
func (e *Experiment) GenerateBackgroundOnly(rng *rand.Rand) error {
	if e.Background <= 0 {
		e.Observed = 0
		return nil
	}
	e.Observed = int(distuv.Poisson{Lambda: e.Background, Src: rng}.Rand())
	return nil
}

// CloneProvider implements pvalue.Toy
func (e *Experiment) CloneProvider() (pvalue.Provider, error) {
	c := *e
	return &c, nil
}
