// Package poisson computes closed-form confidence intervals for a single
// Poisson counting experiment, with or without the CLs correction, and
// provides an exact counting p-value provider for the exclusion engine.
package poisson

import (
	"fmt"
	"math"
	"strings"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/rootfind"
	"limitcli/internal/stats"
)

// Mode selects which interval is constructed
type Mode string

const (
	// CIUp is the classical upper limit: P(N ≤ n | b + σk) = 1 − CL
	CIUp Mode = "CI_UP"
	// CILow is the classical lower limit: P(N ≥ n | b + σk) = 1 − CL
	CILow Mode = "CI_LOW"
	// CLsUp divides the upper-limit probability by its background-only value
	CLsUp Mode = "CLS_UP"
	// CLsLow divides the lower-limit probability by its background-only value.
	// The ratio never drops below 1 for σ ≥ 0, so its lower limit is always 0.
	CLsLow Mode = "CLS_LOW"
	// CITwoSided solves both classical ends at (1+CL)/2
	CITwoSided Mode = "CI_TWO_SIDED"
	// CLsTwoSided solves both CLs ends at (1+CL)/2
	CLsTwoSided Mode = "CLS_TWO_SIDED"
)

// Modes lists every supported mode
var Modes = []Mode{CIUp, CILow, CLsUp, CLsLow, CITwoSided, CLsTwoSided}

// ParseMode converts a configuration string to a Mode
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", limiterrors.NewValidationError(fmt.Sprintf("unknown interval mode %q", s), nil)
}

func (m Mode) hasUpper() bool {
	return m == CIUp || m == CLsUp || m == CITwoSided || m == CLsTwoSided
}

func (m Mode) hasLower() bool {
	return m == CILow || m == CLsLow || m == CITwoSided || m == CLsTwoSided
}

func (m Mode) cls() bool {
	return m == CLsUp || m == CLsLow || m == CLsTwoSided
}

// Limits is a computed interval in σ units and in signal events. One-sided
// upper intervals have Lower 0; one-sided lower intervals have Upper +Inf.
type Limits struct {
	Lower       float64
	Upper       float64
	LowerEvents float64
	UpperEvents float64
}

// Contains reports whether sigma lies inside the interval
func (l Limits) Contains(sigma float64) bool {
	return sigma >= l.Lower && sigma <= l.Upper
}

// Interval describes one counting experiment: Observed events on an
// expected Background, with Conversion expected signal events per unit σ.
type Interval struct {
	Conversion float64
	Background float64
	Observed   int
	Mode       Mode
	CL         float64
}

// Validate checks the interval inputs
func (in Interval) Validate() error {
	switch {
	case !(in.Conversion > 0) || math.IsInf(in.Conversion, 0):
		return limiterrors.NewValidationError("conversion must be positive and finite", nil).WithContext("conversion", in.Conversion)
	case !(in.Background >= 0) || math.IsInf(in.Background, 0):
		return limiterrors.NewValidationError("background must be non-negative and finite", nil).WithContext("background", in.Background)
	case in.Observed < 0:
		return limiterrors.NewValidationError("observed count must not be negative", nil).WithContext("observed", in.Observed)
	case !(in.CL > 0 && in.CL < 1):
		return limiterrors.NewValidationError("confidence level must lie in (0, 1)", nil).WithContext("cl", in.CL)
	}
	if _, err := ParseMode(string(in.Mode)); err != nil {
		return err
	}
	return nil
}

// Compute solves for the interval ends. An upper limit whose classical
// construction excludes every σ ≥ 0 is reported as RootNotBracketed with
// Upper undefined.
func (in Interval) Compute() (Limits, error) {
	if err := in.Validate(); err != nil {
		return Limits{Lower: stats.Undefined, Upper: stats.Undefined, LowerEvents: stats.Undefined, UpperEvents: stats.Undefined}, err
	}

	cl := in.CL
	if in.Mode == CITwoSided || in.Mode == CLsTwoSided {
		cl = (1 + in.CL) / 2
	}

	limits := Limits{Lower: 0, Upper: math.Inf(1)}
	var err error
	if in.Mode.hasLower() {
		limits.Lower, err = in.lower(cl)
		if err != nil {
			limits.Lower = stats.Undefined
		}
	}
	if in.Mode.hasUpper() {
		var upErr error
		limits.Upper, upErr = in.upper(cl)
		if upErr != nil {
			limits.Upper = stats.Undefined
			if err == nil {
				err = upErr
			}
		}
	}
	limits.LowerEvents = limits.Lower * in.Conversion
	limits.UpperEvents = limits.Upper * in.Conversion
	return limits, err
}

// UpperProbability returns P(N ≤ n | b + σk), divided by P(N ≤ n | b) for
// CLs modes.
func (in Interval) UpperProbability(sigma float64) float64 {
	p := stats.PoissonCDF(in.Observed, in.Background+sigma*in.Conversion)
	if in.Mode.cls() {
		pb := stats.PoissonCDF(in.Observed, in.Background)
		if !(pb > 0) {
			return stats.Undefined
		}
		p /= pb
	}
	return p
}

// LowerProbability returns P(N ≥ n | b + σk), divided by P(N ≥ n | b) for
// CLs modes.
func (in Interval) LowerProbability(sigma float64) float64 {
	p := stats.PoissonTail(in.Observed, in.Background+sigma*in.Conversion)
	if in.Mode.cls() {
		pb := stats.PoissonTail(in.Observed, in.Background)
		if !(pb > 0) {
			return stats.Undefined
		}
		p /= pb
	}
	return p
}

func (in Interval) upper(cl float64) (float64, error) {
	target := 1 - cl
	f := in.UpperProbability
	f0 := f(0)
	if math.IsNaN(f0) {
		return stats.Undefined, limiterrors.NewNonFiniteObjectiveError("background-only probability vanishes").
			WithContext("observed", in.Observed).WithContext("background", in.Background)
	}
	if f0 < target {
		// every σ ≥ 0 is excluded: the classical interval is empty
		return stats.Undefined, limiterrors.NewRootNotBracketedError(0, 0, f0-target, f0-target).
			WithContext("observed", in.Observed).WithContext("background", in.Background)
	}
	n := float64(in.Observed)
	hi := (n + 1 + 5*math.Sqrt(n+1)) / in.Conversion
	hi, err := rootfind.Expand(f, target, 0, hi, 2, 60)
	if err != nil {
		return stats.Undefined, err
	}
	sigma, err := rootfind.Solve(f, target, 0, hi, rootfind.DefaultOptions())
	if err != nil && err != rootfind.ErrNoConvergence {
		return stats.Undefined, err
	}
	return sigma, nil
}

func (in Interval) lower(cl float64) (float64, error) {
	if in.Observed == 0 {
		return 0, nil
	}
	target := 1 - cl
	f := in.LowerProbability
	f0 := f(0)
	if math.IsNaN(f0) {
		return stats.Undefined, limiterrors.NewNonFiniteObjectiveError("background-only probability vanishes").
			WithContext("observed", in.Observed).WithContext("background", in.Background)
	}
	if f0 >= target {
		// no σ ≥ 0 is excluded from below
		return 0, nil
	}
	hi := float64(in.Observed) / in.Conversion
	hi, err := rootfind.Expand(f, target, 0, hi, 2, 60)
	if err != nil {
		return stats.Undefined, err
	}
	sigma, err := rootfind.Solve(f, target, 0, hi, rootfind.DefaultOptions())
	if err != nil && err != rootfind.ErrNoConvergence {
		return stats.Undefined, err
	}
	return sigma, nil
}

// Coverage returns the probability that the interval built from a Poisson
// draw at b + sigmaTrue·k contains sigmaTrue. Observed and the interval's
// own Observed value are ignored; empty intervals never cover.
func (in Interval) Coverage(sigmaTrue float64) (float64, error) {
	probe := in
	probe.Observed = 0
	if err := probe.Validate(); err != nil {
		return stats.Undefined, err
	}
	if !(sigmaTrue >= 0) {
		return stats.Undefined, limiterrors.NewValidationError("true value must be non-negative", nil).WithContext("sigma", sigmaTrue)
	}

	mu := in.Background + sigmaTrue*in.Conversion
	nMax := int(math.Ceil(mu + 10*math.Sqrt(mu) + 20))
	covered := 0.0
	for n := 0; n <= nMax; n++ {
		probe.Observed = n
		limits, err := probe.Compute()
		if err != nil && !limiterrors.IsType(err, limiterrors.ErrTypeRootNotBracketed) {
			return stats.Undefined, fmt.Errorf("observed %d: %w", n, err)
		}
		if err == nil && limits.Contains(sigmaTrue) {
			covered += stats.PoissonProb(n, mu)
		}
	}
	return covered, nil
}
