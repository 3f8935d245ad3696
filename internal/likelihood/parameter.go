package likelihood

import (
	"fmt"
	"math"
	"strings"

	limiterrors "limitcli/internal/errors"
)

// Kind classifies how a Parameter takes part in a fit
type Kind int

const (
	// ParameterOfInterest is the quantity the limit is set on
	ParameterOfInterest Kind = iota
	// Nuisance is profiled (maximized over) in every fit
	Nuisance
	// Fixed keeps its value; it is never handed to the optimizer
	Fixed
	// Frozen is a parameter of interest held at a fixed value during a conditional fit
	Frozen
	// Free is fitted like a nuisance but carries no constraint semantics
	Free
)

// AutoID marks a Parameter that has not been registered with a Likelihood yet
const AutoID = -1

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case ParameterOfInterest:
		return "poi"
	case Nuisance:
		return "nuisance"
	case Fixed:
		return "fixed"
	case Frozen:
		return "frozen"
	case Free:
		return "free"
	default:
		return "unknown"
	}
}

// ParseKind converts a configuration string to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poi", "parameter_of_interest", "parameterofinterest":
		return ParameterOfInterest, nil
	case "nuisance":
		return Nuisance, nil
	case "fixed":
		return Fixed, nil
	case "frozen":
		return Frozen, nil
	case "free":
		return Free, nil
	default:
		return 0, limiterrors.NewValidationError(fmt.Sprintf("unknown parameter kind %q", s), nil)
	}
}

// Parameter is a single fit variable
type Parameter struct {
	ID   int
	Kind Kind
	Name string

	Initial float64
	Current float64
	Step    float64
	Lower   float64
	Upper   float64
	// Scale divides every value handed to the optimizer
	Scale float64
	// Uncertainty is NaN until a fit has set it
	Uncertainty float64

	// Common parameters are shared by identity between combined likelihoods
	Common bool
	// Combined is set once the parameter has been merged into a CombinedModel
	Combined bool
	// Experiment tags non-common parameters imported into a CombinedModel
	Experiment string

	// Constrained parameters add a unit Gaussian penalty around Reference
	Constrained bool
	Reference   float64
}

// NewParameter creates a parameter at its initial value with unit scale
func NewParameter(id int, kind Kind, name string, initial, step, lower, upper float64) *Parameter {
	return &Parameter{
		ID:          id,
		Kind:        kind,
		Name:        name,
		Initial:     initial,
		Current:     initial,
		Step:        step,
		Lower:       lower,
		Upper:       upper,
		Scale:       1,
		Uncertainty: math.NaN(),
	}
}

// NewConstrainedNuisance creates a nuisance with a unit Gaussian constraint
// around zero, bounded to [lower, upper].
func NewConstrainedNuisance(name string, lower, upper float64) *Parameter {
	p := NewParameter(AutoID, Nuisance, name, 0, 0.1, lower, upper)
	p.Constrained = true
	return p
}

// Validate checks the static definition of the parameter
func (p *Parameter) Validate() error {
	switch {
	case p.Name == "":
		return limiterrors.NewValidationError("parameter has no name", nil).WithContext("id", p.ID)
	case math.IsNaN(p.Lower) || math.IsNaN(p.Upper) || p.Lower > p.Upper:
		return limiterrors.NewValidationError("invalid parameter bounds", nil).
			WithContext("parameter", p.Name).WithContext("lower", p.Lower).WithContext("upper", p.Upper)
	case math.IsNaN(p.Initial) || p.Initial < p.Lower || p.Initial > p.Upper:
		return limiterrors.NewValidationError("initial value outside bounds", nil).
			WithContext("parameter", p.Name).WithContext("initial", p.Initial)
	case !(p.Step > 0):
		return limiterrors.NewValidationError("step must be positive", nil).WithContext("parameter", p.Name)
	case !(p.Scale > 0) || math.IsInf(p.Scale, 0):
		return limiterrors.NewValidationError("scale must be positive and finite", nil).WithContext("parameter", p.Name)
	}
	return nil
}

// optimizerScale is Scale, or 1 when Scale is unusable
func (p *Parameter) optimizerScale() float64 {
	if !(p.Scale > 0) || math.IsInf(p.Scale, 0) {
		return 1
	}
	return p.Scale
}

// toOptimizer converts a value to the units handed to the optimizer
func (p *Parameter) toOptimizer(v float64) float64 {
	return v / p.optimizerScale()
}

// fromOptimizer converts an optimizer value back to parameter units
func (p *Parameter) fromOptimizer(u float64) float64 {
	return u * p.optimizerScale()
}

// Reset restores the initial value and clears the fit uncertainty
func (p *Parameter) Reset() {
	p.Current = p.Initial
	p.Uncertainty = math.NaN()
}

// Freeze switches a parameter of interest to Frozen (true) and back (false).
// Other kinds are not affected.
func (p *Parameter) Freeze(freeze bool) {
	switch {
	case freeze && p.Kind == ParameterOfInterest:
		p.Kind = Frozen
	case !freeze && p.Kind == Frozen:
		p.Kind = ParameterOfInterest
	}
}

// IsOfInterest reports whether the parameter is a parameter of interest,
// frozen or not.
func (p *Parameter) IsOfInterest() bool {
	return p.Kind == ParameterOfInterest || p.Kind == Frozen
}

// IsFitted reports whether the optimizer varies this parameter
func (p *Parameter) IsFitted() bool {
	return p.Kind == Nuisance || p.Kind == ParameterOfInterest || p.Kind == Free
}

// InBounds reports whether v lies within [Lower, Upper]
func (p *Parameter) InBounds(v float64) bool {
	return v >= p.Lower && v <= p.Upper
}

// SetValue sets the current value. Values outside the bounds are rejected.
func (p *Parameter) SetValue(v float64) error {
	if math.IsNaN(v) || !p.InBounds(v) {
		return limiterrors.NewValidationError("value outside parameter bounds", nil).
			WithContext("parameter", p.Name).
			WithContext("value", v).
			WithContext("lower", p.Lower).
			WithContext("upper", p.Upper)
	}
	p.Current = v
	return nil
}

// GaussianPenalty returns -(current-reference)²/2 for constrained
// parameters and 0 otherwise.
func (p *Parameter) GaussianPenalty() float64 {
	if !p.Constrained {
		return 0
	}
	d := p.Current - p.Reference
	return -d * d / 2
}

// Equal reports whether two parameters have the same definition:
// kind, bounds, step and initial value.
func (p *Parameter) Equal(o *Parameter) bool {
	if p == o {
		return true
	}
	if o == nil {
		return false
	}
	return p.Kind == o.Kind &&
		p.Lower == o.Lower &&
		p.Upper == o.Upper &&
		p.Step == o.Step &&
		p.Initial == o.Initial
}

// Clone returns an independent copy of the parameter
func (p *Parameter) Clone() *Parameter {
	c := *p
	return &c
}

// String returns a one-line summary for diagnostics
func (p *Parameter) String() string {
	return fmt.Sprintf("%s[%d] %s=%g ± %g in [%g, %g]", p.Kind, p.ID, p.Name, p.Current, p.Uncertainty, p.Lower, p.Upper)
}
