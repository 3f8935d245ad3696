// Package pvalue defines the contracts between p-value providers (profile
// likelihood models, counting experiments) and the exclusion engine that
// combines them into confidence limits.
package pvalue

import "math/rand/v2"

// Mode is the analysis mode a provider belongs to. An exclusion run only
// accepts providers of its own mode.
type Mode string

const (
	// ModeProfile covers profile-likelihood models
	ModeProfile Mode = "profile"
	// ModeCounting covers exact single-bin counting experiments
	ModeCounting Mode = "counting"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeProfile || m == ModeCounting
}

// Provider turns a hypothesized value σ of the parameter of interest into a
// p-value. Initialize must be called before the p-value methods; it performs
// any unconditional fit the provider needs.
type Provider interface {
	Name() string
	Mode() Mode
	Initialize() error
	// PValueS returns the signal+background p-value at σ (NaN if undefined)
	PValueS(sigma float64) float64
	// PValueB returns the background-only p-value (NaN if undefined)
	PValueB() float64
	// SignalPerUnit converts σ to expected signal events
	SignalPerUnit() float64
	// AdmissibleRange bounds the limit search, in event units
	AdmissibleRange() (lo, hi float64)
	// EstimateCrossSection returns the best-fit σ and its event equivalent
	EstimateCrossSection() (sigma, events float64)
}

// Toy is implemented by providers that can regenerate pseudo-data for
// sensitivity studies.
type Toy interface {
	// GenerateBackgroundOnly replaces the observed data with a draw at
	// background-only truth.
	GenerateBackgroundOnly(rng *rand.Rand) error
	// CloneProvider returns an independent copy whose data and parameters
	// share no state with the receiver.
	CloneProvider() (Provider, error)
}

// MassDependent is implemented by providers whose signal expectation depends
// on a hypothesized particle mass.
type MassDependent interface {
	SetMass(mass float64) error
	// Mass returns the current mass, or an error if it is not well defined
	Mass() (float64, error)
}
