package likelihood

import (
	"fmt"
	"math"
	"sort"

	limiterrors "limitcli/internal/errors"
)

// State exposes current parameter values to a Dataset by name
type State interface {
	Value(name string) float64
}

// Dataset supplies observed and expected counts per bin for the current
// nuisance state. It is the band/event model a ProfileModel is built on.
type Dataset interface {
	Name() string
	Bins() int
	ObservedCount(bin int) int
	ExpectedBackground(bin int, state State) float64
	// ExpectedSignal returns the signal expectation for parameter of
	// interest value poi.
	ExpectedSignal(bin int, poi float64, state State) float64
	// AdmissibleRange bounds the limit search in event units
	AdmissibleRange() (lo, hi float64)
	// Nuisances returns the parameters the expectations depend on
	Nuisances() []*Parameter
}

// ToyDataset is a Dataset whose observed counts can be replaced by pseudo-data
type ToyDataset interface {
	Dataset
	SetObservedCount(bin int, n int) error
	CloneDataset() (ToyDataset, error)
}

// MassDataset is a Dataset whose signal expectation depends on a hypothesized mass
type MassDataset interface {
	SetMass(mass float64) error
	Mass() (float64, error)
}

// Bin is one counting bin of a BinnedDataset
type Bin struct {
	Label      string  `yaml:"label" json:"label"`
	Observed   int     `yaml:"observed" json:"observed"`
	Background float64 `yaml:"background" json:"background"`
	// Signal is the expected signal per unit of the parameter of interest
	Signal float64 `yaml:"signal" json:"signal"`
}

// BinnedConfig describes a BinnedDataset
type BinnedConfig struct {
	Name string
	Bins []Bin

	// BackgroundUncertainty is the relative normalisation uncertainty of
	// the background. Zero disables the nuisance.
	BackgroundUncertainty float64
	// EfficiencyUncertainty is the relative uncertainty of the signal
	// efficiency. Zero disables the nuisance.
	EfficiencyUncertainty float64
	// CommonBackground and CommonEfficiency share the nuisance with other
	// experiments of a combination instead of prefixing it with Name.
	CommonBackground bool
	CommonEfficiency bool

	// Masses and SignalByMass give per-bin signal expectations on a mass
	// grid, linearly interpolated by SetMass. SignalByMass[i][bin].
	Masses       []float64
	SignalByMass [][]float64

	// MaxEvents overrides the upper end of the admissible range
	MaxEvents float64
}

// BinnedDataset is a simple Dataset with per-bin background and signal
// templates and Gaussian-constrained normalisation nuisances:
//
//	b'(bin) = b(bin) · (1 + δb·νb)
//	s'(bin) = poi · s(bin) · (1 + δe·νe)
type BinnedDataset struct {
	cfg        BinnedConfig
	observed   []int
	signal     []float64
	mass       float64
	background *Parameter
	efficiency *Parameter
}

// Nuisance parameter base names used by BinnedDataset
const (
	BackgroundNuisance = "background_norm"
	EfficiencyNuisance = "signal_efficiency"
)

// NewBinnedDataset validates cfg and creates the dataset with its nuisances
func NewBinnedDataset(cfg BinnedConfig) (*BinnedDataset, error) {
	if cfg.Name == "" {
		return nil, limiterrors.NewValidationError("dataset has no name", nil)
	}
	if len(cfg.Bins) == 0 {
		return nil, limiterrors.NewValidationError("dataset has no bins", nil).WithContext("dataset", cfg.Name)
	}
	for i, b := range cfg.Bins {
		if b.Observed < 0 || b.Background < 0 || b.Signal < 0 ||
			math.IsNaN(b.Background) || math.IsNaN(b.Signal) {
			return nil, limiterrors.NewValidationError(fmt.Sprintf("bin %d has negative or undefined content", i), nil).
				WithContext("dataset", cfg.Name)
		}
	}
	if cfg.BackgroundUncertainty < 0 || cfg.EfficiencyUncertainty < 0 {
		return nil, limiterrors.NewValidationError("uncertainties must not be negative", nil).WithContext("dataset", cfg.Name)
	}
	if len(cfg.Masses) != len(cfg.SignalByMass) {
		return nil, limiterrors.NewValidationError("mass grid and signal table differ in length", nil).WithContext("dataset", cfg.Name)
	}
	if !sort.Float64sAreSorted(cfg.Masses) {
		return nil, limiterrors.NewValidationError("mass grid must be ascending", nil).WithContext("dataset", cfg.Name)
	}
	for i, row := range cfg.SignalByMass {
		if len(row) != len(cfg.Bins) {
			return nil, limiterrors.NewValidationError(fmt.Sprintf("signal row %d does not match the bin count", i), nil).
				WithContext("dataset", cfg.Name)
		}
	}

	d := &BinnedDataset{
		cfg:      cfg,
		observed: make([]int, len(cfg.Bins)),
		signal:   make([]float64, len(cfg.Bins)),
		mass:     math.NaN(),
	}
	for i, b := range cfg.Bins {
		d.observed[i] = b.Observed
		d.signal[i] = b.Signal
	}
	if cfg.BackgroundUncertainty > 0 {
		d.background = d.nuisance(BackgroundNuisance, cfg.CommonBackground, cfg.BackgroundUncertainty)
	}
	if cfg.EfficiencyUncertainty > 0 {
		d.efficiency = d.nuisance(EfficiencyNuisance, cfg.CommonEfficiency, cfg.EfficiencyUncertainty)
	}
	if len(cfg.Masses) > 0 {
		if err := d.SetMass(cfg.Masses[0]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// nuisance creates a constrained normalisation nuisance, bounded so that the
// scaled normalisation stays positive.
func (d *BinnedDataset) nuisance(base string, common bool, relative float64) *Parameter {
	name := base
	if !common {
		name = d.cfg.Name + "." + base
	}
	lower := math.Max(-5, -1/relative)
	p := NewConstrainedNuisance(name, lower, 5)
	p.Common = common
	return p
}

// Name implements Dataset
func (d *BinnedDataset) Name() string {
	return d.cfg.Name
}

// Bins implements Dataset
func (d *BinnedDataset) Bins() int {
	return len(d.observed)
}

// ObservedCount implements Dataset
func (d *BinnedDataset) ObservedCount(bin int) int {
	return d.observed[bin]
}

// SetObservedCount implements ToyDataset
func (d *BinnedDataset) SetObservedCount(bin, n int) error {
	if bin < 0 || bin >= len(d.observed) {
		return limiterrors.NewValidationError("bin out of range", nil).WithContext("dataset", d.cfg.Name).WithContext("bin", bin)
	}
	if n < 0 {
		return limiterrors.NewValidationError("negative observed count", nil).WithContext("dataset", d.cfg.Name).WithContext("bin", bin)
	}
	d.observed[bin] = n
	return nil
}

// ExpectedBackground implements Dataset
func (d *BinnedDataset) ExpectedBackground(bin int, state State) float64 {
	b := d.cfg.Bins[bin].Background
	if d.background != nil {
		b *= 1 + d.cfg.BackgroundUncertainty*state.Value(d.background.Name)
	}
	return b
}

// ExpectedSignal implements Dataset
func (d *BinnedDataset) ExpectedSignal(bin int, poi float64, state State) float64 {
	s := poi * d.signal[bin]
	if d.efficiency != nil {
		s *= 1 + d.cfg.EfficiencyUncertainty*state.Value(d.efficiency.Name)
	}
	return s
}

// AdmissibleRange implements Dataset. The default upper end is generous
// compared to the observed and expected counts.
func (d *BinnedDataset) AdmissibleRange() (float64, float64) {
	if d.cfg.MaxEvents > 0 {
		return 0, d.cfg.MaxEvents
	}
	total := 0.0
	for i, b := range d.cfg.Bins {
		total += float64(d.observed[i]) + b.Background
	}
	return 0, 10*total + 50
}

// Nuisances implements Dataset
func (d *BinnedDataset) Nuisances() []*Parameter {
	var out []*Parameter
	if d.background != nil {
		out = append(out, d.background)
	}
	if d.efficiency != nil {
		out = append(out, d.efficiency)
	}
	return out
}

// CloneDataset implements ToyDataset. Observed counts, mass and fresh
// nuisance parameters are copied; nothing is shared with the receiver.
func (d *BinnedDataset) CloneDataset() (ToyDataset, error) {
	c, err := NewBinnedDataset(d.cfg)
	if err != nil {
		return nil, err
	}
	copy(c.observed, d.observed)
	if !math.IsNaN(d.mass) {
		if err := c.SetMass(d.mass); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetMass interpolates the signal templates linearly on the mass grid.
// Masses outside the grid are rejected.
func (d *BinnedDataset) SetMass(mass float64) error {
	grid := d.cfg.Masses
	if len(grid) == 0 {
		return limiterrors.NewValidationError("dataset has no mass grid", nil).WithContext("dataset", d.cfg.Name)
	}
	if math.IsNaN(mass) || mass < grid[0] || mass > grid[len(grid)-1] {
		return limiterrors.NewValidationError("mass outside the signal grid", nil).
			WithContext("dataset", d.cfg.Name).WithContext("mass", mass)
	}
	hi := sort.SearchFloat64s(grid, mass)
	if hi < len(grid) && grid[hi] == mass {
		copy(d.signal, d.cfg.SignalByMass[hi])
		d.mass = mass
		return nil
	}
	lo := hi - 1
	w := (mass - grid[lo]) / (grid[hi] - grid[lo])
	for bin := range d.signal {
		d.signal[bin] = (1-w)*d.cfg.SignalByMass[lo][bin] + w*d.cfg.SignalByMass[hi][bin]
	}
	d.mass = mass
	return nil
}

// Mass returns the current mass hypothesis
func (d *BinnedDataset) Mass() (float64, error) {
	if math.IsNaN(d.mass) {
		return math.NaN(), limiterrors.NewNotReadyError("no mass hypothesis set").WithContext("dataset", d.cfg.Name)
	}
	return d.mass, nil
}

// Masses returns the dataset's mass grid
func (d *BinnedDataset) Masses() []float64 {
	return append([]float64(nil), d.cfg.Masses...)
}
