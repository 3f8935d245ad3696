package likelihood

import (
	"fmt"
	"math"
	"math/rand/v2"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/pvalue"
)

// CombinedModel is the joint likelihood of several independent experiments.
// Parameters flagged Common are shared by identity: after CheckReady every
// member refers to the same *Parameter, so a value set through one path is
// seen by all of them.
type CombinedModel struct {
	*Likelihood
	members []*ProfileModel
	byID    map[string]*ProfileModel
}

var (
	_ pvalue.Provider      = (*CombinedModel)(nil)
	_ pvalue.Toy           = (*CombinedModel)(nil)
	_ pvalue.MassDependent = (*CombinedModel)(nil)
)

// NewCombinedModel creates an empty combination
func NewCombinedModel(name string, opts Options) *CombinedModel {
	c := &CombinedModel{byID: make(map[string]*ProfileModel)}
	c.Likelihood = NewLikelihood(name, c, opts)
	return c
}

// Combine registers a member keyed by its experiment id
func (c *CombinedModel) Combine(m *ProfileModel) error {
	if m == nil {
		return limiterrors.NewValidationError("cannot combine a nil model", nil)
	}
	id := m.Experiment()
	if _, exists := c.byID[id]; exists {
		return limiterrors.NewValidationError("experiment already combined", nil).
			WithContext("model", c.name).WithContext("experiment", id)
	}
	c.members = append(c.members, m)
	c.byID[id] = m
	c.invalidate()
	return nil
}

// Members returns the member models in insertion order
func (c *CombinedModel) Members() []*ProfileModel {
	return append([]*ProfileModel(nil), c.members...)
}

// Member returns the member registered under an experiment id
func (c *CombinedModel) Member(experiment string) (*ProfileModel, bool) {
	m, ok := c.byID[experiment]
	return m, ok
}

// Mode implements pvalue.Provider
func (c *CombinedModel) Mode() pvalue.Mode {
	return pvalue.ModeProfile
}

// CheckReady rebuilds the merged parameter map. The first occurrence of a
// common parameter is adopted and every later occurrence must compare Equal
// to it; members are then re-pointed to the adopted object. Non-common
// parameters are imported under fresh ids and tagged with their experiment.
func (c *CombinedModel) CheckReady() error {
	err := c.merge()
	c.setReady(err)
	return err
}

func (c *CombinedModel) merge() error {
	c.clear()
	if len(c.members) == 0 {
		return limiterrors.NewNotReadyError("combined model has no members").WithContext("model", c.name)
	}

	adopted := make(map[string]*Parameter)
	adoptedFrom := make(map[string]string)
	for _, m := range c.members {
		for _, id := range m.IDs() {
			if !m.IsActive(id) {
				continue
			}
			p, _ := m.Parameter(id)
			if !p.Common {
				p.Experiment = m.Experiment()
				p.Combined = true
				if _, err := c.Add(p, IDAuto); err != nil {
					return err
				}
				continue
			}

			shared, seen := adopted[p.Name]
			if !seen {
				p.Combined = true
				adopted[p.Name] = p
				adoptedFrom[p.Name] = m.Experiment()
				if _, err := c.Add(p, IDAuto); err != nil {
					return err
				}
				continue
			}
			if shared == p {
				continue
			}
			if !shared.Equal(p) {
				return limiterrors.NewParameterConflictError(p.Name,
					fmt.Sprintf("common parameter differs between experiments %s and %s", adoptedFrom[p.Name], m.Experiment())).
					WithContext("model", c.name)
			}
			if err := m.Replace(id, shared); err != nil {
				return err
			}
			if m.poi == p {
				m.poi = shared
			}
		}
	}

	for _, m := range c.members {
		if err := m.CheckReady(); err != nil {
			return err
		}
	}

	pois := c.ParametersOfInterest()
	if len(pois) == 0 {
		return limiterrors.NewNotReadyError("combined model has no parameter of interest").WithContext("model", c.name)
	}
	if len(pois) > 1 {
		c.logger.Warn("combined model has more than one parameter of interest; p-values use one degree of freedom per parameter",
			"model", c.name,
			"count", len(pois),
		)
	}
	return nil
}

// Initialize implements pvalue.Provider
func (c *CombinedModel) Initialize() error {
	if err := c.CheckReady(); err != nil {
		return err
	}
	return c.EstimateUnconditional()
}

// ComputeObjective implements Objective. Constraint penalties are taken from
// the merged parameter map so a shared nuisance is penalised once.
func (c *CombinedModel) ComputeObjective() float64 {
	sum := 0.0
	for _, m := range c.members {
		v := m.dataLogLikelihood()
		if v <= ObjectiveSentinel {
			return ObjectiveSentinel
		}
		sum += v
	}
	return sum + c.ConstraintPenalty()
}

// SignalPerUnit implements pvalue.Provider
func (c *CombinedModel) SignalPerUnit() float64 {
	total := 0.0
	for _, m := range c.members {
		total += m.SignalPerUnit()
	}
	return total
}

// AdmissibleRange implements pvalue.Provider
func (c *CombinedModel) AdmissibleRange() (float64, float64) {
	var lo, hi float64
	for _, m := range c.members {
		l, h := m.AdmissibleRange()
		lo += l
		hi += h
	}
	return lo, hi
}

// EstimateCrossSection implements pvalue.Provider
func (c *CombinedModel) EstimateCrossSection() (float64, float64) {
	return c.sigmaHat, c.sigmaHat * c.SignalPerUnit()
}

// GenerateBackgroundOnly implements pvalue.Toy. Constraint references are
// redrawn once per merged parameter.
func (c *CombinedModel) GenerateBackgroundOnly(rng *rand.Rand) error {
	if err := c.Ready(); err != nil {
		return err
	}
	for _, m := range c.members {
		if err := m.generateData(rng); err != nil {
			return err
		}
	}
	redrawReferences(c.Likelihood, rng)
	c.sigmaHat = math.NaN()
	c.logDenominator = math.NaN()
	return nil
}

// CloneProvider implements pvalue.Toy
func (c *CombinedModel) CloneProvider() (pvalue.Provider, error) {
	clone := NewCombinedModel(c.name, c.options())
	for _, m := range c.members {
		mc, err := m.clone()
		if err != nil {
			return nil, err
		}
		if err := clone.Combine(mc); err != nil {
			return nil, err
		}
	}
	if err := clone.CheckReady(); err != nil {
		return nil, err
	}
	return clone, nil
}

// SetMass forwards the mass hypothesis to every member
func (c *CombinedModel) SetMass(mass float64) error {
	for _, m := range c.members {
		if err := m.SetMass(mass); err != nil {
			return fmt.Errorf("experiment %s: %w", m.Experiment(), err)
		}
	}
	c.sigmaHat = math.NaN()
	c.logDenominator = math.NaN()
	return nil
}

// Mass returns the members' common mass hypothesis. Members that disagree
// are reported as a conflict.
func (c *CombinedModel) Mass() (float64, error) {
	if len(c.members) == 0 {
		return math.NaN(), limiterrors.NewNotReadyError("combined model has no members").WithContext("model", c.name)
	}
	mass, err := c.members[0].Mass()
	if err != nil {
		return math.NaN(), err
	}
	for _, m := range c.members[1:] {
		other, err := m.Mass()
		if err != nil {
			return math.NaN(), err
		}
		if other != mass {
			return math.NaN(), limiterrors.NewParameterConflictError("mass",
				fmt.Sprintf("experiments %s and %s disagree on the mass hypothesis", c.members[0].Experiment(), m.Experiment())).
				WithContext("first", mass).WithContext("second", other)
		}
	}
	return mass, nil
}
