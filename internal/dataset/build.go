package dataset

import (
	"fmt"
	"slices"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/likelihood"
	"limitcli/internal/poisson"
	"limitcli/internal/pvalue"
)

// Providers builds the p-value providers of the given mode. Profile
// experiments share one parameter of interest definition and are wrapped in
// a single CombinedModel when there is more than one.
func (a *Analysis) Providers(mode pvalue.Mode, opts likelihood.Options) ([]pvalue.Provider, error) {
	switch mode {
	case pvalue.ModeProfile:
		p, err := a.profileProvider(opts)
		if err != nil {
			return nil, err
		}
		return []pvalue.Provider{p}, nil
	case pvalue.ModeCounting:
		return a.countingProviders()
	default:
		return nil, limiterrors.NewValidationError(fmt.Sprintf("unknown analysis mode %q", mode), nil)
	}
}

// ProfileModels builds one model per profile experiment, in file order
func (a *Analysis) ProfileModels(opts likelihood.Options) ([]*likelihood.ProfileModel, error) {
	combined := len(a.Experiments) > 1
	models := make([]*likelihood.ProfileModel, 0, len(a.Experiments))
	for _, e := range a.Experiments {
		d, err := likelihood.NewBinnedDataset(e.binnedConfig())
		if err != nil {
			return nil, err
		}
		poi := a.newPOI()
		poi.Common = combined
		m, err := likelihood.NewProfileModel(d, poi, opts)
		if err != nil {
			return nil, fmt.Errorf("experiment %s: %w", e.Name, err)
		}
		models = append(models, m)
	}
	return models, nil
}

func (a *Analysis) profileProvider(opts likelihood.Options) (pvalue.Provider, error) {
	if len(a.Experiments) == 0 {
		return nil, limiterrors.NewNotReadyError("analysis has no profile experiments").WithContext("analysis", a.Name)
	}
	models, err := a.ProfileModels(opts)
	if err != nil {
		return nil, err
	}
	if len(models) == 1 {
		return models[0], nil
	}

	c := likelihood.NewCombinedModel(a.Name, opts)
	for _, m := range models {
		if err := c.Combine(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (a *Analysis) countingProviders() ([]pvalue.Provider, error) {
	if len(a.Counting) == 0 {
		return nil, limiterrors.NewNotReadyError("analysis has no counting experiments").WithContext("analysis", a.Name)
	}
	providers := make([]pvalue.Provider, 0, len(a.Counting))
	for _, c := range a.Counting {
		providers = append(providers, &poisson.Experiment{
			Label:      c.Name,
			Conversion: c.Conversion,
			Background: c.Background,
			Observed:   c.Observed,
			MaxEvents:  c.MaxEvents,
		})
	}
	return providers, nil
}

func (a *Analysis) newPOI() *likelihood.Parameter {
	return likelihood.NewParameter(likelihood.AutoID, likelihood.ParameterOfInterest,
		a.POI.Name, a.POI.Initial, a.POI.Step, a.POI.Lower, a.POI.Upper)
}

func (e ExperimentSpec) binnedConfig() likelihood.BinnedConfig {
	cfg := likelihood.BinnedConfig{
		Name:                  e.Name,
		Bins:                  e.Bins,
		BackgroundUncertainty: e.BackgroundUncertainty,
		EfficiencyUncertainty: e.EfficiencyUncertainty,
		CommonBackground:      e.CommonBackground,
		CommonEfficiency:      e.CommonEfficiency,
		MaxEvents:             e.MaxEvents,
	}
	for _, p := range e.MassSignal {
		cfg.Masses = append(cfg.Masses, p.Mass)
		cfg.SignalByMass = append(cfg.SignalByMass, p.Signal)
	}
	return cfg
}

// ScanMasses returns the analysis grid, or the union of the experiments'
// signal grids when none is given
func (a *Analysis) ScanMasses() []float64 {
	if len(a.Masses) > 0 {
		return append([]float64(nil), a.Masses...)
	}
	seen := make(map[float64]bool)
	var masses []float64
	for _, e := range a.Experiments {
		for _, p := range e.MassSignal {
			if !seen[p.Mass] {
				seen[p.Mass] = true
				masses = append(masses, p.Mass)
			}
		}
	}
	slices.Sort(masses)
	return masses
}
