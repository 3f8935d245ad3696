// Package likelihood implements parameterized likelihoods and the
// profile-likelihood-ratio test statistic used to set exclusion limits.
//
// # Core Components
//
//  1. Parameter: a fit variable with kind, bounds, step and an optional
//     Gaussian constraint
//  2. Likelihood: owns parameters and maximizes a model Objective over the
//     active, non-fixed subset through a Minimizer
//  3. ProfileModel: binned Poisson likelihood over a Dataset with the
//     asymptotic p-value ½·χ²_surv(q, nPOI)
//  4. CombinedModel: joint likelihood of several ProfileModels sharing
//     Common parameters by identity
//
// # Architecture
//
//   - parameter.go: Parameter and Kind
//   - likelihood.go: Likelihood bookkeeping, Evaluate and Maximize
//   - minimizer.go: Minimizer contract and the gonum implementation
//   - profile.go: test statistic, p-values and ProfileModel
//   - combined.go: CombinedModel
//   - dataset.go: Dataset contract and BinnedDataset
//
// # Usage Example
//
//	d, err := likelihood.NewBinnedDataset(likelihood.BinnedConfig{
//	    Name: "run1",
//	    Bins: []likelihood.Bin{{Observed: 3, Background: 2.4, Signal: 0.8}},
//	    BackgroundUncertainty: 0.1,
//	})
//	if err != nil {
//	    return err
//	}
//	poi := likelihood.NewParameter(likelihood.AutoID, likelihood.ParameterOfInterest, "sigma", 0, 0.1, 0, 100)
//	model, err := likelihood.NewProfileModel(d, poi, likelihood.Options{Minimizer: likelihood.NewGonumMinimizer()})
//	if err != nil {
//	    return err
//	}
//	if err := model.Initialize(); err != nil {
//	    return err
//	}
//	p := model.PValueS(2.5)
//
// Models are not safe for concurrent use. Parameters shared through a
// CombinedModel are mutated through every member that references them;
// parallel work uses clones (see CloneProvider).
package likelihood
