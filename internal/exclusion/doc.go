// Package exclusion turns p-value providers into confidence limits.
//
// An Exclusion holds an ordered list of providers of one analysis mode
// (profile likelihood models or exact counting experiments). For a
// hypothesized σ it multiplies their signal p-values, optionally divides by
// the background-only product (CLs) and Fisher-combines the result when
// several providers take part. ComputeLimit inverts that curve with a
// bracketing root finder; an interval without a sign change is reported as
// RootNotBracketed and the limit is left undefined (NaN).
//
// Toy studies (SimulateSensitivity, SensitivityBands) regenerate
// background-only pseudo-data on clones of the providers, one clone per
// worker, so the caller's models are never mutated concurrently.
//
//	ex, err := exclusion.New(exclusion.Settings{CLs: true}, model)
//	if err != nil {
//	    return err
//	}
//	res, err := ex.ComputeLimit(ctx, 0.90)
package exclusion
