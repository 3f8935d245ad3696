package exclusion

import (
	"context"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/exporter"
)

// Result table layouts
var (
	LimitColumns = []string{"mass", "estimated", "estimated_events", "upper", "upper_events"}
	BandColumns  = []string{"mass", "median", "minus_one_sigma", "plus_one_sigma", "minus_two_sigma", "plus_two_sigma", "failed_toys"}
)

// ScanLimits computes the observed limit at every mass. A mass whose limit
// cannot be computed becomes a row of NaN values; only cancellation stops
// the scan.
func (e *Exclusion) ScanLimits(ctx context.Context, masses []float64, cl float64) (*exporter.Table, error) {
	if len(masses) == 0 {
		return nil, limiterrors.NewValidationError("mass scan needs at least one mass", nil)
	}
	table := exporter.NewTable("limits", LimitColumns...)

	for _, mass := range masses {
		if err := ctx.Err(); err != nil {
			return table, err
		}

		result, err := e.limitAt(ctx, mass, cl)
		if err != nil {
			e.logger.Warn("skipping mass point",
				"mass", mass,
				"error", err,
			)
		}
		if err := table.Append(mass, result.Estimated, result.EstimatedEvents, result.Upper, result.UpperEvents); err != nil {
			return table, err
		}
	}
	return table, nil
}

func (e *Exclusion) limitAt(ctx context.Context, mass, cl float64) (Result, error) {
	if err := e.SetMass(mass); err != nil {
		return undefinedResult(cl), err
	}
	return e.ComputeLimit(ctx, cl)
}

// SensitivityBands runs a toy study at every mass and tabulates the median
// and ±1σ/±2σ quantiles of the expected upper limit. Failed masses become
// rows of NaN values.
func (e *Exclusion) SensitivityBands(ctx context.Context, masses []float64, nToys int, cl float64) (*exporter.Table, error) {
	if len(masses) == 0 {
		return nil, limiterrors.NewValidationError("sensitivity scan needs at least one mass", nil)
	}
	table := exporter.NewTable("sensitivity", BandColumns...)

	for _, mass := range masses {
		if err := ctx.Err(); err != nil {
			return table, err
		}

		s, err := e.sensitivityAt(ctx, mass, nToys, cl)
		if err != nil {
			if ctx.Err() != nil {
				return table, ctx.Err()
			}
			e.logger.Warn("skipping mass point",
				"mass", mass,
				"error", err,
			)
			s = newSensitivity(nil)
			s.Failed = nToys
		}
		err = table.Append(mass, s.Median, s.OneSigmaLow, s.OneSigmaHigh, s.TwoSigmaLow, s.TwoSigmaHigh, float64(s.Failed))
		if err != nil {
			return table, err
		}
	}
	return table, nil
}

func (e *Exclusion) sensitivityAt(ctx context.Context, mass float64, nToys int, cl float64) (Sensitivity, error) {
	if err := e.SetMass(mass); err != nil {
		return Sensitivity{}, err
	}
	return e.SimulateSensitivity(ctx, nToys, cl)
}
