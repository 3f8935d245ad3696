package main

import (
	"context"

	"github.com/spf13/cobra"

	"limitcli/internal/config"
	limiterrors "limitcli/internal/errors"
	"limitcli/internal/poisson"
	"limitcli/internal/stats"
)

// Poisson table layouts
var (
	intervalColumns = []string{"observed", "lower", "upper", "lower_events", "upper_events"}
	coverageColumns = []string{"sigma", "coverage"}
)

// countingFlags are shared by the poisson and coverage commands
type countingFlags struct {
	conversion float64
	background float64
	mode       string
}

func (f *countingFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64VarP(&f.conversion, "conversion", "k", 1, "expected signal events per unit of the parameter")
	cmd.Flags().Float64VarP(&f.background, "background", "b", 0, "expected background events")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "", "interval mode (overrides analysis.interval_mode)")
}

func (f *countingFlags) interval(a *app, observed int) (poisson.Interval, error) {
	modeName := f.mode
	if modeName == "" {
		modeName = a.cfg.Analysis.IntervalMode
	}
	mode, err := poisson.ParseMode(modeName)
	if err != nil {
		return poisson.Interval{}, err
	}
	in := poisson.Interval{
		Conversion: f.conversion,
		Background: f.background,
		Observed:   observed,
		Mode:       mode,
		CL:         a.cl,
	}
	return in, in.Validate()
}

func newPoissonCmd(opts *rootOptions) *cobra.Command {
	var flags countingFlags
	var observed, maxObserved int

	cmd := &cobra.Command{
		Use:   "poisson",
		Short: "Compute the Poisson counting interval for observed events",
		Args:  cobra.NoArgs,
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&observed, "observed", "n", 0, "observed events")
	cmd.Flags().IntVar(&maxObserved, "max-observed", -1, "tabulate the interval for every count from --observed up to this value")

	cmd.RunE = run(opts, func(ctx context.Context, a *app) error {
		last := max(observed, maxObserved)
		// fail on a bad mode before any report file is created
		if _, err := flags.interval(a, observed); err != nil {
			return err
		}

		return a.emitRows(ctx, config.PoissonReport, intervalColumns, func(add func(...float64) error) error {
			for n := observed; n <= last; n++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				in, err := flags.interval(a, n)
				if err != nil {
					return err
				}
				limits, err := in.Compute()
				if err != nil {
					if !limiterrors.IsType(err, limiterrors.ErrTypeRootNotBracketed) {
						return err
					}
					a.logger.WarnContext(ctx, "interval is empty", "observed", n, "error", err)
				}
				if err := add(float64(n), limits.Lower, limits.Upper, limits.LowerEvents, limits.UpperEvents); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return cmd
}

func newCoverageCmd(opts *rootOptions) *cobra.Command {
	var flags countingFlags
	var sigmaMax float64
	var steps int

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Tabulate the coverage of the Poisson interval against the true signal",
		Args:  cobra.NoArgs,
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&sigmaMax, "sigma-max", 10, "largest true value")
	cmd.Flags().IntVar(&steps, "steps", 50, "number of steps between 0 and --sigma-max")

	cmd.RunE = run(opts, func(ctx context.Context, a *app) error {
		if steps < 1 || !(sigmaMax > 0) {
			return limiterrors.NewValidationError("coverage needs a positive --sigma-max and at least one step", nil)
		}
		in, err := flags.interval(a, 0)
		if err != nil {
			return err
		}

		return a.emitRows(ctx, config.CoverageReport, coverageColumns, func(add func(...float64) error) error {
			for i := 0; i <= steps; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				sigma := sigmaMax * float64(i) / float64(steps)
				cov, err := in.Coverage(sigma)
				if err != nil {
					a.logger.WarnContext(ctx, "coverage undefined", "sigma", sigma, "error", err)
					cov = stats.Undefined
				}
				if err := add(sigma, cov); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return cmd
}
