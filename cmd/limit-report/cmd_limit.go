package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"limitcli/internal/config"
	"limitcli/internal/exclusion"
	"limitcli/internal/exporter"
	"limitcli/internal/stats"
)

func newLimitCmd(opts *rootOptions) *cobra.Command {
	var masses []float64
	var scan bool

	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Compute the observed upper limit, optionally scanned over masses",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Float64SliceVar(&masses, "masses", nil, "mass points to scan (comma separated)")
	cmd.Flags().BoolVar(&scan, "scan", false, "scan the analysis mass grid")

	cmd.RunE = run(opts, func(ctx context.Context, a *app) error {
		analysis, err := a.loadAnalysis(ctx, opts.analysisFile)
		if err != nil {
			return err
		}
		ex, err := a.newExclusion(ctx, analysis)
		if err != nil {
			return err
		}

		if scan && len(masses) == 0 {
			masses = analysis.ScanMasses()
		}
		if len(masses) > 0 {
			table, err := ex.ScanLimits(ctx, masses, a.cl)
			if err != nil {
				return err
			}
			table.Name = config.LimitsReport
			return a.emit(ctx, table)
		}

		res, err := ex.ComputeLimit(ctx, a.cl)
		if err != nil {
			return err
		}
		if !a.stdout {
			printResult(a.out, ex.Name(), res)
		}
		table := exporter.NewTable(config.LimitsReport, exclusion.LimitColumns...)
		if err := table.Append(stats.Undefined, res.Estimated, res.EstimatedEvents, res.Upper, res.UpperEvents); err != nil {
			return err
		}
		return a.emit(ctx, table)
	})
	return cmd
}

func newSensitivityCmd(opts *rootOptions) *cobra.Command {
	var masses []float64
	var scan bool
	var toys int

	cmd := &cobra.Command{
		Use:   "sensitivity",
		Short: "Estimate the expected upper limit bands from background-only toys",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Float64SliceVar(&masses, "masses", nil, "mass points to scan (comma separated)")
	cmd.Flags().BoolVar(&scan, "scan", false, "scan the analysis mass grid")
	cmd.Flags().IntVar(&toys, "toys", 0, "number of toys per point (overrides sensitivity.toys)")

	cmd.RunE = run(opts, func(ctx context.Context, a *app) error {
		if toys <= 0 {
			toys = a.cfg.Sensitivity.Toys
		}
		analysis, err := a.loadAnalysis(ctx, opts.analysisFile)
		if err != nil {
			return err
		}
		ex, err := a.newExclusion(ctx, analysis)
		if err != nil {
			return err
		}

		if scan && len(masses) == 0 {
			masses = analysis.ScanMasses()
		}
		if len(masses) > 0 {
			table, err := ex.SensitivityBands(ctx, masses, toys, a.cl)
			if err != nil {
				return err
			}
			table.Name = config.SensitivityReport
			return a.emit(ctx, table)
		}

		s, err := ex.SimulateSensitivity(ctx, toys, a.cl)
		if err != nil {
			return err
		}
		table := exporter.NewTable(config.SensitivityReport, exclusion.BandColumns...)
		err = table.Append(stats.Undefined, s.Median, s.OneSigmaLow, s.OneSigmaHigh, s.TwoSigmaLow, s.TwoSigmaHigh, float64(s.Failed))
		if err != nil {
			return err
		}
		return a.emit(ctx, table)
	})
	return cmd
}

// newFitCmd prints the unconditional fit of every profile model
func newFitCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Print the best-fit parameters of the profile models",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = run(opts, func(ctx context.Context, a *app) error {
		analysis, err := a.loadAnalysis(ctx, opts.analysisFile)
		if err != nil {
			return err
		}
		models, err := analysis.ProfileModels(a.modelOptions(ctx))
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return fmt.Errorf("analysis %s has no profile experiments", analysis.Name)
		}

		for _, m := range models {
			if err := m.Initialize(); err != nil {
				return fmt.Errorf("fit %s: %w", m.Name(), err)
			}
			if err := m.PrintCurrentParameters(a.out); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "sigma_hat=%g log_likelihood=%g\n\n", m.SigmaHat(), m.LogDenominator())
		}
		return nil
	})
	return cmd
}

func printResult(w io.Writer, name string, res exclusion.Result) {
	fmt.Fprintf(w, "%s: estimated %g (%g events), upper limit %g (%g events) at CL %g\n",
		name, res.Estimated, res.EstimatedEvents, res.Upper, res.UpperEvents, res.CL)
}
