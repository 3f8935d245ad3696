// Command limit-report computes exclusion limits, expected sensitivity
// bands and Poisson counting intervals, and writes them as CSV, JSON or
// XLSX tables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"limitcli/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "Confidence limits from binned event counts",
		Long:          "limit-report sets profile-likelihood and Poisson counting exclusion limits on a signal parameter\nand estimates the expected sensitivity with background-only pseudo-experiments.",
		Version:       config.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "run configuration file (default $LIMIT_CONFIG or ./limit.yaml)")
	flags.StringVarP(&opts.analysisFile, "analysis", "a", "", "analysis file describing the experiments")
	flags.StringVarP(&opts.format, "format", "f", "csv", "output format: csv, json or xlsx")
	flags.StringVarP(&opts.outputDir, "out", "o", "", "output directory (overrides paths.output_dir)")
	flags.Float64Var(&opts.cl, "cl", config.DefaultConfidenceLevel, "confidence level (overrides analysis.confidence_level)")
	flags.BoolVar(&opts.stdout, "stdout", false, "write the result table to stdout instead of the output directory")

	root.AddCommand(
		newLimitCmd(opts),
		newSensitivityCmd(opts),
		newFitCmd(opts),
		newPoissonCmd(opts),
		newCoverageCmd(opts),
	)
	return root
}
