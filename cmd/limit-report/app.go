package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"limitcli/internal/config"
	"limitcli/internal/dataset"
	limiterrors "limitcli/internal/errors"
	"limitcli/internal/exclusion"
	"limitcli/internal/exporter"
	"limitcli/internal/infrastructure"
	"limitcli/internal/likelihood"
	"limitcli/internal/pvalue"
	"limitcli/internal/validation"
)

// rootOptions holds the persistent flags
type rootOptions struct {
	configFile   string
	analysisFile string
	format       string
	outputDir    string
	cl           float64
	stdout       bool
}

// app is the per-invocation runtime: configuration, logger, telemetry and
// the result writer
type app struct {
	cfg     *config.Config
	paths   *config.Paths
	logger  *slog.Logger
	otel    *infrastructure.OTelProviders
	metrics *infrastructure.LimitMetrics
	writer  *exporter.Writer
	format  exporter.Format
	cl      float64
	stdout  bool
	out     io.Writer
}

// newApp loads configuration, applies flag overrides and starts logging and
// telemetry
func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.LoadFrom(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("cl") {
		cfg.Analysis.ConfidenceLevel = opts.cl
	}
	if opts.outputDir != "" {
		cfg.Paths.OutputDir = opts.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	format, err := exporter.ParseFormat(opts.format)
	if err != nil {
		return nil, err
	}

	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return nil, err
	}
	if !opts.stdout {
		if err := paths.EnsureDirectories(); err != nil {
			return nil, err
		}
		files := validation.NewFileValidator(infrastructure.WithComponent(logger, "validation"))
		if err := files.ValidateOutputDirectory(paths.OutputDir); err != nil {
			return nil, err
		}
	}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, cmd.ErrOrStderr(), logger)
	if err != nil {
		return nil, err
	}
	metrics, err := infrastructure.NewLimitMetrics(providers.Meter)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		paths:   paths,
		logger:  logger,
		otel:    providers,
		metrics: metrics,
		writer:  exporter.NewWriter(paths, infrastructure.WithComponent(logger, "exporter")),
		format:  format,
		cl:      cfg.Analysis.ConfidenceLevel,
		stdout:  opts.stdout,
		out:     cmd.OutOrStdout(),
	}, nil
}

// close records runtime gauges, writes the metrics snapshot and flushes
// telemetry
func (a *app) close(ctx context.Context) error {
	a.metrics.RecordRuntime(ctx)

	var firstErr error
	if a.cfg.Telemetry.MetricsEnabled && !a.stdout {
		if err := a.otel.WriteMetrics(a.paths.GetReportPath(config.MetricsSnapshot)); err != nil {
			firstErr = err
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := infrastructure.CloseLogFile(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// modelOptions configures likelihood models from the optimizer and
// analysis sections
func (a *app) modelOptions(ctx context.Context) likelihood.Options {
	o := a.cfg.Optimizer
	return likelihood.Options{
		Minimizer: &likelihood.GonumMinimizer{
			Method:        o.Method,
			MaxFuncEvals:  o.MaxFuncEvals,
			Tolerance:     o.Tolerance,
			ComputeErrors: o.ComputeErrors,
		},
		Policy:   likelihood.StatisticPolicy(a.cfg.Analysis.TestStatistic),
		Logger:   infrastructure.WithComponent(infrastructure.LoggerWithContext(ctx), "likelihood"),
		Recorder: a.metrics,
	}
}

// loadAnalysis reads the analysis file named by --analysis
func (a *app) loadAnalysis(ctx context.Context, path string) (*dataset.Analysis, error) {
	if path == "" {
		return nil, limiterrors.NewValidationError("an analysis file is required (--analysis)", nil)
	}
	loader := dataset.NewLoader(infrastructure.WithComponent(infrastructure.LoggerWithContext(ctx), "dataset"))
	return loader.Load(path)
}

// newExclusion builds an Exclusion over the analysis providers of the
// configured mode
func (a *app) newExclusion(ctx context.Context, analysis *dataset.Analysis) (*exclusion.Exclusion, error) {
	providers, err := analysis.Providers(pvalue.Mode(a.cfg.Analysis.Mode), a.modelOptions(ctx))
	if err != nil {
		return nil, err
	}

	settings := exclusion.NewSettings(a.cfg)
	settings.Logger = infrastructure.WithComponent(infrastructure.LoggerWithContext(ctx), "exclusion")
	settings.Tracer = a.otel.Tracer
	settings.Recorder = a.metrics
	return exclusion.New(settings, providers...)
}

// emit writes a result table to stdout or to the output directory
func (a *app) emit(ctx context.Context, t *exporter.Table) error {
	if a.stdout {
		return exporter.Encode(a.out, t, a.format)
	}
	path, err := a.writer.Write(t, a.format)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "report written",
		"table", t.Name,
		"rows", t.Len(),
		"path", path,
	)
	return nil
}

// emitRows produces a table row by row. CSV reports written to disk are
// streamed so an interrupted run keeps the rows computed so far.
func (a *app) emitRows(ctx context.Context, name string, columns []string, produce func(add func(values ...float64) error) error) error {
	if a.stdout || a.format != exporter.FormatCSV {
		table := exporter.NewTable(name, columns...)
		if err := produce(table.Append); err != nil {
			return err
		}
		return a.emit(ctx, table)
	}

	stream, err := a.writer.CreateStreamWriter(name, columns)
	if err != nil {
		return err
	}
	rows := 0
	err = produce(func(values ...float64) error {
		rows++
		return stream.WriteRow(values...)
	})
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "report written",
		"table", name,
		"rows", rows,
		"path", a.paths.GetReportPath(name+exporter.FormatCSV.Extension()),
	)
	return nil
}

// run wraps a command body with run id, span and teardown
func run(opts *rootOptions, body func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}

		ctx := infrastructure.EnsureRunID(cmd.Context())
		ctx, span := a.otel.Tracer.Start(ctx, cmd.Name())
		a.logger.InfoContext(ctx, "run started",
			"command", cmd.Name(),
			"version", config.AppVersion,
			"mode", a.cfg.Analysis.Mode,
			"cl", a.cl,
		)

		err = body(ctx, a)
		if err != nil {
			infrastructure.RecordError(ctx, err)
			a.logger.ErrorContext(ctx, "run failed", "command", cmd.Name(), "error", err)
		} else {
			a.logger.InfoContext(ctx, "run finished", "command", cmd.Name())
		}
		span.End()

		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
}
