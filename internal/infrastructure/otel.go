package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"limitcli/internal/config"
)

const (
	// MeterName is the instrumentation scope for meters and tracers
	MeterName = "limitcli"
)

// Limit statuses recorded on limits_total
const (
	StatusOK           = "ok"
	StatusNotBracketed = "not_bracketed"
	StatusUndefined    = "undefined"
	StatusFailed       = "failed"
)

// OTelProviders holds the OpenTelemetry providers. Tracer and Meter are
// always usable; they are no-ops when the matching signal is disabled.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Registry       *promclient.Registry
	Logger         *slog.Logger
}

// InitializeOTel sets up metrics and tracing from the telemetry section.
// Spans are written to traceOut (stderr when nil).
func InitializeOTel(cfg config.TelemetryConfig, traceOut io.Writer, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(config.AppVersion),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  metricnoop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.TracingEnabled {
		if err := initializeTracing(res, traceOut, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.MetricsEnabled {
		if err := initializeMetrics(res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	logger.DebugContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.Bool("tracing_enabled", cfg.TracingEnabled),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled))

	return providers, nil
}

// initializeTracing sets up the stdout span exporter
func initializeTracing(res *resource.Resource, out io.Writer, providers *OTelProviders) error {
	if out == nil {
		out = os.Stderr
	}
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(config.AppVersion))
	otel.SetTracerProvider(tp)
	return nil
}

// initializeMetrics sets up the Prometheus exporter on a private registry
// so a run can snapshot exactly its own series.
func initializeMetrics(res *resource.Resource, providers *OTelProviders) error {
	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.Registry = registry
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(config.AppVersion))
	otel.SetMeterProvider(mp)
	return nil
}

// WriteMetrics writes a Prometheus text-format snapshot of the run's
// metrics. It is a no-op when metrics are disabled.
func (p *OTelProviders) WriteMetrics(path string) error {
	if p.Registry == nil {
		return nil
	}
	if err := promclient.WriteToTextfile(path, p.Registry); err != nil {
		return fmt.Errorf("failed to write metrics snapshot %s: %w", path, err)
	}
	return nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

// LimitMetrics holds the engine's instruments
type LimitMetrics struct {
	fitsTotal      metric.Int64Counter
	fitDuration    metric.Float64Histogram
	fitEvaluations metric.Int64Histogram
	limitsTotal    metric.Int64Counter
	toysTotal      metric.Int64Counter
	goroutines     metric.Int64Gauge
	heapAlloc      metric.Int64Gauge
}

// NewLimitMetrics creates the engine's instruments on meter
func NewLimitMetrics(meter metric.Meter) (*LimitMetrics, error) {
	fitsTotal, err := meter.Int64Counter(
		"limit_fits_total",
		metric.WithDescription("Total number of likelihood maximizations"),
	)
	if err != nil {
		return nil, err
	}

	fitDuration, err := meter.Float64Histogram(
		"limit_fit_duration_seconds",
		metric.WithDescription("Likelihood maximization duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	fitEvaluations, err := meter.Int64Histogram(
		"limit_fit_evaluations",
		metric.WithDescription("Objective evaluations per maximization"),
	)
	if err != nil {
		return nil, err
	}

	limitsTotal, err := meter.Int64Counter(
		"limit_limits_total",
		metric.WithDescription("Total number of limit computations by status"),
	)
	if err != nil {
		return nil, err
	}

	toysTotal, err := meter.Int64Counter(
		"limit_toys_total",
		metric.WithDescription("Total number of pseudo-experiments"),
	)
	if err != nil {
		return nil, err
	}

	goroutines, err := meter.Int64Gauge(
		"limit_goroutines",
		metric.WithDescription("Number of goroutines at the last runtime sample"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"limit_heap_alloc_bytes",
		metric.WithDescription("Heap bytes allocated at the last runtime sample"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &LimitMetrics{
		fitsTotal:      fitsTotal,
		fitDuration:    fitDuration,
		fitEvaluations: fitEvaluations,
		limitsTotal:    limitsTotal,
		toysTotal:      toysTotal,
		goroutines:     goroutines,
		heapAlloc:      heapAlloc,
	}, nil
}

// RecordFit records one completed maximization. It satisfies
// likelihood.FitRecorder, which has no context to pass along.
func (m *LimitMetrics) RecordFit(model string, duration time.Duration, evaluations int, converged bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("converged", converged),
	)
	m.fitsTotal.Add(ctx, 1, attrs)
	m.fitDuration.Record(ctx, duration.Seconds(), attrs)
	m.fitEvaluations.Record(ctx, int64(evaluations), attrs)
}

// RecordLimit records one limit computation with its outcome status
func (m *LimitMetrics) RecordLimit(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.limitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordToy records one pseudo-experiment
func (m *LimitMetrics) RecordToy(ctx context.Context, failed bool) {
	if m == nil {
		return
	}
	status := StatusOK
	if failed {
		status = StatusFailed
	}
	m.toysTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRuntime samples goroutine count and heap usage
func (m *LimitMetrics) RecordRuntime(ctx context.Context) {
	if m == nil {
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.goroutines.Record(ctx, int64(runtime.NumGoroutine()))
	m.heapAlloc.Record(ctx, int64(mem.HeapAlloc))
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts the trace id from context for log correlation
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
