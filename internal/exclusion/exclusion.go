package exclusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"limitcli/internal/config"
	limiterrors "limitcli/internal/errors"
	"limitcli/internal/pvalue"
	"limitcli/internal/rootfind"
	"limitcli/internal/stats"
)

// PValue is the capability Exclusion needs from a model
type PValue = pvalue.Provider

// Limit statuses reported to the Recorder
const (
	StatusOK           = "ok"
	StatusNotBracketed = "not_bracketed"
	StatusUndefined    = "undefined"
	StatusFailed       = "failed"
)

// Recorder receives one record per limit computation and per toy
type Recorder interface {
	RecordLimit(ctx context.Context, status string)
	RecordToy(ctx context.Context, failed bool)
}

// Settings configures an Exclusion. The zero value is usable: profile mode,
// no CLs, no Fisher correction, sequential toys.
type Settings struct {
	Mode             pvalue.Mode
	CLs              bool
	FisherCorrection bool
	// Workers bounds the number of concurrent toy workers
	Workers int
	// Seed selects the pseudo-random streams of toy studies
	Seed     uint64
	Root     rootfind.Options
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Recorder Recorder
}

// NewSettings builds Settings from the run configuration
func NewSettings(cfg *config.Config) Settings {
	return Settings{
		Mode:             pvalue.Mode(cfg.Analysis.Mode),
		CLs:              cfg.Analysis.CLs,
		FisherCorrection: cfg.Analysis.FisherCorrection,
		Workers:          cfg.Sensitivity.Workers,
		Seed:             cfg.Sensitivity.Seed,
		Root:             rootfind.DefaultOptions(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.Mode == "" {
		s.Mode = pvalue.ModeProfile
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.Root.MaxIterations <= 0 {
		s.Root = rootfind.DefaultOptions()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Tracer == nil {
		s.Tracer = tracenoop.NewTracerProvider().Tracer("limitcli")
	}
	return s
}

// Result is the outcome of one limit computation. Values that could not be
// determined are NaN.
type Result struct {
	Estimated       float64
	EstimatedEvents float64
	Upper           float64
	UpperEvents     float64
	// CL is the confidence level the root was solved at, after any Fisher
	// correction
	CL float64
}

func undefinedResult(cl float64) Result {
	return Result{
		Estimated:       stats.Undefined,
		EstimatedEvents: stats.Undefined,
		Upper:           stats.Undefined,
		UpperEvents:     stats.Undefined,
		CL:              cl,
	}
}

// Exclusion combines p-value providers into confidence limits. It is not
// safe for concurrent use; toy studies run on clones.
type Exclusion struct {
	settings  Settings
	logger    *slog.Logger
	providers []PValue
	names     []string

	conversion float64
	searchLo   float64
	searchHi   float64
	cachedPb   float64
	last       Result
}

// New creates an Exclusion and registers providers through AddPValue
func New(settings Settings, providers ...PValue) (*Exclusion, error) {
	settings = settings.withDefaults()
	if !settings.Mode.Valid() {
		return nil, limiterrors.NewValidationError(fmt.Sprintf("unknown analysis mode %q", settings.Mode), nil)
	}
	e := &Exclusion{
		settings: settings,
		logger:   settings.Logger.With("component", "exclusion"),
		cachedPb: stats.Undefined,
		last:     undefinedResult(stats.Undefined),
	}
	for _, p := range providers {
		if err := e.AddPValue(p); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddPValue initializes and registers a provider. Providers of another
// analysis mode are skipped with a warning.
func (e *Exclusion) AddPValue(p PValue) error {
	if p == nil {
		return limiterrors.NewValidationError("cannot add a nil provider", nil)
	}
	if p.Mode() != e.settings.Mode {
		e.logger.Warn("skipping provider of another analysis mode",
			"provider", p.Name(),
			"provider_mode", p.Mode(),
			"mode", e.settings.Mode,
		)
		return nil
	}
	if err := p.Initialize(); err != nil {
		return fmt.Errorf("initialize %s: %w", p.Name(), err)
	}
	e.providers = append(e.providers, p)
	e.names = append(e.names, p.Name())
	return nil
}

// Name returns the provider names joined with "+"
func (e *Exclusion) Name() string {
	return strings.Join(e.names, "+")
}

// Providers returns the registered providers in order
func (e *Exclusion) Providers() []PValue {
	return append([]PValue(nil), e.providers...)
}

// Settings returns the effective settings
func (e *Exclusion) Settings() Settings {
	return e.settings
}

// Last returns the most recent limit
func (e *Exclusion) Last() Result {
	return e.last
}

// SearchInterval returns the σ interval limits are searched in, valid after
// PrepareForLimit
func (e *Exclusion) SearchInterval() (lo, hi float64) {
	return e.searchLo, e.searchHi
}

// Conversion returns the combined expected signal events per unit σ
func (e *Exclusion) Conversion() float64 {
	return e.conversion
}

// PrepareForLimit initializes every provider, sums their conversion factors
// and bounds the σ search interval from their admissible event ranges. The
// interval never leaves the σ range any single provider can evaluate.
func (e *Exclusion) PrepareForLimit() error {
	e.cachedPb = stats.Undefined
	if len(e.providers) == 0 {
		return limiterrors.NewNotReadyError("no p-value providers registered").WithContext("mode", e.settings.Mode)
	}

	var conv, lo, hi float64
	sigmaLo, sigmaHi := math.Inf(-1), math.Inf(1)
	for _, p := range e.providers {
		if err := p.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", p.Name(), err)
		}
		c := p.SignalPerUnit()
		l, h := p.AdmissibleRange()
		conv += c
		lo += l
		hi += h
		if c > 0 {
			sigmaLo = math.Max(sigmaLo, l/c)
			sigmaHi = math.Min(sigmaHi, h/c)
		}
	}
	if !(conv > 0) || math.IsInf(conv, 0) {
		return limiterrors.NewNotReadyError("combined signal conversion must be positive").
			WithContext("exclusion", e.Name()).
			WithContext("conversion", conv)
	}

	e.conversion = conv
	e.searchLo = math.Max(lo/conv, sigmaLo)
	e.searchHi = math.Min(hi/conv, sigmaHi)
	if !(e.searchLo <= e.searchHi) {
		return limiterrors.NewNotReadyError("providers have no common signal range").
			WithContext("exclusion", e.Name()).
			WithContext("search_lo", e.searchLo).
			WithContext("search_hi", e.searchHi)
	}
	e.cachedPb = e.backgroundPValue()

	e.logger.Debug("prepared for limit",
		"exclusion", e.Name(),
		"conversion", conv,
		"search_lo", e.searchLo,
		"search_hi", e.searchHi,
		"pb", e.cachedPb,
	)
	return nil
}

func (e *Exclusion) backgroundPValue() float64 {
	pb := 1.0
	for _, p := range e.providers {
		v := p.PValueB()
		if math.IsNaN(v) {
			return stats.Undefined
		}
		pb *= v
	}
	return pb
}

// CorrectedPValue returns the combined p-value at σ: the product of the
// providers' signal p-values, divided by the background-only product when
// CLs is on, and Fisher-combined when there is more than one provider.
func (e *Exclusion) CorrectedPValue(sigma float64, useCachedBackground bool) float64 {
	if len(e.providers) == 0 {
		return stats.Undefined
	}

	ps := 1.0
	for _, p := range e.providers {
		v := p.PValueS(sigma)
		if math.IsNaN(v) {
			e.logger.Debug("undefined signal p-value", "provider", p.Name(), "sigma", sigma)
			return stats.Undefined
		}
		ps *= v
	}

	ratio := ps
	if e.settings.CLs {
		pb := e.cachedPb
		if !useCachedBackground || math.IsNaN(pb) {
			pb = e.backgroundPValue()
			e.cachedPb = pb
		}
		if math.IsNaN(pb) || pb <= 0 {
			e.logger.Debug("undefined background p-value", "exclusion", e.Name(), "pb", pb)
			return stats.Undefined
		}
		ratio = ps / pb
	}

	if n := len(e.providers); n > 1 {
		return stats.FisherCombine(ratio, n)
	}
	return ratio
}

// EffectiveCL applies the Fisher correction (n+1)/(2n) when enabled
func (e *Exclusion) EffectiveCL(cl float64) float64 {
	n := len(e.providers)
	if !e.settings.FisherCorrection || n == 0 {
		return cl
	}
	return cl * float64(n+1) / float64(2*n)
}

// ComputeLimit solves CorrectedPValue(σ) = 1 − CL for the upper limit. The
// search starts at the best fit, where the p-value curve is decreasing. A
// search interval without a sign change returns a RootNotBracketed error
// and an undefined upper limit.
func (e *Exclusion) ComputeLimit(ctx context.Context, cl float64) (Result, error) {
	ctx, span := e.settings.Tracer.Start(ctx, "ComputeLimit",
		trace.WithAttributes(
			attribute.String("exclusion", e.Name()),
			attribute.Float64("cl", cl),
		))
	defer span.End()

	result, status, err := e.computeLimit(cl)
	e.last = result
	if e.settings.Recorder != nil {
		e.settings.Recorder.RecordLimit(ctx, status)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(attribute.Float64("upper", result.Upper))
	return result, nil
}

func (e *Exclusion) computeLimit(cl float64) (Result, string, error) {
	if !(cl > 0 && cl < 1) {
		return undefinedResult(cl), StatusFailed,
			limiterrors.NewValidationError("confidence level must lie strictly between 0 and 1", nil).WithContext("cl", cl)
	}
	if err := e.PrepareForLimit(); err != nil {
		return undefinedResult(cl), StatusFailed, err
	}

	var events float64
	for _, p := range e.providers {
		_, ev := p.EstimateCrossSection()
		events += ev
	}
	result := undefinedResult(e.EffectiveCL(cl))
	result.EstimatedEvents = events
	result.Estimated = events / e.conversion

	if !(result.CL > 0 && result.CL < 1) {
		return result, StatusFailed,
			limiterrors.NewValidationError("corrected confidence level must lie strictly between 0 and 1", nil).
				WithContext("cl", cl).WithContext("corrected_cl", result.CL)
	}

	lo, hi := e.searchLo, e.searchHi
	if !math.IsNaN(result.Estimated) && result.Estimated > lo {
		lo = result.Estimated
	}
	if !(hi > lo) {
		return result, StatusNotBracketed, limiterrors.NewRootNotBracketedError(lo, hi, stats.Undefined, stats.Undefined).
			WithContext("exclusion", e.Name())
	}

	target := 1 - result.CL
	f := func(sigma float64) float64 {
		return e.CorrectedPValue(sigma, true)
	}
	upper, err := rootfind.Solve(f, target, lo, hi, e.settings.Root)
	switch {
	case errors.Is(err, rootfind.ErrNoConvergence):
		e.logger.Warn("limit search did not converge, keeping best estimate",
			"exclusion", e.Name(),
			"upper", upper,
		)
	case limiterrors.IsType(err, limiterrors.ErrTypeRootNotBracketed):
		e.logger.Warn("limit not bracketed",
			"exclusion", e.Name(),
			"cl", result.CL,
			"error", err,
		)
		return result, StatusNotBracketed, err
	case err != nil:
		return result, StatusUndefined, err
	}

	result.Upper = upper
	result.UpperEvents = upper * e.conversion

	e.logger.Debug("limit computed",
		"exclusion", e.Name(),
		"cl", result.CL,
		"estimated", result.Estimated,
		"upper", result.Upper,
		"upper_events", result.UpperEvents,
	)
	return result, StatusOK, nil
}

// SetMass sets the mass hypothesis on every provider
func (e *Exclusion) SetMass(mass float64) error {
	for _, p := range e.providers {
		md, ok := p.(pvalue.MassDependent)
		if !ok {
			return limiterrors.NewValidationError("provider does not depend on mass", nil).
				WithContext("provider", p.Name())
		}
		if err := md.SetMass(mass); err != nil {
			return fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}
	e.cachedPb = stats.Undefined
	return nil
}
