package exclusion

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/pvalue"
	"limitcli/internal/stats"
)

// Sensitivity summarizes the upper limits of a background-only toy study
type Sensitivity struct {
	// Limits holds one upper limit per toy, NaN where the toy failed
	Limits       []float64
	Failed       int
	Median       float64
	OneSigmaLow  float64
	OneSigmaHigh float64
	TwoSigmaLow  float64
	TwoSigmaHigh float64
}

func newSensitivity(limits []float64) Sensitivity {
	s := Sensitivity{
		Limits:       limits,
		Median:       stats.Quantile(limits, 0.5),
		OneSigmaLow:  stats.Quantile(limits, stats.OneSigmaLow),
		OneSigmaHigh: stats.Quantile(limits, stats.OneSigmaHigh),
		TwoSigmaLow:  stats.Quantile(limits, stats.TwoSigmaLow),
		TwoSigmaHigh: stats.Quantile(limits, stats.TwoSigmaHigh),
	}
	for _, v := range limits {
		if stats.IsUndefined(v) {
			s.Failed++
		}
	}
	return s
}

// Clone returns an Exclusion over independent copies of every provider.
// All providers must implement pvalue.Toy.
func (e *Exclusion) Clone() (*Exclusion, error) {
	clone := &Exclusion{
		settings: e.settings,
		logger:   e.logger,
		names:    append([]string(nil), e.names...),
		cachedPb: stats.Undefined,
		last:     undefinedResult(stats.Undefined),
	}
	for _, p := range e.providers {
		toy, ok := p.(pvalue.Toy)
		if !ok {
			return nil, limiterrors.NewNotReadyError("provider cannot generate pseudo-data").WithContext("provider", p.Name())
		}
		c, err := toy.CloneProvider()
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", p.Name(), err)
		}
		clone.providers = append(clone.providers, c)
	}
	return clone, nil
}

// SimulateSensitivity computes the upper limit for nToys background-only
// pseudo-experiments. Toy i draws from the stream rand.NewPCG(Seed, i), so
// the result does not depend on the number of workers. Toys whose limit
// cannot be computed are recorded as NaN and skipped by the quantiles.
func (e *Exclusion) SimulateSensitivity(ctx context.Context, nToys int, cl float64) (Sensitivity, error) {
	if nToys < 1 {
		return Sensitivity{}, limiterrors.NewValidationError("number of toys must be positive", nil).WithContext("toys", nToys)
	}
	if len(e.providers) == 0 {
		return Sensitivity{}, limiterrors.NewNotReadyError("no p-value providers registered")
	}

	ctx, span := e.settings.Tracer.Start(ctx, "SimulateSensitivity",
		trace.WithAttributes(
			attribute.String("exclusion", e.Name()),
			attribute.Int("toys", nToys),
		))
	defer span.End()

	workers := min(e.settings.Workers, nToys)
	clones := make([]*Exclusion, workers)
	for w := range clones {
		c, err := e.Clone()
		if err != nil {
			return Sensitivity{}, err
		}
		clones[w] = c
	}

	limits := make([]float64, nToys)
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < nToys; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for _, worker := range clones {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				limits[i] = worker.runToy(gctx, i, cl)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Sensitivity{}, err
	}

	s := newSensitivity(limits)
	if s.Failed == nToys {
		e.logger.Warn("every toy failed", "exclusion", e.Name(), "toys", nToys)
	}
	e.logger.Info("sensitivity computed",
		"exclusion", e.Name(),
		"toys", nToys,
		"failed", s.Failed,
		"median", s.Median,
	)
	return s, nil
}

// runToy regenerates every provider from toy i's stream and returns the
// upper limit, NaN on failure
func (e *Exclusion) runToy(ctx context.Context, i int, cl float64) float64 {
	ctx, span := e.settings.Tracer.Start(ctx, "toy", trace.WithAttributes(attribute.Int("toy", i)))
	defer span.End()

	rng := rand.New(rand.NewPCG(e.settings.Seed, uint64(i)))
	for _, p := range e.providers {
		if err := p.(pvalue.Toy).GenerateBackgroundOnly(rng); err != nil {
			e.logger.Debug("toy generation failed", "toy", i, "provider", p.Name(), "error", err)
			e.recordToy(ctx, true)
			return stats.Undefined
		}
	}

	result, err := e.ComputeLimit(ctx, cl)
	if err != nil {
		e.logger.Debug("toy limit failed", "toy", i, "error", err)
		e.recordToy(ctx, true)
		return stats.Undefined
	}
	e.recordToy(ctx, false)
	return result.Upper
}

func (e *Exclusion) recordToy(ctx context.Context, failed bool) {
	if e.settings.Recorder != nil {
		e.settings.Recorder.RecordToy(ctx, failed)
	}
}
