package likelihood

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	limiterrors "limitcli/internal/errors"
)

// Problem is a bounded minimization problem. All slices have one entry per
// variable; bounds may be ±Inf.
type Problem struct {
	Func    func(x []float64) float64
	Initial []float64
	Step    []float64
	Lower   []float64
	Upper   []float64
}

// Dim returns the number of variables
func (p Problem) Dim() int {
	return len(p.Initial)
}

// Validate checks slice lengths and bound consistency
func (p Problem) Validate() error {
	n := len(p.Initial)
	if p.Func == nil {
		return limiterrors.NewValidationError("problem has no objective", nil)
	}
	if len(p.Step) != n || len(p.Lower) != n || len(p.Upper) != n {
		return limiterrors.NewValidationError("problem slices have inconsistent lengths", nil)
	}
	for i := 0; i < n; i++ {
		if p.Lower[i] > p.Upper[i] || math.IsNaN(p.Initial[i]) {
			return limiterrors.NewValidationError(fmt.Sprintf("variable %d: invalid bounds or start value", i), nil)
		}
	}
	return nil
}

// Result is what a Minimizer reports back
type Result struct {
	X           []float64
	Errors      []float64 // NaN where no uncertainty could be estimated
	F           float64
	Status      string
	Evaluations int
	Converged   bool
}

// Minimizer minimizes a scalar objective over bounded real variables
type Minimizer interface {
	Minimize(p Problem) (*Result, error)
}

// Optimizer methods understood by GonumMinimizer
const (
	MethodSimplex     = "simplex"
	MethodBFGS        = "bfgs"
	MethodSimplexBFGS = "simplex+bfgs"
)

// GonumMinimizer implements Minimizer with gonum's optimize package.
// Bounds are handled with the usual sine / square-root variable transforms,
// each variable is rescaled so its step is one unit of the internal
// coordinate, and uncertainties come from the inverse of the numerical
// Hessian at the minimum. It holds no state between calls and is safe for
// concurrent use.
type GonumMinimizer struct {
	Method        string
	MaxFuncEvals  int
	Tolerance     float64
	ComputeErrors bool
}

// NewGonumMinimizer returns a minimizer running a simplex search followed by
// a BFGS polish.
func NewGonumMinimizer() *GonumMinimizer {
	return &GonumMinimizer{
		Method:        MethodSimplexBFGS,
		MaxFuncEvals:  20000,
		Tolerance:     1e-9,
		ComputeErrors: true,
	}
}

// Minimize implements Minimizer
func (g *GonumMinimizer) Minimize(p Problem) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	method := g.Method
	if method == "" {
		method = MethodSimplexBFGS
	}
	if method != MethodSimplex && method != MethodBFGS && method != MethodSimplexBFGS {
		return nil, limiterrors.NewOptimizerUnavailableError(fmt.Sprintf("unknown optimizer method %q", method), nil)
	}
	budget := g.MaxFuncEvals
	if budget <= 0 {
		budget = 20000
	}
	tol := g.Tolerance
	if tol <= 0 {
		tol = 1e-9
	}

	n := p.Dim()
	tr := newTransform(p)
	evaluations := 0
	objective := func(v []float64) float64 {
		evaluations++
		f := p.Func(tr.external(v))
		if math.IsNaN(f) {
			return math.Inf(1)
		}
		return f
	}

	v := tr.internalStart()
	status := optimize.NotTerminated
	var lastErr error

	if method == MethodSimplex || method == MethodSimplexBFGS {
		settings := &optimize.Settings{
			FuncEvaluations: budget,
			Converger: &optimize.FunctionConverge{
				Absolute:   tol,
				Iterations: 50 + 20*n,
			},
		}
		res, err := optimize.Minimize(optimize.Problem{Func: objective}, v, settings, &optimize.NelderMead{SimplexSize: 1})
		if res != nil {
			v = res.X
			status = res.Status
		}
		lastErr = err
	}

	if method == MethodBFGS || method == MethodSimplexBFGS {
		remaining := budget - evaluations
		if remaining > 0 {
			grad := func(dst, x []float64) {
				fd.Gradient(dst, objective, x, &fd.Settings{Formula: fd.Central, Step: 1e-6})
			}
			settings := &optimize.Settings{
				FuncEvaluations:   remaining,
				GradientThreshold: tol,
				Converger: &optimize.FunctionConverge{
					Absolute:   tol,
					Iterations: 20,
				},
			}
			start := append([]float64(nil), v...)
			fStart := objective(start)
			res, err := optimize.Minimize(optimize.Problem{Func: objective, Grad: grad}, start, settings, &optimize.BFGS{})
			switch {
			case res != nil && res.F <= fStart && !math.IsInf(res.F, 1):
				v = res.X
				status = res.Status
				lastErr = err
			case method == MethodBFGS:
				if res != nil {
					status = res.Status
				}
				lastErr = err
			}
		}
	}

	if len(v) != n {
		return nil, limiterrors.NewOptimizerUnavailableError("optimizer returned no location", lastErr)
	}

	x := tr.external(v)
	result := &Result{
		X:           x,
		Errors:      nanSlice(n),
		F:           p.Func(x),
		Status:      status.String(),
		Evaluations: evaluations,
		Converged:   converged(status),
	}
	if lastErr != nil && !result.Converged {
		result.Status = fmt.Sprintf("%s: %v", result.Status, lastErr)
	}

	if g.ComputeErrors {
		result.Errors = hessianErrors(p, x)
	}
	return result, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.MethodConverge, optimize.FunctionThreshold:
		return true
	}
	return false
}

// hessianErrors returns sqrt(diag(H⁻¹)) of the objective at x, evaluated in
// external coordinates with points clamped into the bounds.
func hessianErrors(p Problem, x []float64) []float64 {
	n := len(x)
	out := nanSlice(n)
	clamped := make([]float64, n)
	f := func(y []float64) float64 {
		for i := range y {
			clamped[i] = math.Min(math.Max(y[i], p.Lower[i]), p.Upper[i])
		}
		return p.Func(clamped)
	}

	step := math.Inf(1)
	for _, s := range p.Step {
		if s > 0 {
			step = math.Min(step, s)
		}
	}
	if math.IsInf(step, 1) {
		step = 1
	}

	h := mat.NewSymDense(n, nil)
	fd.Hessian(h, f, x, &fd.Settings{Formula: fd.Central, Step: 1e-3 * step})

	var chol mat.Cholesky
	if ok := chol.Factorize(h); !ok {
		return out
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return out
	}
	for i := 0; i < n; i++ {
		if c := cov.At(i, i); c >= 0 && !math.IsInf(c, 0) {
			out[i] = math.Sqrt(c)
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// boundKind identifies which variable transform applies
type boundKind int

const (
	unbounded boundKind = iota
	lowerOnly
	upperOnly
	bothBounds
)

// transform maps between the optimizer's unbounded internal coordinates and
// the bounded external ones. Internal coordinates are divided by a per
// variable unit so that one internal unit is roughly one step.
type transform struct {
	kinds        []boundKind
	lower, upper []float64
	unit         []float64
	start        []float64
}

func newTransform(p Problem) *transform {
	n := p.Dim()
	t := &transform{
		kinds: make([]boundKind, n),
		lower: p.Lower,
		upper: p.Upper,
		unit:  make([]float64, n),
		start: p.Initial,
	}
	for i := 0; i < n; i++ {
		loFinite := !math.IsInf(p.Lower[i], 0)
		hiFinite := !math.IsInf(p.Upper[i], 0)
		switch {
		case loFinite && hiFinite:
			t.kinds[i] = bothBounds
		case loFinite:
			t.kinds[i] = lowerOnly
		case hiFinite:
			t.kinds[i] = upperOnly
		default:
			t.kinds[i] = unbounded
		}
		t.unit[i] = t.internalUnit(i, p.Initial[i], p.Step[i])
	}
	return t
}

func (t *transform) internalUnit(i int, x0, step float64) float64 {
	if !(step > 0) {
		return 1
	}
	u0 := t.toInternal(i, x0)
	up := x0 + step
	if t.kinds[i] == bothBounds || t.kinds[i] == upperOnly {
		if up > t.upper[i] {
			up = x0 - step
		}
	}
	d := math.Abs(t.toInternal(i, up) - u0)
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 1
	}
	return d
}

func (t *transform) toInternal(i int, x float64) float64 {
	lo, hi := t.lower[i], t.upper[i]
	switch t.kinds[i] {
	case bothBounds:
		if hi == lo {
			return 0
		}
		r := 2*(x-lo)/(hi-lo) - 1
		return math.Asin(math.Max(-1, math.Min(1, r)))
	case lowerOnly:
		d := x - lo + 1
		if d < 1 {
			d = 1
		}
		return math.Sqrt(d*d - 1)
	case upperOnly:
		d := hi - x + 1
		if d < 1 {
			d = 1
		}
		return math.Sqrt(d*d - 1)
	default:
		return x
	}
}

func (t *transform) toExternal(i int, u float64) float64 {
	lo, hi := t.lower[i], t.upper[i]
	switch t.kinds[i] {
	case bothBounds:
		x := lo + (hi-lo)/2*(math.Sin(u)+1)
		return math.Max(lo, math.Min(hi, x))
	case lowerOnly:
		return lo - 1 + math.Sqrt(u*u+1)
	case upperOnly:
		return hi + 1 - math.Sqrt(u*u+1)
	default:
		return u
	}
}

func (t *transform) internalStart() []float64 {
	v := make([]float64, len(t.start))
	for i, x := range t.start {
		v[i] = t.toInternal(i, x) / t.unit[i]
	}
	return v
}

func (t *transform) external(v []float64) []float64 {
	x := make([]float64, len(v))
	for i, vi := range v {
		x[i] = t.toExternal(i, vi*t.unit[i])
	}
	return x
}

// ErrNoMinimizer is reported by Likelihood.Maximize when no Minimizer was configured
var ErrNoMinimizer = errors.New("no minimizer configured")
