// Package rootfind solves f(x) = target for monotone scalar functions on a
// closed interval using Brent's method. A search interval without a sign
// change is reported as an error, never extrapolated.
package rootfind

import (
	"errors"
	"fmt"
	"math"

	limiterrors "limitcli/internal/errors"
)

const eps = 1e-15

// ErrNoConvergence is returned when the iteration budget runs out before the
// tolerance is met. The best estimate is still returned alongside it.
var ErrNoConvergence = errors.New("rootfind: maximum iterations exceeded")

// Options controls the solver tolerance and budget
type Options struct {
	// AbsTol and RelTol bound the final bracket width: |Δx| ≤ AbsTol + RelTol·|x|
	AbsTol float64
	RelTol float64
	// FTol stops as soon as |f(x) - target| ≤ FTol. Zero disables it.
	FTol          float64
	MaxIterations int
}

// DefaultOptions returns tolerances adequate for confidence-limit searches
func DefaultOptions() Options {
	return Options{
		AbsTol:        1e-9,
		RelTol:        1e-7,
		FTol:          0,
		MaxIterations: 200,
	}
}

// Solve returns x in [lo, hi] with f(x) = target. f must be continuous and
// monotone on the interval; f(lo)-target and f(hi)-target must have opposite
// signs (or one of them be zero).
func Solve(f func(float64) float64, target, lo, hi float64, opts Options) (float64, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return math.NaN(), limiterrors.NewValidationError(fmt.Sprintf("invalid search interval [%g, %g]", lo, hi), nil)
	}
	if lo > hi {
		lo, hi = hi, lo
	}

	g := func(x float64) float64 { return f(x) - target }

	a, b := lo, hi
	fa, fb := g(a), g(b)
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return math.NaN(), limiterrors.NewNonFiniteObjectiveError("function is undefined at the search interval end points").
			WithContext("lo", lo).
			WithContext("hi", hi)
	}
	if fa == 0 {
		return a, nil
	}
	if fb == 0 {
		return b, nil
	}
	if (fa > 0) == (fb > 0) {
		return math.NaN(), limiterrors.NewRootNotBracketedError(lo, hi, fa, fb)
	}

	c, fc := b, fb
	var d, e float64
	for i := 0; i < opts.MaxIterations; i++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol := opts.AbsTol + opts.RelTol*math.Abs(b)
		tol1 := 2*eps*math.Abs(b) + 0.5*tol
		xm := 0.5 * (c - b)
		if math.Abs(xm) <= tol1 || fb == 0 || (opts.FTol > 0 && math.Abs(fb) <= opts.FTol) {
			return b, nil
		}

		if math.Abs(e) >= tol1 && math.Abs(fa) > math.Abs(fb) {
			var p, q float64
			s := fb / fa
			if a == c {
				// secant
				p = 2 * xm * s
				q = 1 - s
			} else {
				// inverse quadratic interpolation
				qq := fa / fc
				r := fb / fc
				p = s * (2*xm*qq*(qq-r) - (b-a)*(r-1))
				q = (qq - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			if 2*p < math.Min(3*xm*q-math.Abs(tol1*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = xm
				e = d
			}
		} else {
			d = xm
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > tol1 {
			b += d
		} else {
			b += math.Copysign(tol1, xm)
		}
		fb = g(b)
		if math.IsNaN(fb) {
			return math.NaN(), limiterrors.NewNonFiniteObjectiveError("function became undefined during the search").
				WithContext("x", b)
		}
	}
	return b, ErrNoConvergence
}

// Expand grows hi geometrically (by factor, at most maxSteps times) until
// f(hi)-target changes sign relative to f(lo)-target. It is meant for
// functions known to be monotone on [lo, ∞) and returns the bracketing hi.
func Expand(f func(float64) float64, target, lo, hi, factor float64, maxSteps int) (float64, error) {
	if factor <= 1 {
		factor = 2
	}
	if hi <= lo {
		hi = lo + 1
	}
	fLo := f(lo) - target
	if math.IsNaN(fLo) {
		return math.NaN(), limiterrors.NewNonFiniteObjectiveError("function is undefined at the lower end").WithContext("lo", lo)
	}
	if fLo == 0 {
		return hi, nil
	}
	fHi := f(hi) - target
	for step := 0; ; step++ {
		if math.IsNaN(fHi) {
			return math.NaN(), limiterrors.NewNonFiniteObjectiveError("function is undefined at the upper end").WithContext("hi", hi)
		}
		if fHi == 0 || (fLo > 0) != (fHi > 0) {
			return hi, nil
		}
		if step >= maxSteps {
			return math.NaN(), limiterrors.NewRootNotBracketedError(lo, hi, fLo, fHi)
		}
		width := hi - lo
		hi = lo + width*factor
		fHi = f(hi) - target
	}
}
