// Package stats collects the probability helpers the limit engines share:
// chi-square and Poisson tail probabilities, Fisher p-value combination and
// nearest-rank sample quantiles. The distributions come from gonum.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Undefined is the value returned in place of a number that could not be
// computed. It is NaN so it can never be mistaken for a valid limit or
// p-value and it prints as "NaN".
var Undefined = math.NaN()

// IsUndefined reports whether v is the Undefined sentinel (or any NaN).
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

// ChiSquareSurvival returns P(X > q) for X ~ χ²(ndof).
// q ≤ 0 gives 1.
func ChiSquareSurvival(q float64, ndof int) float64 {
	if math.IsNaN(q) || ndof <= 0 {
		return Undefined
	}
	if q <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: float64(ndof)}.Survival(q)
}

// PoissonCDF returns P(N ≤ n | mu).
func PoissonCDF(n int, mu float64) float64 {
	switch {
	case math.IsNaN(mu) || mu < 0:
		return Undefined
	case n < 0:
		return 0
	case mu == 0:
		return 1
	}
	return distuv.Poisson{Lambda: mu}.CDF(float64(n))
}

// PoissonTail returns P(N ≥ n | mu).
func PoissonTail(n int, mu float64) float64 {
	if n <= 0 {
		if math.IsNaN(mu) || mu < 0 {
			return Undefined
		}
		return 1
	}
	cdf := PoissonCDF(n-1, mu)
	if IsUndefined(cdf) {
		return cdf
	}
	return 1 - cdf
}

// PoissonProb returns P(N = n | mu).
func PoissonProb(n int, mu float64) float64 {
	switch {
	case math.IsNaN(mu) || mu < 0:
		return Undefined
	case n < 0:
		return 0
	case mu == 0:
		if n == 0 {
			return 1
		}
		return 0
	}
	return distuv.Poisson{Lambda: mu}.Prob(float64(n))
}

// FisherCombine turns the product of n independent p-values into a single
// p-value using Fisher's method: P(χ²(2n) > -2 ln(product)).
func FisherCombine(product float64, n int) float64 {
	if math.IsNaN(product) || product < 0 || n <= 0 {
		return Undefined
	}
	if product == 0 {
		return 0
	}
	if product >= 1 {
		return 1
	}
	return ChiSquareSurvival(-2*math.Log(product), 2*n)
}

// Quantile returns the nearest-rank empirical p-quantile of values. NaN
// entries are ignored; an empty (or all-NaN) input gives Undefined. The
// input slice is not modified.
func Quantile(values []float64, p float64) float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 || p < 0 || p > 1 {
		return Undefined
	}
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// Gaussian tail probabilities for the conventional ±1σ/±2σ bands.
var (
	OneSigmaLow  = distuv.UnitNormal.CDF(-1)
	OneSigmaHigh = distuv.UnitNormal.CDF(1)
	TwoSigmaLow  = distuv.UnitNormal.CDF(-2)
	TwoSigmaHigh = distuv.UnitNormal.CDF(2)
)
