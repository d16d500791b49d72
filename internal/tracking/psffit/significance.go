package psffit

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// KLevel returns the two-sided standard-normal critical value for alpha,
// e.g. 1.96 for 0.05.
func KLevel(alpha float64) float64 {
	return distuv.UnitNormal.Quantile(1 - alpha/2)
}

// Significance tests whether amplitude a exceeds the background noise level
// resStd·kLevel. The amplitude's own uncertainty aStd is combined with the
// standard error of the noise level using a Welch-style effective degrees of
// freedom over npx pixels. It returns the one-sided p-value that the
// amplitude is at background level (small = real signal) and the t
// statistic. The lower-tail p-value (amplitude below background) is 1-p.
// Degenerate inputs return NaN.
func Significance(a, aStd, resStd float64, npx int, kLevel float64) (p, t float64) {
	if npx < 2 || math.IsNaN(a) || math.IsNaN(aStd) || math.IsNaN(resStd) {
		return math.NaN(), math.NaN()
	}
	df, s := welch(aStd, resStd, npx, kLevel)
	if math.IsNaN(df) {
		return math.NaN(), math.NaN()
	}
	t = (a - resStd*kLevel) / s
	p = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.CDF(-t)
	return p, t
}

// welch returns the effective degrees of freedom
// (n-1)(σA²+SE²)²/(σA⁴+SE⁴) and the pooled standard error
// sqrt((σA²+SE²)/n), where SE = resStd·kLevel/sqrt(2(n-1)) is the
// standard error of the noise level. df is NaN when both variances are 0.
func welch(aStd, resStd float64, npx int, kLevel float64) (df, s float64) {
	n := float64(npx)
	se := resStd / math.Sqrt(2*(n-1)) * kLevel
	va, vs := aStd*aStd, se*se
	den := va*va + vs*vs
	if den == 0 {
		return math.NaN(), math.NaN()
	}
	df = (n - 1) * (va + vs) * (va + vs) / den
	return df, math.Sqrt((va + vs) / n)
}
