// Package stats provides the robust statistics used across frame combination
// and defect masking: mean/stddev for the plain clip path and
// median/MAD-stddev for the flat-field path where sky gradients make plain
// moments unreliable.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// madToSigma converts a median absolute deviation to a Gaussian-equivalent
// standard deviation (1 / Phi^-1(3/4)).
const madToSigma = 1.4826022185056018

// Mean returns the arithmetic mean of xs. Returns 0 for empty input.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// StdDev returns the sample standard deviation of xs.
// Returns 0 for fewer than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// Median returns the median of xs without modifying it.
// Returns 0 for empty input.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	return medianSorted(sorted)
}

// MedianInPlace sorts xs and returns its median. Use when the caller owns
// the slice and wants to avoid the copy in Median.
func MedianInPlace(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sort.Float64s(xs)
	return medianSorted(xs)
}

// medianSorted uses the midpoint convention: the middle element for odd
// lengths, the mean of the two middle elements for even lengths. An
// interpolated quantile is not equivalent and must not be substituted here.
func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

// MadStd returns the MAD-based standard deviation estimate of xs: the median
// absolute deviation from the median, scaled to match a Gaussian sigma.
func MadStd(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		d := x - med
		if d < 0 {
			d = -d
		}
		dev[i] = d
	}
	return MedianInPlace(dev) * madToSigma
}
