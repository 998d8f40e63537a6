// Package mathx provides small numerical routines used by the image analysis,
// rounding, medians, gradients, and a Levenberg-Marquardt fitter
package mathx

import (
	"math"
	"sort"
)

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Median returns the median of xs without modifying it.  The median of an
// even count is the mean of the two middle values
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	tmp := make([]float64, n)
	copy(tmp, xs)
	sort.Float64s(tmp)
	if n%2 == 1 {
		return tmp[n/2]
	}
	return (tmp[n/2-1] + tmp[n/2]) / 2
}

// MedianFilter1D applies a running median of width size to xs.  Edges are
// handled by reflecting about the edge, so the output has len(xs).
// size < 2 returns a copy
func MedianFilter1D(xs []float64, size int) []float64 {
	n := len(xs)
	out := make([]float64, n)
	if size < 2 || n == 0 {
		copy(out, xs)
		return out
	}
	// for even sizes the window leans left
	before := size / 2
	win := make([]float64, size)
	for i := 0; i < n; i++ {
		for k := 0; k < size; k++ {
			win[k] = xs[reflect(i-before+k, n)]
		}
		sort.Float64s(win)
		out[i] = win[size/2]
	}
	return out
}

// reflect maps an out of range index back into [0, n) by reflecting about
// the edges (d c b a | a b c d | d c b a)
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// Gradient returns the derivative of evenly sampled ys with unit spacing,
// central differences in the interior and one-sided differences at the
// ends
func Gradient(ys []float64) []float64 {
	n := len(ys)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = ys[1] - ys[0]
	out[n-1] = ys[n-1] - ys[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (ys[i+1] - ys[i-1]) / 2
	}
	return out
}

// Gaussian evaluates amp * exp(-(x-mean)^2 / (2 sigma^2))
func Gaussian(x, amp, mean, sigma float64) float64 {
	d := (x - mean) / sigma
	return amp * math.Exp(-0.5*d*d)
}

// ArgMin returns the index of the smallest value, the first if there are ties
func ArgMin(xs []float64) int {
	idx := 0
	for i, v := range xs {
		if v < xs[idx] {
			idx = i
		}
	}
	return idx
}

// ArgMax returns the index of the largest value, the first if there are ties
func ArgMax(xs []float64) int {
	idx := 0
	for i, v := range xs {
		if v > xs[idx] {
			idx = i
		}
	}
	return idx
}
