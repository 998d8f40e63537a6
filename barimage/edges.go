package barimage

import (
	"math"

	"github.com/keckobservatory/instruments/mathx"
)

// Fit acceptance limits for the two edge gaussians
const (
	MaxEdgeSigma     = 3.
	MinEdgeAmplitude = 1.
)

// EdgeFit is the dual gaussian fit of a profile.  Lobe 0 is the negative
// gaussian, lobe 1 the positive
type EdgeFit struct {
	Amp   [2]float64
	Mean  [2]float64
	Sigma [2]float64
}

// Accepted reports whether the fit describes a pair of bar edges: both
// lobes narrow, both amplitudes clear of 1, and the falling edge to the
// right of the rising edge
func (f EdgeFit) Accepted() bool {
	return math.Abs(f.Sigma[0]) < MaxEdgeSigma && math.Abs(f.Sigma[1]) < MaxEdgeSigma &&
		f.Amp[0] < -MinEdgeAmplitude && f.Amp[1] > MinEdgeAmplitude &&
		f.Mean[0] > f.Mean[1]
}

func dualGaussian(x float64, p []float64) float64 {
	return mathx.Gaussian(x, p[0], p[1], p[2]) + mathx.Gaussian(x, p[3], p[4], p[5])
}

// FitEdges fits a negative plus a positive gaussian to a profile sampled at
// 0, 1, 2 ...  The negative lobe starts at the global minimum, the positive
// at the global maximum, both 2 pixels wide.  The negative amplitude is
// bounded above by zero and the positive below
func FitEdges(profile []float64) (EdgeFit, error) {
	xs := make([]float64, len(profile))
	for i := range xs {
		xs[i] = float64(i)
	}
	lo, hi := mathx.ArgMin(profile), mathx.ArgMax(profile)
	p0 := []float64{profile[lo], float64(lo), 2, profile[hi], float64(hi), 2}
	inf := math.Inf(1)
	bounds := []mathx.Bound{
		{Min: -inf, Max: 0}, mathx.Free, mathx.Free,
		{Min: 0, Max: inf}, mathx.Free, mathx.Free,
	}
	p, err := mathx.LevMar(dualGaussian, xs, profile, p0, mathx.LevMarSettings{Bounds: bounds})
	if err != nil {
		return EdgeFit{}, err
	}
	return EdgeFit{
		Amp:   [2]float64{p[0], p[3]},
		Mean:  [2]float64{p[1], p[4]},
		Sigma: [2]float64{p[2], p[5]},
	}, nil
}

// FindBarEdges locates the two bar edges of a slit in a horizontal
// derivative profile.  x1 is the falling edge, the right bar; x2 the rising
// edge, the left bar.  ok is false if the fit is not accepted
func FindBarEdges(profile []float64) (x1, x2 float64, ok bool) {
	if len(profile) < 6 {
		return 0, 0, false
	}
	fit, err := FitEdges(profile)
	if err != nil || !fit.Accepted() {
		return 0, 0, false
	}
	return fit.Mean[0], fit.Mean[1], true
}
