package mathx

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Model evaluates a parametric model at x
type Model func(x float64, p []float64) float64

// Bound constrains a single parameter. Use math.Inf for an open side
type Bound struct {
	Min, Max float64
}

// Free is a Bound which does not constrain
var Free = Bound{Min: math.Inf(-1), Max: math.Inf(1)}

func (b Bound) clip(v float64) float64 {
	return math.Max(b.Min, math.Min(b.Max, v))
}

// LevMarSettings holds the knobs of LevMar.  The zero value is usable
type LevMarSettings struct {
	// MaxIter is the maximum number of accepted steps, default 200
	MaxIter int

	// Tol is the relative reduction in the sum of squares below which the
	// fit is considered converged, default 1e-10
	Tol float64

	// Bounds, if not nil, has one entry per parameter.  Steps are clipped
	// into the bounds
	Bounds []Bound
}

var errShape = errors.New("mathx: x and y differ in length, or there are fewer points than parameters")

// LevMar fits model f to (xs, ys) starting at p0 by Levenberg-Marquardt
// least squares with a forward difference Jacobian.  It returns the best
// parameters found, which are p0 (clipped into the bounds) if no step
// improved the fit
func LevMar(f Model, xs, ys, p0 []float64, s LevMarSettings) ([]float64, error) {
	n, m := len(xs), len(p0)
	if len(ys) != n || n < m {
		return nil, errShape
	}
	if s.MaxIter == 0 {
		s.MaxIter = 200
	}
	if s.Tol == 0 {
		s.Tol = 1e-10
	}
	clip := func(p []float64) {
		if s.Bounds == nil {
			return
		}
		for j := range p {
			p[j] = s.Bounds[j].clip(p[j])
		}
	}

	p := append([]float64{}, p0...)
	clip(p)
	resid := make([]float64, n)
	cost := residuals(f, xs, ys, p, resid)

	jac := mat.NewDense(n, m, nil)
	jtj := mat.NewDense(m, m, nil)
	damped := mat.NewDense(m, m, nil)
	grad := mat.NewVecDense(m, nil)
	var step mat.VecDense
	trial := make([]float64, m)
	trialResid := make([]float64, n)
	lambda := 1e-3

	for iter := 0; iter < s.MaxIter; iter++ {
		jacobian(f, xs, p, jac)
		jtj.Mul(jac.T(), jac)
		grad.MulVec(jac.T(), mat.NewVecDense(n, resid))

		accepted := false
		var trialCost float64
		for inner := 0; inner < 12; inner++ {
			damped.Copy(jtj)
			for j := 0; j < m; j++ {
				d := jtj.At(j, j)
				if d == 0 {
					d = 1
				}
				damped.Set(j, j, jtj.At(j, j)+lambda*d)
			}
			err := step.SolveVec(damped, grad)
			if err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					continue
				}
			}
			for j := 0; j < m; j++ {
				trial[j] = p[j] + step.AtVec(j)
			}
			clip(trial)
			trialCost = residuals(f, xs, ys, trial, trialResid)
			if trialCost < cost {
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			break
		}
		improvement := (cost - trialCost) / math.Max(cost, math.SmallestNonzeroFloat64)
		copy(p, trial)
		copy(resid, trialResid)
		cost = trialCost
		lambda = math.Max(lambda/10, 1e-12)
		if improvement < s.Tol {
			break
		}
	}
	return p, nil
}

// residuals fills r with y - f(x) and returns the sum of squares
func residuals(f Model, xs, ys, p, r []float64) float64 {
	var ss float64
	for i, x := range xs {
		r[i] = ys[i] - f(x, p)
		ss += r[i] * r[i]
	}
	return ss
}

func jacobian(f Model, xs, p []float64, jac *mat.Dense) {
	pp := append([]float64{}, p...)
	for j := range p {
		h := 1e-6 * math.Max(math.Abs(p[j]), 1)
		pp[j] = p[j] + h
		for i, x := range xs {
			jac.Set(i, j, (f(x, pp)-f(x, p))/h)
		}
		pp[j] = p[j]
	}
}
