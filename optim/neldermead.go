package optim

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

// maximizeNelderMead runs gonum's Nelder–Mead on an unconstrained surrogate:
// the objective is evaluated at the projection of x onto the box, and the
// squared distance to the box is added as a penalty so the simplex is pulled
// back towards feasible space. The returned point is projected, so any
// coordinate that ends outside sits exactly on its bound.
func maximizeNelderMead(p Problem, x0, lower []float64, s *Settings, logger *zap.Logger) (*Result, error) {
	dim := len(x0)
	xp := make([]float64, dim)
	nf := 0
	eval := func(x []float64) float64 {
		nf++
		copy(xp, x)
		project(xp, lower)
		v := p.Func(xp)
		if math.IsNaN(v) || math.IsInf(v, -1) {
			return math.Inf(1)
		}
		var pen float64
		for i, l := range lower {
			if x[i] < l {
				pen += (l - x[i]) * (l - x[i])
			}
		}
		return -v + pen
	}

	start := append([]float64(nil), x0...)
	if f0 := eval(start); math.IsInf(f0, 1) {
		return &Result{X: start, F: math.Inf(-1), Status: Failure, FuncEvaluations: nf}, ErrInfeasibleStart
	}

	settings := &optimize.Settings{
		MajorIterations: s.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.FuncTol,
			Relative:   s.FuncTol,
			Iterations: 10 * dim,
		},
	}
	res, err := optimize.Minimize(optimize.Problem{Func: eval}, start, settings, &optimize.NelderMead{})
	if res == nil {
		return nil, err
	}

	x := append([]float64(nil), res.X...)
	project(x, lower)
	out := &Result{
		X:          x,
		F:          p.Func(x),
		Status:     fromGonum(res.Status),
		Iterations: res.MajorIterations,
	}
	out.FuncEvaluations = nf + 1
	if err != nil {
		logger.Info("nelder-mead stopped with error", zap.Error(err), zap.Stringer("status", res.Status))
		out.Status = Failure
	}
	logger.Debug("nelder-mead finished",
		zap.Stringer("status", out.Status),
		zap.Int("iterations", out.Iterations),
		zap.Float64("f", out.F),
		zap.Float64s("x", out.X))
	return out, nil
}

func fromGonum(st optimize.Status) Status {
	switch st {
	case optimize.FunctionConvergence, optimize.FunctionThreshold, optimize.Success:
		return FunctionConvergence
	case optimize.MethodConverge, optimize.StepConvergence:
		return StepConvergence
	case optimize.GradientThreshold:
		return GradientConvergence
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return IterationLimit
	}
	return Failure
}
