package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espenmei/gremlmodels/optim"
)

// concave quadratic −(x−c)ᵗA(x−c) with A = [2 0.5; 0.5 1]
func quadratic(c []float64) optim.Problem {
	a := [2][2]float64{{2, 0.5}, {0.5, 1}}
	return optim.Problem{
		Func: func(x []float64) float64 {
			d0, d1 := x[0]-c[0], x[1]-c[1]
			return -(a[0][0]*d0*d0 + 2*a[0][1]*d0*d1 + a[1][1]*d1*d1)
		},
		Grad: func(dst, x []float64) {
			d0, d1 := x[0]-c[0], x[1]-c[1]
			dst[0] = -2 * (a[0][0]*d0 + a[0][1]*d1)
			dst[1] = -2 * (a[1][0]*d0 + a[1][1]*d1)
		},
	}
}

func TestMaximizeInterior(t *testing.T) {
	res, err := optim.Maximize(quadratic([]float64{3, -1}), []float64{0, 0}, []float64{math.Inf(-1), math.Inf(-1)}, nil)
	require.NoError(t, err)
	assert.True(t, res.Status.Converged(), "status %v", res.Status)
	assert.InDelta(t, 3, res.X[0], 1e-4)
	assert.InDelta(t, -1, res.X[1], 1e-4)
	assert.InDelta(t, 0, res.F, 1e-8)
	assert.Greater(t, res.FuncEvaluations, 0)
}

func TestMaximizeFiniteDifferences(t *testing.T) {
	p := quadratic([]float64{1.5, 2})
	p.Grad = nil
	res, err := optim.Maximize(p, []float64{0, 0}, []float64{-10, -10}, nil)
	require.NoError(t, err)
	assert.True(t, res.Status.Converged(), "status %v", res.Status)
	assert.InDelta(t, 1.5, res.X[0], 1e-3)
	assert.InDelta(t, 2, res.X[1], 1e-3)
}

func TestMaximizeActiveBoundIsExact(t *testing.T) {
	for _, withGrad := range []bool{true, false} {
		s := optim.DefaultSettings()
		// unconstrained optimum at x0 = −1, x1 = 2
		p := optim.Problem{
			Func: func(x []float64) float64 {
				return -(x[0]+1)*(x[0]+1) - (x[1]-2)*(x[1]-2)
			},
			Grad: func(dst, x []float64) {
				dst[0] = -2 * (x[0] + 1)
				dst[1] = -2 * (x[1] - 2)
			},
		}
		if !withGrad {
			p.Grad = nil
		}
		res, err := optim.Maximize(p, []float64{1, 1}, []float64{0, 0}, s)
		require.NoError(t, err)
		assert.True(t, res.Status.Converged(), "status %v", res.Status)
		assert.Equal(t, 0.0, res.X[0], "bound must be hit exactly")
		assert.InDelta(t, 2, res.X[1], 1e-4)
	}
}

func TestMaximizeCoupledActiveBound(t *testing.T) {
	// x0 is held at its bound while ∂f/∂x0 keeps changing with x1. At x0 = 0
	// the best x1 is 1.5 and the quartic term leaves it there.
	q := quadratic([]float64{-1, 2})
	p := optim.Problem{
		Func: func(x []float64) float64 {
			d := x[1] - 1.5
			return q.Func(x) - 0.1*d*d*d*d
		},
		Grad: func(dst, x []float64) {
			q.Grad(dst, x)
			d := x[1] - 1.5
			dst[1] -= 0.4 * d * d * d
		},
	}
	s := optim.DefaultSettings()
	for _, start := range [][]float64{{1, 1}, {4, 0.5}, {0.5, 6}} {
		res, err := optim.Maximize(p, start, []float64{0, 0}, s)
		require.NoError(t, err)
		assert.True(t, res.Status.Converged(), "start %v: status %v", start, res.Status)
		assert.Equal(t, 0.0, res.X[0], "start %v", start)
		assert.InDelta(t, 1.5, res.X[1], 1e-5, "start %v", start)

		g := make([]float64, 2)
		p.Grad(g, res.X)
		assert.LessOrEqual(t, math.Abs(g[1]), s.GradTol, "start %v: gradient %v", start, g)
		assert.Less(t, g[0], 0.0)
	}
}

func TestMaximizeNelderMeadBound(t *testing.T) {
	s := optim.DefaultSettings()
	s.Method = optim.NelderMead
	s.MaxIterations = 2000
	p := optim.Problem{
		Func: func(x []float64) float64 {
			return -(x[0]+1)*(x[0]+1) - (x[1]-2)*(x[1]-2)
		},
	}
	res, err := optim.Maximize(p, []float64{1, 1}, []float64{0, 0}, s)
	require.NoError(t, err)
	assert.True(t, res.Status.Converged(), "status %v", res.Status)
	assert.GreaterOrEqual(t, res.X[0], 0.0)
	assert.InDelta(t, 0, res.X[0], 1e-3)
	assert.InDelta(t, 2, res.X[1], 1e-3)
}

func TestMaximizeRejectsInadmissiblePoints(t *testing.T) {
	// The objective keeps rising towards x = 5 but is undefined past 3.
	p := optim.Problem{
		Func: func(x []float64) float64 {
			if x[0] > 3 {
				return math.Inf(-1)
			}
			return -(x[0] - 5) * (x[0] - 5)
		},
	}
	calls := 0
	inner := p.Func
	p.Func = func(x []float64) float64 {
		calls++
		return inner(x)
	}
	res, err := optim.Maximize(p, []float64{0}, []float64{math.Inf(-1)}, nil)
	require.NoError(t, err)
	assert.False(t, math.IsInf(res.F, 0))
	assert.LessOrEqual(t, res.X[0], 3.0)
	assert.Greater(t, res.X[0], 2.5)
	assert.Equal(t, calls, res.FuncEvaluations)
}

func TestMaximizeIterationLimitIsNotConvergence(t *testing.T) {
	rosen := optim.Problem{
		Func: func(x []float64) float64 {
			a, b := 1-x[0], x[1]-x[0]*x[0]
			return -(a*a + 100*b*b)
		},
	}
	s := optim.DefaultSettings()
	s.MaxIterations = 2
	res, err := optim.Maximize(rosen, []float64{-1.2, 1}, []float64{-5, -5}, s)
	require.NoError(t, err)
	assert.Equal(t, optim.IterationLimit, res.Status)
	assert.False(t, res.Status.Converged())
	assert.Equal(t, 2, res.Iterations)

	// best iterate is still better than the start
	assert.Greater(t, res.F, rosen.Func([]float64{-1.2, 1}))
}

func TestMaximizeBadInput(t *testing.T) {
	p := quadratic([]float64{0, 0})

	_, err := optim.Maximize(p, []float64{0, 0}, []float64{0}, nil)
	assert.ErrorIs(t, err, optim.ErrBadInput)

	_, err = optim.Maximize(p, []float64{-1, 0}, []float64{0, 0}, nil)
	assert.ErrorIs(t, err, optim.ErrBadInput)

	_, err = optim.Maximize(p, []float64{0, 0}, []float64{math.NaN(), 0}, nil)
	assert.ErrorIs(t, err, optim.ErrBadInput)

	_, err = optim.Maximize(optim.Problem{}, []float64{0}, []float64{0}, nil)
	assert.ErrorIs(t, err, optim.ErrBadInput)

	s := optim.DefaultSettings()
	s.MaxIterations = 0
	_, err = optim.Maximize(p, []float64{0, 0}, []float64{0, 0}, s)
	assert.ErrorIs(t, err, optim.ErrBadInput)
}

func TestMaximizeInfeasibleStart(t *testing.T) {
	p := optim.Problem{Func: func([]float64) float64 { return math.Inf(-1) }}
	for _, m := range []optim.Method{optim.BFGS, optim.NelderMead} {
		s := optim.DefaultSettings()
		s.Method = m
		_, err := optim.Maximize(p, []float64{1}, []float64{0}, s)
		assert.ErrorIs(t, err, optim.ErrInfeasibleStart, "method %v", m)
	}
}

func TestStatusAndMethodNames(t *testing.T) {
	assert.Equal(t, "IterationLimit", optim.IterationLimit.String())
	assert.Equal(t, "Status(99)", optim.Status(99).String())
	for _, st := range []optim.Status{optim.FunctionConvergence, optim.StepConvergence, optim.GradientConvergence} {
		assert.True(t, st.Converged())
	}
	for _, st := range []optim.Status{optim.NotTerminated, optim.IterationLimit, optim.LinesearchFailure, optim.Failure} {
		assert.False(t, st.Converged())
	}

	for _, m := range []optim.Method{optim.BFGS, optim.NelderMead} {
		got, err := optim.ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := optim.ParseMethod("newton")
	assert.ErrorIs(t, err, optim.ErrBadInput)
}
