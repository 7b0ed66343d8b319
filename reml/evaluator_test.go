package reml_test

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/relmat"
	"github.com/espenmei/gremlmodels/reml"
)

type problem struct {
	y *mat.VecDense
	x *mat.Dense
	r []relmat.Matrix
}

func newProblem(t *testing.T, seed uint64, n int) problem {
	t.Helper()
	rnd := rand.New(rand.NewPCG(seed, seed+1))

	a := mat.NewDense(n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 2*n; j++ {
			a.Set(i, j, rnd.NormFloat64())
		}
	}
	g := mat.NewSymDense(n, nil)
	g.SymOuterK(1/float64(2*n), a)
	r1, err := relmat.NewDense(g)
	require.NoError(t, err)

	d := make([]float64, n)
	for i := range d {
		d[i] = 0.5 + rnd.Float64()
	}
	r2, err := relmat.NewDiagonal(d)
	require.NoError(t, err)

	x := mat.NewDense(n, 2, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, rnd.NormFloat64())
		y.SetVec(i, 1+0.5*x.At(i, 1)+2*rnd.NormFloat64())
	}
	return problem{y: y, x: x, r: []relmat.Matrix{r1, r2, relmat.Identity(n)}}
}

// naiveLogLik evaluates the restricted likelihood with explicit inverses and
// LU determinants.
func naiveLogLik(t *testing.T, pr problem, delta []float64) (float64, []float64, float64) {
	t.Helper()
	n, p := pr.x.Dims()
	v := mat.NewDense(n, n, nil)
	for k, r := range pr.r {
		var s mat.Dense
		s.Scale(delta[k], r)
		v.Add(v, &s)
	}
	var vinv mat.Dense
	require.NoError(t, vinv.Inverse(v))

	var xtvi, xtvix mat.Dense
	xtvi.Mul(pr.x.T(), &vinv)
	xtvix.Mul(&xtvi, pr.x)
	var xtviy mat.VecDense
	xtviy.MulVec(&xtvi, pr.y)
	var beta mat.VecDense
	require.NoError(t, beta.SolveVec(&xtvix, &xtviy))

	var r mat.VecDense
	r.MulVec(pr.x, &beta)
	r.SubVec(pr.y, &r)
	rss := mat.Inner(&r, &vinv, &r)

	ldV, signV := mat.LogDet(v)
	require.Equal(t, 1.0, signV)
	ldX, signX := mat.LogDet(&xtvix)
	require.Equal(t, 1.0, signX)

	ll := -0.5 * (float64(n-p)*math.Log(2*math.Pi) + ldV + ldX + rss)
	return ll, beta.RawVector().Data, ldV
}

func TestEvaluateMatchesNaive(t *testing.T) {
	pr := newProblem(t, 1, 15)
	ev := &reml.Evaluator{Y: pr.y, X: pr.x, R: pr.r}
	ws := reml.NewWorkspace(15, 2)

	for _, delta := range [][]float64{
		{1, 1, 1},
		{2, 0.1, 4},
		{0, 3, 0.5},
		{10, 0, 1e-3},
	} {
		res, err := ev.Evaluate(ws, delta)
		require.NoError(t, err, "delta=%v", delta)

		ll, beta, ldV := naiveLogLik(t, pr, delta)
		assert.InEpsilon(t, ll, res.LogLik, 1e-8, "delta=%v", delta)
		assert.InEpsilonSlice(t, beta, res.Beta, 1e-7)
		// log|V| from the Cholesky pivots against an LU determinant
		assert.InEpsilon(t, ldV, res.LogDetV, 1e-8)
		assert.Zero(t, res.GuardHits)
	}
}

func TestEvaluateReusesWorkspace(t *testing.T) {
	pr := newProblem(t, 2, 10)
	ev := &reml.Evaluator{Y: pr.y, X: pr.x, R: pr.r}
	ws := reml.NewWorkspace(10, 2)

	first, err := ev.Evaluate(ws, []float64{1, 2, 3})
	require.NoError(t, err)
	_, err = ev.Evaluate(ws, []float64{5, 0.2, 0.1})
	require.NoError(t, err)
	again, err := ev.Evaluate(ws, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestEvaluateNonPositiveDefinite(t *testing.T) {
	pr := newProblem(t, 3, 8)
	ev := &reml.Evaluator{Y: pr.y, X: pr.x, R: pr.r}
	ws := reml.NewWorkspace(8, 2)

	_, err := ev.Evaluate(ws, []float64{0, -2, -1})
	require.ErrorIs(t, err, reml.ErrNonPositiveDefinite)
	assert.True(t, reml.Inadmissible(err))

	_, err = ev.Evaluate(ws, []float64{0, 0, 0})
	assert.True(t, reml.Inadmissible(err))

	// the workspace recovers on the next admissible point
	_, err = ev.Evaluate(ws, []float64{1, 1, 1})
	assert.NoError(t, err)
}

func TestEvaluateSingularDesign(t *testing.T) {
	pr := newProblem(t, 4, 8)
	x := mat.NewDense(8, 2, nil)
	for i := 0; i < 8; i++ {
		x.Set(i, 0, 1)
	}
	ev := &reml.Evaluator{Y: pr.y, X: x, R: pr.r}
	_, err := ev.Evaluate(reml.NewWorkspace(8, 2), []float64{1, 1, 1})
	assert.True(t, reml.Inadmissible(err), "err=%v", err)
}

func TestEvaluateDimensionMismatch(t *testing.T) {
	pr := newProblem(t, 5, 6)
	ev := &reml.Evaluator{Y: pr.y, X: pr.x, R: pr.r}

	_, err := ev.Evaluate(reml.NewWorkspace(6, 2), []float64{1, 1})
	assert.ErrorIs(t, err, reml.ErrDimensionMismatch)
	assert.False(t, reml.Inadmissible(err))

	_, err = ev.Evaluate(reml.NewWorkspace(7, 2), []float64{1, 1, 1})
	assert.ErrorIs(t, err, reml.ErrDimensionMismatch)
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	pr := newProblem(t, 6, 12)
	ev := &reml.Evaluator{Y: pr.y, X: pr.x, R: pr.r}
	ws := reml.NewWorkspace(12, 2)

	for _, delta := range [][]float64{{1, 1, 1}, {3, 0.2, 0.7}} {
		got := make([]float64, 3)
		require.NoError(t, ev.Gradient(ws, delta, got))

		f := func(d []float64) float64 {
			res, err := ev.Evaluate(reml.NewWorkspace(12, 2), d)
			require.NoError(t, err)
			return res.LogLik
		}
		want := fd.Gradient(nil, f, delta, &fd.Settings{Formula: fd.Central, Step: 1e-5})
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-5*math.Max(1, math.Abs(want[i])), "delta=%v component %d", delta, i)
		}
	}
}

type countingObserver struct {
	evals, failed, guards int
}

func (c *countingObserver) ObserveEvaluation(_ time.Duration, err error) {
	c.evals++
	if err != nil {
		c.failed++
	}
}

func (c *countingObserver) ObserveDomainGuard(hits int) { c.guards += hits }

func TestEvaluateObserver(t *testing.T) {
	pr := newProblem(t, 7, 6)
	obs := &countingObserver{}
	ev := &reml.Evaluator{Y: pr.y, X: pr.x, R: pr.r, Observer: obs}
	ws := reml.NewWorkspace(6, 2)

	_, _ = ev.Evaluate(ws, []float64{1, 1, 1})
	_, _ = ev.Evaluate(ws, []float64{-1, -1, -1})
	assert.Equal(t, 2, obs.evals)
	assert.Equal(t, 1, obs.failed)
	assert.Zero(t, obs.guards)
}
