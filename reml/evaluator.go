// Package reml evaluates the profiled restricted log-likelihood of a linear
// variance-component model y ~ N(Xβ, V), V = Σ δᵢRᵢ.
//
// One evaluation assembles V into the workspace, factorizes it as V = UᵗU
// and works from there with triangular solves only:
//
//	W = U⁻ᵗX, z = U⁻ᵗy
//	β = (WᵗW)⁻¹Wᵗz
//	logLik = −½[(n−p)log 2π + log|V| + log|WᵗW| + ‖z − Wβ‖²]
//
// The O(n³) factorization dominates; everything else is O(n²p) or less.
package reml

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/relmat"
)

var log2Pi = math.Log(2 * math.Pi)

// Observer receives per-evaluation telemetry. Implementations must be cheap;
// they run inside the optimizer loop.
type Observer interface {
	// ObserveEvaluation is called once per Evaluate with its wall time and
	// error (nil, inadmissible or fatal).
	ObserveEvaluation(elapsed time.Duration, err error)
	// ObserveDomainGuard is called when negative pivots had their sign
	// dropped before the logarithm.
	ObserveDomainGuard(hits int)
}

// Evaluator binds the data of a model. Y, X and R are only read.
type Evaluator struct {
	Y *mat.VecDense
	X *mat.Dense
	R []relmat.Matrix

	Observer Observer
	Logger   *zap.Logger
}

// Result is the outcome of one evaluation.
type Result struct {
	LogLik        float64
	Beta          []float64
	LogDetV       float64
	LogDetXtVinvX float64
	RSS           float64
	// GuardHits counts negative Cholesky pivots whose absolute value was
	// taken before the logarithm.
	GuardHits int
}

// Evaluate computes the restricted log-likelihood at δ. An error satisfying
// Inadmissible means V (or XᵗV⁻¹X) is not positive definite at δ.
func (e *Evaluator) Evaluate(ws *Workspace, delta []float64) (Result, error) {
	start := time.Now()
	res, err := e.evaluate(ws, delta)
	if e.Observer != nil {
		e.Observer.ObserveEvaluation(time.Since(start), err)
		if res.GuardHits > 0 {
			e.Observer.ObserveDomainGuard(res.GuardHits)
		}
	}
	if res.GuardHits > 0 {
		e.logger().Warn("negative Cholesky pivots absorbed by abs before log",
			zap.Int("hits", res.GuardHits), zap.Float64s("delta", delta))
	}
	return res, err
}

func (e *Evaluator) evaluate(ws *Workspace, delta []float64) (Result, error) {
	ws.ready = false
	n, p := e.X.Dims()
	if ws.n != n || ws.p != p || e.Y.Len() != n {
		return Result{}, fmt.Errorf("%w: data is n=%d p=%d, workspace is n=%d p=%d", ErrDimensionMismatch, n, p, ws.n, ws.p)
	}
	if len(delta) != len(e.R) {
		return Result{}, fmt.Errorf("%w: %d weights for %d components", ErrDimensionMismatch, len(delta), len(e.R))
	}

	if err := relmat.Assemble(ws.v, delta, e.R); err != nil {
		return Result{}, err
	}
	if !ws.chol.Factorize(ws.v) {
		return Result{}, ErrNonPositiveDefinite
	}
	ws.chol.UTo(ws.u)
	u := ws.u.RawTriangular()

	logDetV, hits, ok := logDetFactor(u)
	if !ok {
		return Result{GuardHits: hits}, ErrNonPositiveDefinite
	}

	// Uᵗ is the lower factor L, so these are the forward substitutions
	// W = L⁻¹X and z = L⁻¹y.
	ws.w.Copy(e.X)
	blas64.Trsm(blas.Left, blas.Trans, 1, u, ws.w.RawMatrix())
	ws.z.CopyVec(e.Y)
	blas64.Trsv(blas.Trans, u, ws.z.RawVector())

	ws.wtw.SymOuterK(1, ws.w.T())
	if !ws.xtv.Factorize(ws.wtw) || ws.xtv.Cond() > mat.ConditionTolerance {
		return Result{GuardHits: hits}, ErrSingularDesign
	}
	ws.wtz.MulVec(ws.w.T(), ws.z)
	if err := ws.xtv.SolveVecTo(ws.beta, ws.wtz); err != nil {
		return Result{GuardHits: hits}, fmt.Errorf("%w: %v", ErrSingularDesign, err)
	}

	ws.resid.MulVec(ws.w, ws.beta)
	ws.resid.SubVec(ws.z, ws.resid)
	rss := mat.Dot(ws.resid, ws.resid)
	logDetX := ws.xtv.LogDet()

	ll := -0.5 * (float64(n-p)*log2Pi + logDetV + logDetX + rss)
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return Result{GuardHits: hits}, fmt.Errorf("%w: non-finite log-likelihood", ErrNonPositiveDefinite)
	}

	ws.ready = true
	ws.delta = append(ws.delta[:0], delta...)

	beta := make([]float64, p)
	copy(beta, ws.beta.RawVector().Data)
	return Result{
		LogLik:        ll,
		Beta:          beta,
		LogDetV:       logDetV,
		LogDetXtVinvX: logDetX,
		RSS:           rss,
		GuardHits:     hits,
	}, nil
}

// logDetFactor returns 2·Σ log|Uᵢᵢ|. Potrf leaves positive pivots, but the
// absolute value is kept so rounding noise cannot produce a NaN; hits counts
// how often it mattered. A zero or non-finite pivot is not recoverable.
func logDetFactor(u blas64.Triangular) (logDet float64, hits int, ok bool) {
	for i := 0; i < u.N; i++ {
		d := u.Data[i*u.Stride+i]
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, hits, false
		}
		if d < 0 {
			hits++
		}
		logDet += math.Log(math.Abs(d))
	}
	return 2 * logDet, hits, true
}

func (e *Evaluator) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
