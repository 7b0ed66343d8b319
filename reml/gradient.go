package reml

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/relmat"
)

// Gradient writes ∂logLik/∂δᵢ into dst:
//
//	−½[tr(PRᵢ) − (Py)ᵗRᵢ(Py)],  P = V⁻¹ − V⁻¹X(XᵗV⁻¹X)⁻¹XᵗV⁻¹
//
// It reuses the factorization of the last Evaluate when that was at the same
// δ and evaluates first otherwise. Forming P costs one extra O(n³) inversion;
// the traces against diagonal components are O(n).
func (e *Evaluator) Gradient(ws *Workspace, delta, dst []float64) error {
	if len(dst) != len(e.R) {
		return fmt.Errorf("%w: gradient has %d entries for %d components", ErrDimensionMismatch, len(dst), len(e.R))
	}
	if !ws.ready || !floats.Equal(ws.delta, delta) {
		if _, err := e.Evaluate(ws, delta); err != nil {
			return err
		}
	}
	n, p := ws.n, ws.p
	if ws.vinv == nil {
		ws.vinv = mat.NewSymDense(n, nil)
		ws.py = mat.NewVecDense(n, nil)
		ws.vx = mat.NewDense(n, p, nil)
	}
	u := ws.u.RawTriangular()

	// Py = V⁻¹(y − Xβ) = U⁻¹(z − Wβ)
	ws.py.CopyVec(ws.resid)
	blas64.Trsv(blas.NoTrans, u, ws.py.RawVector())

	if err := ws.chol.InverseTo(ws.vinv); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return err
		}
	}

	// G = V⁻¹X·C⁻¹ with WᵗW = CᵗC, so V⁻¹X(WᵗW)⁻¹XᵗV⁻¹ = GGᵗ.
	ws.vx.Copy(ws.w)
	blas64.Trsm(blas.Left, blas.NoTrans, 1, u, ws.vx.RawMatrix())
	c := mat.NewTriDense(p, mat.Upper, nil)
	ws.xtv.UTo(c)
	blas64.Trsm(blas.Right, blas.NoTrans, 1, c.RawTriangular(), ws.vx.RawMatrix())
	ws.vinv.SymRankK(ws.vinv, -1, ws.vx)

	py := ws.py.RawVector().Data
	for i, r := range e.R {
		dst[i] = -0.5 * (relmat.InnerSym(ws.vinv, r) - relmat.QuadForm(r, py))
	}
	// vinv now holds P, not V⁻¹.
	return nil
}
