package reml

import (
	"gonum.org/v1/gonum/mat"
)

// Workspace holds every buffer one likelihood evaluation needs. It is
// allocated once per model and overwritten by each Evaluate, so results
// from a previous call must be copied out before the next one.
//
// A Workspace is not safe for concurrent use.
type Workspace struct {
	n, p int

	v    *mat.SymDense // V, upper triangle only
	chol mat.Cholesky  // V = UᵗU
	u    *mat.TriDense

	w   *mat.Dense    // U⁻ᵗX, n×p
	z   *mat.VecDense // U⁻ᵗy
	wtw *mat.SymDense // WᵗW = XᵗV⁻¹X
	wtz *mat.VecDense
	xtv mat.Cholesky // factor of WᵗW

	beta  *mat.VecDense
	resid *mat.VecDense // z − Wβ

	// valid after Evaluate succeeded
	ready bool
	delta []float64

	// gradient scratch, allocated on first use
	vinv *mat.SymDense
	py   *mat.VecDense
	vx   *mat.Dense // V⁻¹X
}

// NewWorkspace allocates buffers for n observations and p fixed effects.
func NewWorkspace(n, p int) *Workspace {
	return &Workspace{
		n:     n,
		p:     p,
		v:     mat.NewSymDense(n, nil),
		u:     mat.NewTriDense(n, mat.Upper, nil),
		w:     mat.NewDense(n, p, nil),
		z:     mat.NewVecDense(n, nil),
		wtw:   mat.NewSymDense(p, nil),
		wtz:   mat.NewVecDense(p, nil),
		beta:  mat.NewVecDense(p, nil),
		resid: mat.NewVecDense(n, nil),
	}
}

// Dims returns the n and p the workspace was sized for.
func (ws *Workspace) Dims() (n, p int) { return ws.n, ws.p }

// Covariance returns the covariance buffer from the last evaluation. Only its
// upper triangle is meaningful. The matrix is owned by the workspace.
func (ws *Workspace) Covariance() *mat.SymDense { return ws.v }
