package transform

import (
	"gonum.org/v1/gonum/mat"
)

// CholeskyBlock parameterises a K×K covariance block Σ = LLᵗ through the
// non-zero entries of the lower-triangular L, stored column-major in the
// first K(K+1)/2 entries of θ. The matching δ entries hold the lower
// triangle of Σ in the same column-major order. The trailing Extra entries
// (e.g. a residual variance) pass through unchanged.
//
// Σ is positive semi-definite for every θ, whatever the signs.
type CholeskyBlock struct {
	K     int
	Extra int
}

var _ Differentiable = CholeskyBlock{}

// NumBlock returns K(K+1)/2, the number of θ entries that fill L.
func (c CholeskyBlock) NumBlock() int { return c.K * (c.K + 1) / 2 }

// Len implements Transform.
func (c CholeskyBlock) Len() int { return c.NumBlock() + c.Extra }

// Index returns the position of entry (i, j), i ≥ j, of the lower triangle
// in column-major order.
func (c CholeskyBlock) Index(i, j int) int {
	if i < j {
		i, j = j, i
	}
	return j*c.K - j*(j-1)/2 + (i - j)
}

// Lower unpacks θ into L.
func (c CholeskyBlock) Lower(theta []float64) *mat.TriDense {
	l := mat.NewTriDense(c.K, mat.Lower, nil)
	for j := 0; j < c.K; j++ {
		for i := j; i < c.K; i++ {
			l.SetTri(i, j, theta[c.Index(i, j)])
		}
	}
	return l
}

// Evaluate implements Transform.
func (c CholeskyBlock) Evaluate(dst, theta []float64) {
	checkLen(c.Len(), dst, theta)
	nb := c.NumBlock()
	// dst may alias theta, so the block is computed into a scratch slice.
	block := make([]float64, nb)
	for j := 0; j < c.K; j++ {
		for i := j; i < c.K; i++ {
			var s float64
			for k := 0; k <= j; k++ {
				s += theta[c.Index(i, k)] * theta[c.Index(j, k)]
			}
			block[c.Index(i, j)] = s
		}
	}
	copy(dst[nb:], theta[nb:])
	copy(dst[:nb], block)
}

// Jacobian implements Differentiable.
func (c CholeskyBlock) Jacobian(dst *mat.Dense, theta []float64) {
	checkLen(c.Len(), theta, theta)
	dst.Zero()
	// δ(a,b) = Σ_{k≤b} L[a,k]L[b,k] for a ≥ b.
	for b := 0; b < c.K; b++ {
		for a := b; a < c.K; a++ {
			row := c.Index(a, b)
			for k := 0; k <= b; k++ {
				// ∂/∂L[a,k] picks up L[b,k]; ∂/∂L[b,k] picks up L[a,k].
				ak, bk := c.Index(a, k), c.Index(b, k)
				dst.Set(row, ak, dst.At(row, ak)+theta[bk])
				dst.Set(row, bk, dst.At(row, bk)+theta[ak])
			}
		}
	}
	nb := c.NumBlock()
	for i := nb; i < c.Len(); i++ {
		dst.Set(i, i, 1)
	}
}

// Covariance returns Σ = LLᵗ for θ.
func (c CholeskyBlock) Covariance(theta []float64) *mat.SymDense {
	s := mat.NewSymDense(c.K, nil)
	s.SymOuterK(1, c.Lower(theta))
	return s
}
