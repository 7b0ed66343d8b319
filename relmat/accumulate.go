package relmat

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accumulate adds alpha·B into the upper triangle of c in place, i.e.
// c[j,i] += alpha·B[j,i] for every j ≤ i. The lower triangle of c is never
// touched; *mat.SymDense reads its upper triangle only.
func Accumulate(c *mat.SymDense, alpha float64, b Matrix) error {
	n := c.SymmetricDim()
	if b.Dim() == 0 {
		return ErrEmpty
	}
	if b.Dim() != n {
		return fmt.Errorf("%w: buffer is %d, component is %d", ErrDimensionMismatch, n, b.Dim())
	}
	raw := c.RawSymmetric()
	switch b.kind {
	case Dense:
		accumulateDense(raw, alpha, b.sym.RawSymmetric())
	case Diagonal:
		accumulateDiagonal(raw, alpha, b.diag)
	default:
		panic(fmt.Sprintf("relmat: unknown kind %v", b.kind))
	}
	return nil
}

// accumulateDense walks the stored upper triangle row by row; each row
// i holds columns i..n-1 contiguously.
func accumulateDense(c blas64.Symmetric, alpha float64, b blas64.Symmetric) {
	n := c.N
	for i := 0; i < n; i++ {
		dst := c.Data[i*c.Stride+i : i*c.Stride+n]
		src := b.Data[i*b.Stride+i : i*b.Stride+n]
		floats.AddScaled(dst, alpha, src)
	}
}

func accumulateDiagonal(c blas64.Symmetric, alpha float64, d []float64) {
	for i, v := range d {
		c.Data[i*c.Stride+i] += alpha * v
	}
}

// Assemble overwrites the upper triangle of c with Σ delta[i]·mats[i].
// Components are accumulated in order into the same buffer.
func Assemble(c *mat.SymDense, delta []float64, mats []Matrix) error {
	if len(delta) != len(mats) {
		return fmt.Errorf("%w: %d weights for %d components", ErrDimensionMismatch, len(delta), len(mats))
	}
	raw := c.RawSymmetric()
	for i := 0; i < raw.N; i++ {
		clear(raw.Data[i*raw.Stride+i : i*raw.Stride+raw.N])
	}
	for i, m := range mats {
		if err := Accumulate(c, delta[i], m); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}
