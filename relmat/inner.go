package relmat

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Inner returns the Frobenius inner product Σᵢⱼ A[i,j]·B[i,j], which equals
// tr(AB) for symmetric operands. When either operand is Diagonal only the n
// diagonal products contribute. Inner(a, b) == Inner(b, a).
func Inner(a, b Matrix) float64 {
	if a.Dim() != b.Dim() {
		panic(ErrDimensionMismatch)
	}
	if a.kind == Diagonal || b.kind == Diagonal {
		return innerDiag(a, b)
	}
	return innerUpper(a.sym.RawSymmetric(), b.sym.RawSymmetric())
}

// InnerSym is Inner with a plain symmetric left operand.
func InnerSym(a *mat.SymDense, b Matrix) float64 {
	if a.SymmetricDim() != b.Dim() {
		panic(ErrDimensionMismatch)
	}
	ra := a.RawSymmetric()
	if b.kind == Diagonal {
		var s float64
		for i, v := range b.diag {
			s += ra.Data[i*ra.Stride+i] * v
		}
		return s
	}
	return innerUpper(ra, b.sym.RawSymmetric())
}

func innerDiag(a, b Matrix) float64 {
	var s float64
	for i := 0; i < a.Dim(); i++ {
		s += a.DiagAt(i) * b.DiagAt(i)
	}
	return s
}

// innerUpper sums the diagonal once and every strictly upper entry twice.
func innerUpper(a, b blas64.Symmetric) float64 {
	var diag, off float64
	for i := 0; i < a.N; i++ {
		ra := a.Data[i*a.Stride+i : i*a.Stride+a.N]
		rb := b.Data[i*b.Stride+i : i*b.Stride+b.N]
		diag += ra[0] * rb[0]
		off += floats.Dot(ra[1:], rb[1:])
	}
	return diag + 2*off
}

// QuadForm returns xᵗBx.
func QuadForm(b Matrix, x []float64) float64 {
	if len(x) != b.Dim() {
		panic(ErrDimensionMismatch)
	}
	if b.kind == Diagonal {
		var s float64
		for i, v := range b.diag {
			s += v * x[i] * x[i]
		}
		return s
	}
	xv := mat.NewVecDense(len(x), x)
	return mat.Inner(xv, b.sym, xv)
}
