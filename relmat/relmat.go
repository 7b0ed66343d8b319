// Package relmat holds the relationship matrices Rᵢ of a variance-component
// model and the routines that accumulate them into the covariance V = Σ δᵢRᵢ.
//
// A Matrix is a closed variant over two storage kinds. Dense keeps the upper
// triangle of a *mat.SymDense, Diagonal keeps only the n diagonal entries.
// Every operation in this package dispatches on the kind exactly once, so a
// diagonal component never pays for the n² walk a dense one needs.
package relmat

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Kind enumerates the storage kinds of a relationship matrix.
type Kind int

const (
	// Dense is a full symmetric matrix stored as its upper triangle.
	Dense Kind = iota
	// Diagonal is a matrix with zero off-diagonal entries.
	Diagonal
)

func (k Kind) String() string {
	switch k {
	case Dense:
		return "dense"
	case Diagonal:
		return "diagonal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Matrix is an n×n symmetric relationship matrix. The zero value is empty and
// rejected by every operation. Matrix values are read-only after construction
// and may be shared between datasets.
type Matrix struct {
	kind Kind
	sym  *mat.SymDense // Dense only
	diag []float64     // Diagonal only
}

var _ mat.Symmetric = Matrix{}

// NewDense wraps a symmetric matrix. The matrix is not copied; the caller
// must not modify it afterwards.
func NewDense(a *mat.SymDense) (Matrix, error) {
	if a == nil || a.IsEmpty() {
		return Matrix{}, ErrEmpty
	}
	raw := a.RawSymmetric()
	for i := 0; i < raw.N; i++ {
		for _, v := range raw.Data[i*raw.Stride+i : i*raw.Stride+raw.N] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Matrix{}, ErrNaNInf
			}
		}
	}
	return Matrix{kind: Dense, sym: a}, nil
}

// NewDiagonal returns a diagonal matrix with the given diagonal. d is copied.
func NewDiagonal(d []float64) (Matrix, error) {
	if len(d) == 0 {
		return Matrix{}, ErrEmpty
	}
	for _, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Matrix{}, ErrNaNInf
		}
	}
	return Matrix{kind: Diagonal, diag: append([]float64(nil), d...)}, nil
}

// Identity returns the n×n identity as a Diagonal matrix.
func Identity(n int) Matrix {
	if n <= 0 {
		panic("relmat: non-positive identity size")
	}
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return Matrix{kind: Diagonal, diag: d}
}

// FromMatrix converts a general square matrix. Entries are checked for
// symmetry within tol; a matrix whose off-diagonal entries are all exactly
// zero is stored as Diagonal.
func FromMatrix(a mat.Matrix, tol float64) (Matrix, error) {
	r, c := a.Dims()
	if r == 0 || c == 0 {
		return Matrix{}, ErrEmpty
	}
	if r != c {
		return Matrix{}, fmt.Errorf("%w: %dx%d is not square", ErrDimensionMismatch, r, c)
	}
	diagonal := true
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			v, w := a.At(i, j), a.At(j, i)
			if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(w) || math.IsInf(w, 0) {
				return Matrix{}, fmt.Errorf("%w at (%d,%d)", ErrNaNInf, i, j)
			}
			if math.Abs(v-w) > tol {
				return Matrix{}, fmt.Errorf("%w: |a[%d,%d]-a[%d,%d]| = %g", ErrNotSymmetric, i, j, j, i, math.Abs(v-w))
			}
			if i != j && (v != 0 || w != 0) {
				diagonal = false
			}
		}
	}
	if diagonal {
		d := make([]float64, r)
		for i := range d {
			d[i] = a.At(i, i)
		}
		return Matrix{kind: Diagonal, diag: d}, nil
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, a.At(i, j))
		}
	}
	return Matrix{kind: Dense, sym: s}, nil
}

// Standardize centres every column of the n×m genotype matrix z and scales
// it to unit variance. Monomorphic columns carry no information and are
// dropped; the result has one column per remaining marker.
func Standardize(z mat.Matrix) (*mat.Dense, error) {
	n, cols := z.Dims()
	if n == 0 || cols == 0 {
		return nil, ErrEmpty
	}
	std := mat.NewDense(n, cols, nil)
	col := make([]float64, n)
	m := 0
	for j := 0; j < cols; j++ {
		mat.Col(col, j, z)
		mean, sd := stat.MeanStdDev(col, nil)
		if sd == 0 || math.IsNaN(sd) {
			continue
		}
		for i, v := range col {
			std.Set(i, m, (v-mean)/sd)
		}
		m++
	}
	if m == 0 {
		return nil, fmt.Errorf("%w: all %d genotype columns are constant", ErrEmpty, cols)
	}
	return std.Slice(0, n, 0, m).(*mat.Dense), nil
}

// FromGenotypes builds the normalised sample outer product ZZᵗ/m from the
// standardized genotypes of z (see Standardize).
func FromGenotypes(z mat.Matrix) (Matrix, error) {
	zs, err := Standardize(z)
	if err != nil {
		return Matrix{}, err
	}
	n, m := zs.Dims()
	g := mat.NewSymDense(n, nil)
	g.SymOuterK(1/float64(m), zs)
	return Matrix{kind: Dense, sym: g}, nil
}

// Kind reports the storage kind.
func (m Matrix) Kind() Kind { return m.kind }

// Dim returns n, or 0 for the zero Matrix.
func (m Matrix) Dim() int {
	switch m.kind {
	case Dense:
		if m.sym == nil {
			return 0
		}
		return m.sym.SymmetricDim()
	default:
		return len(m.diag)
	}
}

// Dims implements mat.Matrix.
func (m Matrix) Dims() (r, c int) {
	n := m.Dim()
	return n, n
}

// SymmetricDim implements mat.Symmetric.
func (m Matrix) SymmetricDim() int { return m.Dim() }

// T implements mat.Matrix. A relationship matrix is its own transpose.
func (m Matrix) T() mat.Matrix { return m }

// At implements mat.Matrix.
func (m Matrix) At(i, j int) float64 {
	if m.kind == Dense {
		return m.sym.At(i, j)
	}
	n := len(m.diag)
	if uint(i) >= uint(n) || uint(j) >= uint(n) {
		panic(mat.ErrIndexOutOfRange)
	}
	if i != j {
		return 0
	}
	return m.diag[i]
}

// DiagAt returns the i-th diagonal entry.
func (m Matrix) DiagAt(i int) float64 {
	if m.kind == Dense {
		return m.sym.At(i, i)
	}
	return m.diag[i]
}
