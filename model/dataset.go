package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/relmat"
)

// ErrInvalidDimension is returned when y, X and the relationship matrices
// disagree on n, or when X has more columns than rows.
var ErrInvalidDimension = errors.New("model: invalid dimension")

// Dataset is the (y, X, R₁…R_q) triple a Model is fitted to. It copies y and
// X on construction and is never modified afterwards. The relationship
// matrices are shared read-only.
type Dataset struct {
	y *mat.VecDense
	x *mat.Dense
	r []relmat.Matrix
}

// NewDataset validates and copies the response y and design x. At least one
// relationship matrix is required.
func NewDataset(y mat.Vector, x mat.Matrix, r ...relmat.Matrix) (*Dataset, error) {
	if y == nil || x == nil {
		return nil, fmt.Errorf("%w: nil response or design", ErrInvalidDimension)
	}
	n := y.Len()
	rows, p := x.Dims()
	switch {
	case n == 0:
		return nil, fmt.Errorf("%w: no observations", ErrInvalidDimension)
	case rows != n:
		return nil, fmt.Errorf("%w: y has %d rows, X has %d", ErrInvalidDimension, n, rows)
	case p == 0:
		return nil, fmt.Errorf("%w: X has no columns", ErrInvalidDimension)
	case p > n:
		return nil, fmt.Errorf("%w: %d fixed effects for %d observations", ErrInvalidDimension, p, n)
	case len(r) == 0:
		return nil, fmt.Errorf("%w: no relationship matrices", ErrInvalidDimension)
	}
	for i, ri := range r {
		if ri.Dim() != n {
			return nil, fmt.Errorf("%w: relationship matrix %d is %d×%d, want %d×%d", ErrInvalidDimension, i, ri.Dim(), ri.Dim(), n, n)
		}
	}

	d := &Dataset{
		y: mat.NewVecDense(n, nil),
		x: mat.DenseCopyOf(x),
		r: append([]relmat.Matrix(nil), r...),
	}
	d.y.CopyVec(y)
	return d, nil
}

// NumObs is n.
func (d *Dataset) NumObs() int { return d.y.Len() }

// NumFixed is p, the number of columns of X.
func (d *Dataset) NumFixed() int {
	_, p := d.x.Dims()
	return p
}

// NumComponents is q, the number of relationship matrices.
func (d *Dataset) NumComponents() int { return len(d.r) }

// Response returns a copy of y.
func (d *Dataset) Response() *mat.VecDense {
	return mat.VecDenseCopyOf(d.y)
}

// Design returns a copy of X.
func (d *Dataset) Design() *mat.Dense {
	return mat.DenseCopyOf(d.x)
}

// Component returns Rᵢ.
func (d *Dataset) Component(i int) relmat.Matrix { return d.r[i] }
