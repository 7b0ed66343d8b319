package relmat

import "errors"

var (
	// ErrDimensionMismatch is returned when a relationship matrix and the
	// covariance buffer (or two matrices) disagree on n.
	ErrDimensionMismatch = errors.New("relmat: dimension mismatch")

	// ErrNotSymmetric is returned by FromMatrix when |A[i,j]-A[j,i]| exceeds
	// the tolerance.
	ErrNotSymmetric = errors.New("relmat: matrix is not symmetric")

	// ErrEmpty signals a zero-sized matrix or an unset Matrix value.
	ErrEmpty = errors.New("relmat: empty matrix")

	// ErrNaNInf signals a NaN or ±Inf entry.
	ErrNaNInf = errors.New("relmat: NaN or Inf entry")
)
