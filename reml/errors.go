package reml

import "errors"

var (
	// ErrNonPositiveDefinite is returned when V = Σ δᵢRᵢ cannot be Cholesky
	// factorized at the requested δ. Optimizers treat the point as
	// inadmissible; it is not a fatal error.
	ErrNonPositiveDefinite = errors.New("reml: covariance is not positive definite")

	// ErrSingularDesign is returned when XᵗV⁻¹X cannot be factorized, i.e.
	// the design is numerically rank deficient at this δ.
	ErrSingularDesign = errors.New("reml: XᵗV⁻¹X is singular")

	// ErrDimensionMismatch is returned when δ, the workspace or the data
	// disagree on n, p or q.
	ErrDimensionMismatch = errors.New("reml: dimension mismatch")
)

// Inadmissible reports whether err marks a point the optimizer should reject
// (objective −∞) rather than abort on.
func Inadmissible(err error) bool {
	return errors.Is(err, ErrNonPositiveDefinite) || errors.Is(err, ErrSingularDesign)
}
