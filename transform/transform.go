// Package transform maps the optimizer's raw parameter vector θ onto the
// variance-component weights δ that scale the relationship matrices.
//
// A Transform must accept any finite θ the optimizer proposes. It may map a
// θ to weights that make V indefinite; that is for the likelihood evaluator
// to reject, not for the transform.
package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Transform computes δ = f(θ). Len is the common length of θ and δ.
type Transform interface {
	Len() int
	Evaluate(dst, theta []float64)
}

// Differentiable is a Transform that also provides its Jacobian
// J[i,j] = ∂δᵢ/∂θⱼ, written into a Len()×Len() dst.
type Differentiable interface {
	Transform
	Jacobian(dst *mat.Dense, theta []float64)
}

// Identity is the default transform, δ = θ.
type Identity int

var _ Differentiable = Identity(0)

// Len implements Transform.
func (id Identity) Len() int { return int(id) }

// Evaluate implements Transform.
func (id Identity) Evaluate(dst, theta []float64) {
	checkLen(int(id), dst, theta)
	copy(dst, theta)
}

// Jacobian implements Differentiable.
func (id Identity) Jacobian(dst *mat.Dense, theta []float64) {
	checkLen(int(id), theta, theta)
	dst.Zero()
	for i := 0; i < int(id); i++ {
		dst.Set(i, i, 1)
	}
}

func checkLen(q int, dst, theta []float64) {
	if len(dst) != q || len(theta) != q {
		panic(fmt.Sprintf("transform: length mismatch: want %d, got dst=%d theta=%d", q, len(dst), len(theta)))
	}
}
