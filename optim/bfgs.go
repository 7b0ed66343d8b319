package optim

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	armijo        = 1e-4
	backtrack     = 0.5
	maxBacktracks = 60
	// consecutive iterations below FuncTol before declaring convergence
	funcStallIterations = 2
)

// Maximize searches for a local maximum of p.Func over x ≥ lower starting at
// x0. Running out of iterations is not an error: the best point is returned
// with Status IterationLimit.
func Maximize(p Problem, x0, lower []float64, s *Settings) (*Result, error) {
	if s == nil {
		s = DefaultSettings()
	}
	if p.Func == nil {
		return nil, ErrBadInput
	}
	if err := validate(x0, lower, s); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("optim")

	switch s.Method {
	case BFGS:
		b := &boundedBFGS{p: p, lower: lower, s: s, log: logger}
		return b.run(x0)
	case NelderMead:
		return maximizeNelderMead(p, x0, lower, s, logger)
	}
	return nil, ErrBadInput
}

// boundedBFGS minimises f = −Func with a projected BFGS iteration. Variables
// sitting on their bound with a gradient pushing further out are held fixed
// for the iteration; the rest follow the quasi-Newton direction restricted
// to them, and trial points are projected back onto the box.
type boundedBFGS struct {
	p     Problem
	lower []float64
	s     *Settings
	log   *zap.Logger

	invHess *mat.SymDense
	fresh   bool // invHess is the identity and has not been scaled yet

	nf, ng int
}

func (b *boundedBFGS) f(x []float64) float64 {
	b.nf++
	v := -b.p.Func(x)
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

func (b *boundedBFGS) grad(dst, x []float64, fx float64) bool {
	b.ng++
	if b.p.Grad != nil {
		b.p.Grad(dst, x)
		floats.Scale(-1, dst)
	} else {
		fd.Gradient(dst, b.f, x, &fd.Settings{
			Formula:     fd.Forward,
			Step:        b.s.FDStep,
			OriginKnown: true,
			OriginValue: fx,
		})
	}
	for _, v := range dst {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (b *boundedBFGS) reset(dim int) {
	if b.invHess == nil {
		b.invHess = mat.NewSymDense(dim, nil)
	}
	b.invHess.Zero()
	for i := 0; i < dim; i++ {
		b.invHess.SetSym(i, i, 1)
	}
	b.fresh = true
}

func (b *boundedBFGS) run(x0 []float64) (*Result, error) {
	dim := len(x0)
	x := append([]float64(nil), x0...)
	project(x, b.lower)

	fx := b.f(x)
	if math.IsInf(fx, 1) {
		return &Result{X: x, F: math.Inf(-1), Status: Failure, FuncEvaluations: b.nf}, ErrInfeasibleStart
	}
	g := make([]float64, dim)
	result := func(st Status, iter int) (*Result, error) {
		return &Result{
			X:               x,
			F:               -fx,
			Status:          st,
			Iterations:      iter,
			FuncEvaluations: b.nf,
			GradEvaluations: b.ng,
		}, nil
	}
	if !b.grad(g, x, fx) {
		return result(Failure, 0)
	}

	b.reset(dim)
	var (
		d      = make([]float64, dim)
		xn     = make([]float64, dim)
		gn     = make([]float64, dim)
		step   = make([]float64, dim)
		dg     = make([]float64, dim)
		hy     = mat.NewVecDense(dim, nil)
		free   = make([]bool, dim)
		active = make([]bool, dim) // active set of the previous iteration
		stalls int
	)

	for iter := 0; ; iter++ {
		if b.projectedGradNorm(x, g) <= b.s.GradTol {
			return result(GradientConvergence, iter)
		}
		if iter >= b.s.MaxIterations {
			b.log.Info("iteration limit reached", zap.Int("iterations", iter), zap.Float64("f", -fx))
			return result(IterationLimit, iter)
		}

		changed := false
		for i := range free {
			free[i] = !(x[i] <= b.lower[i] && g[i] > 0)
			if !free[i] != active[i] {
				active[i] = !free[i]
				changed = true
			}
		}
		// The curvature learnt on the old free block does not carry over.
		if changed && iter > 0 {
			b.reset(dim)
		}
		b.direction(d, g, free)
		slope := floats.Dot(g, d)
		if !(slope < 0) {
			b.reset(dim)
			b.direction(d, g, free)
			slope = floats.Dot(g, d)
		}

		alpha := 1.0
		if b.fresh {
			if m := floats.Norm(d, math.Inf(1)); m > 0 {
				alpha = math.Min(1, b.s.InitialStep/m)
			}
		}
		fn, ok, flat := b.linesearch(xn, x, fx, g, d, alpha)
		if !ok && !b.fresh {
			b.log.Debug("line search failed, resetting inverse Hessian", zap.Int("iter", iter))
			b.reset(dim)
			b.direction(d, g, free)
			alpha = 1
			if m := floats.Norm(d, math.Inf(1)); m > 0 {
				alpha = math.Min(1, b.s.InitialStep/m)
			}
			fn, ok, flat = b.linesearch(xn, x, fx, g, d, alpha)
		}
		if !ok {
			// Nothing along the descent direction changes f beyond the
			// tolerance: x is optimal to within FuncTol.
			if flat {
				return result(FunctionConvergence, iter)
			}
			b.log.Info("line search failed", zap.Int("iter", iter), zap.Float64("f", -fx))
			return result(LinesearchFailure, iter)
		}
		if !b.grad(gn, xn, fn) {
			copy(x, xn)
			fx = fn
			return result(Failure, iter+1)
		}

		floats.SubTo(step, xn, x)
		floats.SubTo(dg, gn, g)
		// Held coordinates did not move; their gradient change must not
		// enter the curvature pair of the free block.
		for i, f := range free {
			if !f {
				dg[i] = 0
			}
		}
		b.update(step, dg, hy)

		fChange := math.Abs(fx - fn)
		xChange := floats.Norm(step, math.Inf(1))
		copy(x, xn)
		copy(g, gn)
		fx = fn

		b.log.Debug("iteration",
			zap.Int("iter", iter+1),
			zap.Float64("f", -fx),
			zap.Float64s("x", x),
			zap.Float64("step", xChange))

		if b.projectedGradNorm(x, g) <= b.s.GradTol {
			return result(GradientConvergence, iter+1)
		}
		if fChange <= b.s.FuncTol*math.Max(1, math.Abs(fx)) {
			stalls++
			if stalls >= funcStallIterations {
				return result(FunctionConvergence, iter+1)
			}
		} else {
			stalls = 0
		}
		if xChange <= b.s.ParamTol*math.Max(1, floats.Norm(x, math.Inf(1))) {
			return result(StepConvergence, iter+1)
		}
	}
}

// direction sets d = −H_FF·g_F on the free variables and zero elsewhere.
func (b *boundedBFGS) direction(d, g []float64, free []bool) {
	for i := range d {
		d[i] = 0
		if !free[i] {
			continue
		}
		for j := range g {
			if free[j] {
				d[i] -= b.invHess.At(i, j) * g[j]
			}
		}
	}
}

// linesearch backtracks along the projected path x(α) = P(x + αd) until the
// Armijo condition holds, writing the accepted point into xn. flat reports
// that every admissible trial changed f by no more than FuncTol.
func (b *boundedBFGS) linesearch(xn, x []float64, fx float64, g, d []float64, alpha float64) (fn float64, ok, flat bool) {
	tol := b.s.FuncTol * math.Max(1, math.Abs(fx))
	flat = true
	for k := 0; k < maxBacktracks; k++ {
		for i := range xn {
			xn[i] = x[i] + alpha*d[i]
		}
		project(xn, b.lower)
		if floats.Equal(xn, x) {
			return fx, false, flat
		}
		fn = b.f(xn)
		if math.IsInf(fn, 1) {
			flat = false
		} else {
			if math.Abs(fn-fx) > tol {
				flat = false
			}
			var decrease float64
			for i := range xn {
				decrease += g[i] * (xn[i] - x[i])
			}
			if fn < fx && fn <= fx+armijo*math.Min(decrease, 0) {
				return fn, true, flat
			}
		}
		alpha *= backtrack
	}
	return fx, false, flat
}

// update applies the BFGS inverse-Hessian update for step s and gradient
// change y. Pairs without positive curvature are skipped.
func (b *boundedBFGS) update(s, y []float64, hy *mat.VecDense) {
	sDotY := floats.Dot(s, y)
	if sDotY <= 1e-12*floats.Norm(s, 2)*floats.Norm(y, 2) {
		return
	}
	sv := mat.NewVecDense(len(s), s)
	yv := mat.NewVecDense(len(y), y)
	if b.fresh {
		// Scale the identity so the first quasi-Newton step has the right
		// magnitude.
		b.invHess.ScaleSym(sDotY/floats.Dot(y, y), b.invHess)
		b.fresh = false
	}
	hy.MulVec(b.invHess, yv)
	scale := (1 + mat.Inner(yv, b.invHess, yv)/sDotY) / sDotY
	b.invHess.SymRankOne(b.invHess, scale, sv)
	b.invHess.RankTwo(b.invHess, -1/sDotY, hy, sv)
}

// projectedGradNorm is the ∞-norm of the gradient with components that
// point out of the box at an active bound removed.
func (b *boundedBFGS) projectedGradNorm(x, g []float64) float64 {
	var m float64
	for i, gi := range g {
		if x[i] <= b.lower[i] && gi > 0 {
			continue
		}
		m = math.Max(m, math.Abs(gi))
	}
	return m
}
