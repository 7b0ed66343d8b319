// Package model fits linear variance-component models
//
//	y ~ N(Xβ, V),  V = Σ δᵢRᵢ,  δ = f(θ)
//
// by restricted maximum likelihood. A Model owns its likelihood workspace and
// is not safe for concurrent use; several Models may share one Dataset.
package model

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/optim"
	"github.com/espenmei/gremlmodels/reml"
	"github.com/espenmei/gremlmodels/transform"
)

// ErrNotFitted is returned by accessors that need a likelihood evaluation
// before Fit has produced one.
var ErrNotFitted = errors.New("model: not fitted")

// Model is a variance-component model bound to a Dataset.
type Model struct {
	data     *Dataset
	tr       transform.Transform
	settings *optim.Settings
	logger   *zap.Logger
	observer reml.Observer

	eval *reml.Evaluator
	ws   *reml.Workspace

	theta []float64
	lower []float64
	delta []float64

	beta        []float64
	logLik      float64
	status      optim.Status
	iterations  int
	evaluations int
	fitted      bool
}

// New binds data to a model starting at theta0 with lower bounds lower
// (which may be -Inf). Mismatched lengths wrap ErrInvalidDimension; a start
// below its bound wraps optim.ErrBadInput.
func New(data *Dataset, theta0, lower []float64, opts ...Option) (*Model, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil dataset", ErrInvalidDimension)
	}
	m := &Model{
		data:     data,
		tr:       transform.Identity(data.NumComponents()),
		settings: optim.DefaultSettings(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	if err := m.reset(theta0, lower); err != nil {
		return nil, err
	}

	m.logger = m.logger.Named("model")
	if m.settings.Logger == nil {
		m.settings.Logger = m.logger
	}
	m.eval = &reml.Evaluator{
		Y:        data.y,
		X:        data.x,
		R:        data.r,
		Observer: m.observer,
		Logger:   m.logger,
	}
	m.ws = reml.NewWorkspace(data.NumObs(), data.NumFixed())
	return m, nil
}

func (m *Model) reset(theta0, lower []float64) error {
	q := m.data.NumComponents()
	if m.tr.Len() != q {
		return fmt.Errorf("%w: transform has length %d, dataset has %d components", ErrInvalidDimension, m.tr.Len(), q)
	}
	if len(theta0) != q || len(lower) != q {
		return fmt.Errorf("%w: θ has length %d and bounds %d, want %d", ErrInvalidDimension, len(theta0), len(lower), q)
	}
	for i := range theta0 {
		if math.IsNaN(lower[i]) || theta0[i] < lower[i] || math.IsNaN(theta0[i]) {
			return fmt.Errorf("%w: θ[%d] = %g with lower bound %g", optim.ErrBadInput, i, theta0[i], lower[i])
		}
	}
	m.theta = append(m.theta[:0], theta0...)
	m.lower = append(m.lower[:0], lower...)
	if m.delta == nil {
		m.delta = make([]float64, q)
	}
	m.tr.Evaluate(m.delta, m.theta)

	m.beta = nil
	m.logLik = math.NaN()
	m.status = optim.NotTerminated
	m.iterations = 0
	m.evaluations = 0
	m.fitted = false
	return nil
}

// Fit maximises the restricted log-likelihood over θ from the current θ.
// Points where V is not positive definite are rejected by the optimizer and
// never surface as errors, not even at the starting point: there Fit returns
// nil with Status Failure and θ left unchanged. Not converging is not an
// error either, so check Converged. An error means the inputs could not be
// evaluated at all.
func (m *Model) Fit() error {
	q := len(m.theta)
	delta := make([]float64, q)

	var fatal error
	p := optim.Problem{
		Func: func(theta []float64) float64 {
			m.tr.Evaluate(delta, theta)
			res, err := m.eval.Evaluate(m.ws, delta)
			if err != nil {
				if !reml.Inadmissible(err) && fatal == nil {
					fatal = err
				}
				return math.Inf(-1)
			}
			return res.LogLik
		},
	}
	if d, ok := m.tr.(transform.Differentiable); ok {
		gDelta := make([]float64, q)
		jac := mat.NewDense(q, q, nil)
		p.Grad = func(dst, theta []float64) {
			d.Evaluate(delta, theta)
			if err := m.eval.Gradient(m.ws, delta, gDelta); err != nil {
				for i := range dst {
					dst[i] = math.NaN()
				}
				return
			}
			// ∂ℓ/∂θ = Jᵗ ∂ℓ/∂δ
			d.Jacobian(jac, theta)
			mat.NewVecDense(q, dst).MulVec(jac.T(), mat.NewVecDense(q, gDelta))
		}
	}

	m.logger.Debug("fit started",
		zap.Stringer("method", m.settings.Method),
		zap.Float64s("theta0", m.theta),
		zap.Float64s("lower", m.lower),
		zap.Bool("analyticGradient", p.Grad != nil))

	res, err := optim.Maximize(p, m.theta, m.lower, m.settings)
	if fatal != nil {
		return fatal
	}
	if errors.Is(err, optim.ErrInfeasibleStart) {
		m.status = res.Status
		m.evaluations = res.FuncEvaluations
		if fo, ok := m.observer.(FitObserver); ok {
			fo.ObserveFit(res.Status.String(), 0)
		}
		m.logger.Warn("fit failed: V is not positive definite at the starting point",
			zap.Float64s("theta0", m.theta),
			zap.Float64s("delta", m.delta))
		return nil
	}
	if err != nil {
		return fmt.Errorf("model: fit: %w", err)
	}

	copy(m.theta, res.X)
	m.tr.Evaluate(m.delta, m.theta)
	final, err := m.eval.Evaluate(m.ws, m.delta)
	if err != nil {
		return fmt.Errorf("model: evaluate at optimum: %w", err)
	}
	m.beta = final.Beta
	m.logLik = final.LogLik
	m.status = res.Status
	m.iterations = res.Iterations
	m.evaluations = res.FuncEvaluations
	m.fitted = true

	if fo, ok := m.observer.(FitObserver); ok {
		fo.ObserveFit(res.Status.String(), res.Iterations)
	}
	fields := []zap.Field{
		zap.Stringer("status", res.Status),
		zap.Int("iterations", res.Iterations),
		zap.Int("evaluations", res.FuncEvaluations),
		zap.Float64("logLik", m.logLik),
		zap.Float64s("delta", m.delta),
	}
	if res.Status.Converged() {
		m.logger.Info("fit converged", fields...)
	} else {
		m.logger.Warn("fit did not converge; estimates are provisional", fields...)
	}
	return nil
}

// FitFrom restarts the fit from theta0 with the given bounds. Fitting twice
// from the same start gives identical results.
func (m *Model) FitFrom(theta0, lower []float64) error {
	if err := m.reset(theta0, lower); err != nil {
		return err
	}
	return m.Fit()
}

// LogLikAt evaluates the restricted log-likelihood at θ without changing
// the fit. It shares the model's workspace, so it must not run concurrently
// with Fit.
func (m *Model) LogLikAt(theta []float64) (float64, error) {
	if len(theta) != len(m.theta) {
		return math.NaN(), fmt.Errorf("%w: θ has length %d, want %d", ErrInvalidDimension, len(theta), len(m.theta))
	}
	delta := make([]float64, len(theta))
	m.tr.Evaluate(delta, theta)
	res, err := m.eval.Evaluate(m.ws, delta)
	if err != nil {
		return math.NaN(), err
	}
	return res.LogLik, nil
}

// LogLik is the restricted log-likelihood at the fitted θ, or NaN before Fit.
func (m *Model) LogLik() float64 { return m.logLik }

// Beta returns a copy of the fixed-effect estimates, nil before Fit.
func (m *Model) Beta() []float64 { return clone(m.beta) }

// Delta returns a copy of the variance-component weights δ = f(θ).
func (m *Model) Delta() []float64 { return clone(m.delta) }

// Theta returns a copy of the optimizer parameters.
func (m *Model) Theta() []float64 { return clone(m.theta) }

// Converged reports whether the last Fit met a convergence tolerance.
func (m *Model) Converged() bool { return m.fitted && m.status.Converged() }

// Status is the optimizer status of the last Fit.
func (m *Model) Status() optim.Status { return m.status }

// Iterations is the number of optimizer iterations of the last Fit.
func (m *Model) Iterations() int { return m.iterations }

// Evaluations is the number of objective evaluations of the last Fit.
func (m *Model) Evaluations() int { return m.evaluations }

// NumObs is n, the length of y.
func (m *Model) NumObs() int { return m.data.NumObs() }

// NumFixed is p, the number of columns of X.
func (m *Model) NumFixed() int { return m.data.NumFixed() }

// NumComponents is q, the number of relationship matrices.
func (m *Model) NumComponents() int { return m.data.NumComponents() }

// Deviance is −2·LogLik.
func (m *Model) Deviance() float64 { return -2 * m.logLik }

// DOF counts the estimated parameters, p + q.
func (m *Model) DOF() int { return m.NumFixed() + m.NumComponents() }

// AIC is Deviance + 2·DOF.
func (m *Model) AIC() float64 { return m.Deviance() + 2*float64(m.DOF()) }

// BIC is Deviance + DOF·log(n − p); the restricted likelihood is a density
// of n − p error contrasts.
func (m *Model) BIC() float64 {
	return m.Deviance() + float64(m.DOF())*math.Log(float64(m.NumObs()-m.NumFixed()))
}

// Fitted returns Xβ.
func (m *Model) Fitted() (*mat.VecDense, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	f := mat.NewVecDense(m.NumObs(), nil)
	f.MulVec(m.data.x, mat.NewVecDense(len(m.beta), clone(m.beta)))
	return f, nil
}

// Residuals returns y − Xβ.
func (m *Model) Residuals() (*mat.VecDense, error) {
	f, err := m.Fitted()
	if err != nil {
		return nil, err
	}
	f.SubVec(m.data.y, f)
	return f, nil
}

// Gradient returns ∂logLik/∂θ at the current θ. It does not require Fit.
// Transforms without a Jacobian are differentiated numerically.
func (m *Model) Gradient() ([]float64, error) {
	q := len(m.theta)
	out := make([]float64, q)
	d, ok := m.tr.(transform.Differentiable)
	if !ok {
		delta := make([]float64, q)
		var evalErr error
		fd.Gradient(out, func(theta []float64) float64 {
			m.tr.Evaluate(delta, theta)
			res, err := m.eval.Evaluate(m.ws, delta)
			if err != nil {
				evalErr = err
				return math.NaN()
			}
			return res.LogLik
		}, m.theta, &fd.Settings{Formula: fd.Central, Step: m.settings.FDStep})
		if evalErr != nil {
			return nil, evalErr
		}
		return out, nil
	}

	g := make([]float64, q)
	if err := m.eval.Gradient(m.ws, m.delta, g); err != nil {
		return nil, err
	}
	jac := mat.NewDense(q, q, nil)
	d.Jacobian(jac, m.theta)
	mat.NewVecDense(q, out).MulVec(jac.T(), mat.NewVecDense(q, g))
	return out, nil
}

func clone(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}
