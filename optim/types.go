// Package optim maximises an objective over a box bounded from below.
//
// The objective may return math.Inf(-1) (or NaN) for points it cannot
// evaluate; such points are rejected and the search backtracks. Every
// accepted iterate satisfies x[i] ≥ lower[i], and a coordinate pushed onto
// its bound is assigned the bound exactly.
package optim

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

var (
	// ErrBadInput is returned for mismatched lengths, NaN bounds or a start
	// outside the bounds.
	ErrBadInput = errors.New("optim: bad input")

	// ErrInfeasibleStart is returned when the objective is −∞ at the start.
	ErrInfeasibleStart = errors.New("optim: objective is not finite at the initial point")
)

// Problem is the objective to maximise.
type Problem struct {
	// Func returns the objective. −Inf marks an inadmissible point.
	Func func(x []float64) float64
	// Grad writes ∇Func into dst. If nil, forward finite differences are
	// used, which only step upwards and so never cross a lower bound.
	Grad func(dst, x []float64)
}

// Status describes why an optimization stopped.
type Status int

const (
	// NotTerminated is the status before any optimization has run.
	NotTerminated Status = iota
	// FunctionConvergence: the objective stopped improving by more than
	// FuncTol relative to its magnitude.
	FunctionConvergence
	// StepConvergence: the last step moved no coordinate by more than
	// ParamTol.
	StepConvergence
	// GradientConvergence: the projected gradient is within GradTol.
	GradientConvergence
	// IterationLimit: MaxIterations was reached first. Not a convergence.
	IterationLimit
	// LinesearchFailure: no step along the search direction improved the
	// objective.
	LinesearchFailure
	// Failure: the optimizer could not proceed, e.g. the objective was not
	// finite at the start.
	Failure
)

var statusNames = [...]string{
	NotTerminated:       "NotTerminated",
	FunctionConvergence: "FunctionConvergence",
	StepConvergence:     "StepConvergence",
	GradientConvergence: "GradientConvergence",
	IterationLimit:      "IterationLimit",
	LinesearchFailure:   "LinesearchFailure",
	Failure:             "Failure",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Converged reports whether s is one of the convergence statuses. The
// result of any other status is provisional.
func (s Status) Converged() bool {
	switch s {
	case FunctionConvergence, StepConvergence, GradientConvergence:
		return true
	}
	return false
}

// Method selects the search algorithm.
type Method int

const (
	// BFGS is a projected quasi-Newton method with Armijo backtracking.
	BFGS Method = iota
	// NelderMead runs gonum's simplex search on the bound-clamped objective.
	NelderMead
)

func (m Method) String() string {
	switch m {
	case BFGS:
		return "bfgs"
	case NelderMead:
		return "nelder-mead"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod is the inverse of Method.String.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "bfgs", "":
		return BFGS, nil
	case "nelder-mead", "neldermead":
		return NelderMead, nil
	}
	return 0, fmt.Errorf("%w: unknown method %q", ErrBadInput, s)
}

// Settings control termination. The zero value is not usable; start from
// DefaultSettings.
type Settings struct {
	Method Method

	// MaxIterations caps major iterations.
	MaxIterations int
	// FuncTol: stop when |Δf| ≤ FuncTol·max(1, |f|).
	FuncTol float64
	// ParamTol: stop when ‖Δx‖∞ ≤ ParamTol·max(1, ‖x‖∞).
	ParamTol float64
	// GradTol: stop when the projected gradient's ∞-norm ≤ GradTol.
	GradTol float64
	// FDStep is the forward-difference step when Problem.Grad is nil.
	FDStep float64
	// InitialStep bounds the ∞-norm of the first trial step.
	InitialStep float64

	Logger *zap.Logger
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() *Settings {
	return &Settings{
		Method:        BFGS,
		MaxIterations: 200,
		FuncTol:       1e-10,
		ParamTol:      1e-9,
		GradTol:       1e-6,
		FDStep:        1e-6,
		InitialStep:   1,
	}
}

// Result is the best point found.
type Result struct {
	X               []float64
	F               float64
	Status          Status
	Iterations      int
	FuncEvaluations int
	GradEvaluations int
}

func validate(x0, lower []float64, s *Settings) error {
	if len(x0) == 0 {
		return fmt.Errorf("%w: empty parameter vector", ErrBadInput)
	}
	if len(lower) != len(x0) {
		return fmt.Errorf("%w: %d lower bounds for %d parameters", ErrBadInput, len(lower), len(x0))
	}
	for i := range x0 {
		if math.IsNaN(lower[i]) || math.IsInf(lower[i], 1) {
			return fmt.Errorf("%w: lower bound %d is %v", ErrBadInput, i, lower[i])
		}
		if math.IsNaN(x0[i]) || math.IsInf(x0[i], 0) {
			return fmt.Errorf("%w: start %d is %v", ErrBadInput, i, x0[i])
		}
		if x0[i] < lower[i] {
			return fmt.Errorf("%w: start %d = %g is below its bound %g", ErrBadInput, i, x0[i], lower[i])
		}
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("%w: MaxIterations must be > 0", ErrBadInput)
	}
	return nil
}

// project clamps x onto the box in place by assignment, so a clamped
// coordinate equals its bound exactly.
func project(x, lower []float64) {
	for i, l := range lower {
		if x[i] < l {
			x[i] = l
		}
	}
}
