package model

import (
	"go.uber.org/zap"

	"github.com/espenmei/gremlmodels/optim"
	"github.com/espenmei/gremlmodels/reml"
	"github.com/espenmei/gremlmodels/transform"
)

// Option configures a Model at construction.
type Option func(*Model)

// WithTransform replaces the identity θ → δ map. Its Len must equal the
// number of relationship matrices.
func WithTransform(t transform.Transform) Option {
	if t == nil {
		panic("model: nil transform")
	}
	return func(m *Model) { m.tr = t }
}

// WithSettings sets the optimizer settings. The settings are copied.
func WithSettings(s *optim.Settings) Option {
	if s == nil {
		panic("model: nil settings")
	}
	return func(m *Model) {
		c := *s
		m.settings = &c
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	if l == nil {
		panic("model: nil logger")
	}
	return func(m *Model) { m.logger = l }
}

// WithObserver receives every likelihood evaluation. If it also implements
// FitObserver it is told about each completed fit.
func WithObserver(o reml.Observer) Option {
	return func(m *Model) { m.observer = o }
}

// FitObserver is notified when a fit ends.
type FitObserver interface {
	ObserveFit(status string, iterations int)
}
