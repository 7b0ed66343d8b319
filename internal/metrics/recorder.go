// Package metrics counts likelihood evaluations on a private Prometheus
// registry. A Recorder satisfies reml.Observer.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/espenmei/gremlmodels/reml"
)

const namespace = "greml"

// Recorder holds the evaluation counters of one or more model fits.
type Recorder struct {
	registry *prometheus.Registry

	evaluations  *prometheus.CounterVec
	duration     prometheus.Histogram
	guardHits    prometheus.Counter
	fits         *prometheus.CounterVec
	fitIteration prometheus.Histogram
}

var _ reml.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "likelihood_evaluations_total",
			Help:      "Restricted likelihood evaluations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "likelihood_evaluation_seconds",
			Help:      "Wall time of one likelihood evaluation.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		guardHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cholesky_negative_pivots_total",
			Help:      "Negative Cholesky pivots whose sign was dropped before the logarithm.",
		}),
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_total",
			Help:      "Completed model fits by optimizer status.",
		}, []string{"status"}),
		fitIteration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_iterations",
			Help:      "Optimizer iterations per fit.",
			Buckets:   prometheus.LinearBuckets(0, 10, 20),
		}),
	}
	r.registry.MustRegister(r.evaluations, r.duration, r.guardHits, r.fits, r.fitIteration)
	return r
}

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeInadmissible = "inadmissible"
	OutcomeError        = "error"
)

// ObserveEvaluation implements reml.Observer.
func (r *Recorder) ObserveEvaluation(elapsed time.Duration, err error) {
	outcome := OutcomeOK
	switch {
	case err == nil:
	case reml.Inadmissible(err):
		outcome = OutcomeInadmissible
	default:
		outcome = OutcomeError
	}
	r.evaluations.WithLabelValues(outcome).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// ObserveDomainGuard implements reml.Observer.
func (r *Recorder) ObserveDomainGuard(hits int) {
	r.guardHits.Add(float64(hits))
}

// ObserveFit records the end of a fit.
func (r *Recorder) ObserveFit(status string, iterations int) {
	r.fits.WithLabelValues(status).Inc()
	r.fitIteration.Observe(float64(iterations))
}

// Evaluations returns the evaluation counter for one outcome label.
func (r *Recorder) Evaluations(outcome string) prometheus.Counter {
	return r.evaluations.WithLabelValues(outcome)
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// WriteText writes every metric in the Prometheus text format.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
