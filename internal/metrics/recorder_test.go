package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espenmei/gremlmodels/reml"
)

func TestRecorderOutcomes(t *testing.T) {
	r := NewRecorder()

	r.ObserveEvaluation(time.Millisecond, nil)
	r.ObserveEvaluation(time.Millisecond, nil)
	r.ObserveEvaluation(time.Millisecond, fmt.Errorf("step: %w", reml.ErrNonPositiveDefinite))
	r.ObserveEvaluation(time.Millisecond, reml.ErrSingularDesign)
	r.ObserveEvaluation(time.Millisecond, errors.New("boom"))
	r.ObserveDomainGuard(3)
	r.ObserveFit("FunctionConvergence", 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.evaluations.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.evaluations.WithLabelValues(OutcomeInadmissible)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evaluations.WithLabelValues(OutcomeError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.guardHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fits.WithLabelValues("FunctionConvergence")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestRecorderWriteText(t *testing.T) {
	r := NewRecorder()
	r.ObserveEvaluation(time.Microsecond, nil)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, `greml_likelihood_evaluations_total{outcome="ok"} 1`)
	assert.Contains(t, out, "greml_likelihood_evaluation_seconds_count 1")
}
