package model_test

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/internal/metrics"
	"github.com/espenmei/gremlmodels/model"
	"github.com/espenmei/gremlmodels/optim"
	"github.com/espenmei/gremlmodels/simulate"
)

// The dataset is simulate.DefaultConfig(): n=1000, m=2000 markers with
// allele frequencies in [0.05, 0.5], β = (1, 0.5, -0.25), δ = (2, 4),
// seed 20240917.
var _ = Describe("REML fit of a GRM plus residual model", Ordered, func() {
	var (
		sim  *simulate.Data
		data *model.Dataset
		rec  *metrics.Recorder
		fit  *model.Model

		theta0 = []float64{1, 1}
		lower  = []float64{0, 0}
	)

	BeforeAll(func() {
		if testing.Short() {
			Skip("n=1000 fit skipped in -short mode")
		}
		var err error
		sim, err = simulate.Generate(simulate.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		data, err = model.NewDataset(sim.Y, sim.X, sim.GRM, sim.Residual)
		Expect(err).NotTo(HaveOccurred())

		rec = metrics.NewRecorder()
		fit, err = model.New(data, theta0, lower,
			model.WithObserver(rec),
			model.WithLogger(zap.NewNop()))
		Expect(err).NotTo(HaveOccurred())

		By("fitting with the default projected BFGS")
		Expect(fit.Fit()).To(Succeed())
		_, _ = fmt.Fprintf(GinkgoWriter, "logLik=%.10f δ=%v β=%v status=%v iterations=%d\n",
			fit.LogLik(), fit.Delta(), fit.Beta(), fit.Status(), fit.Iterations())
	})

	It("converges", func() {
		Expect(fit.Converged()).To(BeTrue(), "status %v", fit.Status())
		Expect(fit.NumObs()).To(Equal(1000))
		Expect(fit.NumFixed()).To(Equal(3))
		Expect(fit.NumComponents()).To(Equal(2))
	})

	It("reaches the reference log-likelihood", func() {
		// seed 20240917 reference: δ ≈ (1.91145, 3.94475)
		const want = -2293.6325960828
		Expect(math.Abs(fit.LogLik()-want) / math.Abs(want)).To(BeNumerically("<", 1e-5))
		delta := fit.Delta()
		Expect(delta[0]).To(BeNumerically("~", 1.91145, 1e-3))
		Expect(delta[1]).To(BeNumerically("~", 3.94475, 1e-3))
	})

	It("does at least as well as the generating weights", func() {
		truth, err := fit.LogLikAt([]float64{2, 4})
		Expect(err).NotTo(HaveOccurred())
		Expect(fit.LogLik()).To(BeNumerically(">=", truth))
	})

	It("recovers the total variance and the fixed effects", func() {
		delta := fit.Delta()
		Expect(delta[0]).To(BeNumerically(">", 0))
		Expect(delta[0] + delta[1]).To(BeNumerically("~", 6, 1))
		beta := fit.Beta()
		Expect(beta).To(HaveLen(3))
		Expect(beta[1]).To(BeNumerically("~", 0.5, 0.25))
		Expect(beta[2]).To(BeNumerically("~", -0.25, 0.25))
	})

	It("agrees with the derivative-free search to 1e-5", func() {
		s := optim.DefaultSettings()
		s.Method = optim.NelderMead
		s.MaxIterations = 1000
		nm, err := model.New(data, theta0, lower, model.WithSettings(s))
		Expect(err).NotTo(HaveOccurred())
		Expect(nm.Fit()).To(Succeed())

		Expect(nm.Converged()).To(BeTrue(), "status %v", nm.Status())
		rel := math.Abs(nm.LogLik()-fit.LogLik()) / math.Abs(fit.LogLik())
		Expect(rel).To(BeNumerically("<", 1e-5))
	})

	It("leaves the dataset untouched", func() {
		Expect(mat.Equal(data.Response(), sim.Y)).To(BeTrue())
		Expect(mat.Equal(data.Design(), sim.X)).To(BeTrue())
	})

	It("counts every evaluation and the fit", func() {
		Expect(testutil.ToFloat64(rec.Evaluations(metrics.OutcomeOK))).
			To(BeNumerically(">=", fit.Evaluations()))
		var buf bytes.Buffer
		Expect(rec.WriteText(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring(fmt.Sprintf(`greml_fits_total{status="%s"} 1`, fit.Status())))
	})
})
