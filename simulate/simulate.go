// Package simulate draws synthetic quantitative-trait data with a known
// genetic and residual variance:
//
//	y = Xβ + g + e,  g ~ N(0, δ₁·G),  e ~ N(0, δ₂·I)
//
// where G is the genomic relationship matrix of simulated biallelic markers.
// The same Config always yields the same data.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/espenmei/gremlmodels/relmat"
)

// ErrBadConfig is returned for non-positive sizes, negative variances or
// allele frequencies outside (0, 1).
var ErrBadConfig = errors.New("simulate: bad config")

// Config describes one realisation.
type Config struct {
	// N individuals, M markers.
	N, M int
	// Beta holds the intercept followed by one coefficient per standard
	// normal covariate.
	Beta []float64
	// Genetic and Residual are δ₁ and δ₂.
	Genetic, Residual float64
	// Allele frequencies are drawn uniformly from [MinFreq, MaxFreq].
	MinFreq, MaxFreq float64
	Seed             uint64
}

// DefaultConfig is 1000 individuals, 2000 markers, δ = (2, 4).
func DefaultConfig() Config {
	return Config{
		N:        1000,
		M:        2000,
		Beta:     []float64{1, 0.5, -0.25},
		Genetic:  2,
		Residual: 4,
		MinFreq:  0.05,
		MaxFreq:  0.5,
		Seed:     20240917,
	}
}

// Data is one simulated dataset.
type Data struct {
	Y *mat.VecDense
	// X is the intercept column followed by the covariates.
	X         *mat.Dense
	Genotypes *mat.Dense
	// GRM is ZsZsᵗ/m over the standardized polymorphic markers.
	GRM      relmat.Matrix
	Residual relmat.Matrix
}

func (c Config) validate() error {
	switch {
	case c.N <= 0 || c.M <= 0:
		return fmt.Errorf("%w: N=%d M=%d", ErrBadConfig, c.N, c.M)
	case len(c.Beta) == 0 || len(c.Beta) > c.N:
		return fmt.Errorf("%w: %d coefficients for %d individuals", ErrBadConfig, len(c.Beta), c.N)
	case c.Genetic < 0 || c.Residual < 0:
		return fmt.Errorf("%w: negative variance", ErrBadConfig)
	case !(c.MinFreq > 0 && c.MinFreq <= c.MaxFreq && c.MaxFreq < 1):
		return fmt.Errorf("%w: allele frequency range [%g, %g]", ErrBadConfig, c.MinFreq, c.MaxFreq)
	}
	return nil
}

// Generate draws a dataset.
func Generate(cfg Config) (*Data, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	src := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	n, p := cfg.N, len(cfg.Beta)

	z := mat.NewDense(n, cfg.M, nil)
	freq := distuv.Uniform{Min: cfg.MinFreq, Max: cfg.MaxFreq, Src: src}
	for j := 0; j < cfg.M; j++ {
		allele := distuv.Binomial{N: 2, P: freq.Rand(), Src: src}
		for i := 0; i < n; i++ {
			z.Set(i, j, allele.Rand())
		}
	}
	zs, err := relmat.Standardize(z)
	if err != nil {
		return nil, err
	}
	_, m := zs.Dims()
	g := mat.NewSymDense(n, nil)
	g.SymOuterK(1/float64(m), zs)
	grm, err := relmat.NewDense(g)
	if err != nil {
		return nil, err
	}

	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for j := 1; j < p; j++ {
			x.Set(i, j, std.Rand())
		}
	}

	// Cov(Zs·u·√(δ₁/m)) = δ₁·ZsZsᵗ/m
	u := mat.NewVecDense(m, nil)
	for k := 0; k < m; k++ {
		u.SetVec(k, std.Rand())
	}
	y := mat.NewVecDense(n, nil)
	y.MulVec(zs, u)
	y.ScaleVec(math.Sqrt(cfg.Genetic/float64(m)), y)

	xb := mat.NewVecDense(n, nil)
	xb.MulVec(x, mat.NewVecDense(p, append([]float64(nil), cfg.Beta...)))
	y.AddVec(y, xb)

	noise := distuv.Normal{Mu: 0, Sigma: math.Sqrt(cfg.Residual), Src: src}
	for i := 0; i < n; i++ {
		y.SetVec(i, y.AtVec(i)+noise.Rand())
	}

	return &Data{
		Y:         y,
		X:         x,
		Genotypes: z,
		GRM:       grm,
		Residual:  relmat.Identity(n),
	}, nil
}
