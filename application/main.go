package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/internal/config"
	"github.com/espenmei/gremlmodels/internal/metrics"
	"github.com/espenmei/gremlmodels/model"
	"github.com/espenmei/gremlmodels/simulate"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "greml",
	Short: "Fit variance-component models by REML",
	Long: `greml fits y ~ N(Xβ, V) with V = Σ δᵢRᵢ by restricted maximum likelihood,
where the Rᵢ are known relationship matrices (e.g. a genomic relationship
matrix and the identity for the residual).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var fitOpts struct {
	data       string
	response   string
	covariates []string
	noIntcpt   bool
	components []string
	start      []float64
	lower      []float64
	configPath string
	outCSV     string
	outYAML    string
	metrics    bool
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a model to a CSV dataset",
	Long: `Reads a CSV table with a header row and one relationship matrix per
--component (a headerless n×n CSV file, or "identity"), then maximises the
restricted likelihood over the component weights.

Example:
  greml fit --data pheno.csv --response y --covariates x1,x2 \
    --component grm.csv --component identity --start 1,1 --lower 0,0`,
	RunE: runFit,
}

var simOpts struct {
	outDir string
	n, m   int
	seed   uint64
	delta  []float64
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write a simulated dataset and its genomic relationship matrix",
	RunE:  runSimulate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	f := fitCmd.Flags()
	f.StringVar(&fitOpts.data, "data", "", "CSV table with a header row")
	f.StringVar(&fitOpts.response, "response", "y", "response column")
	f.StringSliceVar(&fitOpts.covariates, "covariates", nil, "covariate columns")
	f.BoolVar(&fitOpts.noIntcpt, "no-intercept", false, "omit the intercept")
	f.StringArrayVar(&fitOpts.components, "component", nil, `relationship matrix CSV or "identity", repeatable`)
	f.Float64SliceVar(&fitOpts.start, "start", nil, "initial θ (default all ones)")
	f.Float64SliceVar(&fitOpts.lower, "lower", nil, "lower bounds on θ (default all zeros)")
	f.StringVar(&fitOpts.configPath, "config", "", "YAML optimizer config")
	f.StringVar(&fitOpts.outCSV, "output-csv", "", "write estimates to this CSV file")
	f.StringVar(&fitOpts.outYAML, "output-yaml", "", "write the fit summary to this YAML file")
	f.BoolVar(&fitOpts.metrics, "metrics", false, "print evaluation metrics after the fit")
	config.RegisterFlags(f)
	_ = fitCmd.MarkFlagRequired("data")
	_ = fitCmd.MarkFlagRequired("component")

	d := simulate.DefaultConfig()
	s := simulateCmd.Flags()
	s.StringVar(&simOpts.outDir, "out-dir", ".", "directory for data.csv and grm.csv")
	s.IntVar(&simOpts.n, "n", d.N, "individuals")
	s.IntVar(&simOpts.m, "m", d.M, "markers")
	s.Uint64Var(&simOpts.seed, "seed", d.Seed, "random seed")
	s.Float64SliceVar(&simOpts.delta, "delta", []float64{d.Genetic, d.Residual}, "genetic and residual variance")

	rootCmd.AddCommand(fitCmd, simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fitOpts.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	settings, err := cfg.ToSettings(logger)
	if err != nil {
		return err
	}

	// 1. Load the table and the relationship matrices
	table, err := LoadCSVToTable(fitOpts.data)
	if err != nil {
		return err
	}
	n, _ := table.Data.Dims()
	logger.Info("loaded table", zap.Int("rows", n), zap.Strings("columns", table.Columns))

	comps, mats, err := LoadComponents(fitOpts.components, n)
	if err != nil {
		return err
	}

	// 2. Build y and X
	spec := FitSpec{
		Response:   fitOpts.response,
		Covariates: fitOpts.covariates,
		Intercept:  !fitOpts.noIntcpt,
	}
	data, fixedNames, err := BuildDataset(table, spec, mats)
	if err != nil {
		return err
	}

	// 3. Fit
	q := len(mats)
	start, lower := fitOpts.start, fitOpts.lower
	if start == nil {
		start = fill(q, 1)
	}
	if lower == nil {
		lower = fill(q, 0)
	}
	rec := metrics.NewRecorder()
	m, err := model.New(data, start, lower,
		model.WithSettings(settings),
		model.WithLogger(logger),
		model.WithObserver(rec))
	if err != nil {
		return err
	}
	if err := m.Fit(); err != nil {
		return err
	}

	// 4. Report
	summary := Summarize(m, cfg.Method, fixedNames, comps)
	out := cmd.OutOrStdout()
	PrintFit(out, summary)

	if fitOpts.outCSV != "" {
		if err := OutputFitToCSV(fitOpts.outCSV, summary); err != nil {
			return err
		}
		fmt.Fprintln(out, "Estimates written to", fitOpts.outCSV)
	}
	if fitOpts.outYAML != "" {
		if err := OutputFitToYAML(fitOpts.outYAML, summary); err != nil {
			return err
		}
		fmt.Fprintln(out, "Fit summary written to", fitOpts.outYAML)
	}
	if fitOpts.metrics {
		fmt.Fprintln(out, "\n=== Metrics ===")
		if err := rec.WriteText(out); err != nil {
			return err
		}
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if len(simOpts.delta) != 2 {
		return fmt.Errorf("--delta takes two values, got %d", len(simOpts.delta))
	}
	cfg := simulate.DefaultConfig()
	cfg.N, cfg.M, cfg.Seed = simOpts.n, simOpts.m, simOpts.seed
	cfg.Genetic, cfg.Residual = simOpts.delta[0], simOpts.delta[1]

	sim, err := simulate.Generate(cfg)
	if err != nil {
		return err
	}
	logger.Info("simulated dataset", zap.Int("n", cfg.N), zap.Int("m", cfg.M), zap.Uint64("seed", cfg.Seed))

	if err := os.MkdirAll(simOpts.outDir, 0o755); err != nil {
		return err
	}

	// y, x1, x2, ... ; the intercept column of X is implied
	_, p := sim.X.Dims()
	header := []string{"y"}
	table := mat.NewDense(cfg.N, p, nil)
	table.SetCol(0, sim.Y.RawVector().Data)
	for j := 1; j < p; j++ {
		header = append(header, fmt.Sprintf("x%d", j))
		table.SetCol(j, mat.Col(nil, j, sim.X))
	}

	dataPath := filepath.Join(simOpts.outDir, "data.csv")
	if err := WriteMatrixToCSV(dataPath, header, table); err != nil {
		return err
	}
	grmPath := filepath.Join(simOpts.outDir, "grm.csv")
	if err := WriteMatrixToCSV(grmPath, nil, sim.GRM); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", dataPath, "and", grmPath)
	return nil
}

func fill(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}
