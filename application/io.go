package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/espenmei/gremlmodels/relmat"
)

// symmetryTol is the absolute tolerance for reading a relationship matrix
// from text.
const symmetryTol = 1e-8

// LoadCSVToTable reads CSV file:
//
//   - The first row is a header with column names
//   - All remaining rows are numeric values, one row per individual
func LoadCSVToTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header in %s", path)
	}

	data, rows, err := readNumericRows(r, len(header), 2)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	return &Table{
		Data:    mat.NewDense(rows, len(header), data),
		Columns: header,
	}, nil
}

// LoadRelationshipMatrix reads an n×n symmetric matrix from a headerless
// CSV file. Matrices with zero off-diagonal entries are stored as diagonal.
func LoadRelationshipMatrix(path string) (relmat.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return relmat.Matrix{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	first, err := r.Read()
	if err != nil {
		return relmat.Matrix{}, fmt.Errorf("read %s: %w", path, err)
	}
	n := len(first)
	row0, err := parseRow(first, 1)
	if err != nil {
		return relmat.Matrix{}, err
	}
	rest, rows, err := readNumericRows(r, n, 2)
	if err != nil {
		return relmat.Matrix{}, fmt.Errorf("%s: %w", path, err)
	}
	if rows+1 != n {
		return relmat.Matrix{}, fmt.Errorf("%s: %d rows for %d columns", path, rows+1, n)
	}

	a := mat.NewDense(n, n, append(row0, rest...))
	m, err := relmat.FromMatrix(a, symmetryTol)
	if err != nil {
		return relmat.Matrix{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// readNumericRows reads until EOF; every row must have k fields. line is
// the 1-based line number of the first row, for error messages.
func readNumericRows(r *csv.Reader, k, line int) ([]float64, int, error) {
	var (
		data []float64
		rows int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row %d: %w", line+rows, err)
		}
		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != k {
			return nil, 0, fmt.Errorf("row %d: expected %d columns, got %d", line+rows, k, len(record))
		}
		vals, err := parseRow(record, line+rows)
		if err != nil {
			return nil, 0, err
		}
		data = append(data, vals...)
		rows++
	}
	return data, rows, nil
}

func parseRow(record []string, line int) ([]float64, error) {
	vals := make([]float64, len(record))
	for j, s := range record {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float at row %d col %d (%q): %w", line, j+1, s, err)
		}
		vals[j] = v
	}
	return vals, nil
}

// WriteMatrixToCSV writes m, with a header row if header is non-empty.
func WriteMatrixToCSV(path string, header []string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	r, c := m.Dims()
	record := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// PrintFit writes a human-readable summary.
func PrintFit(out io.Writer, s *FitSummary) {
	fmt.Fprintf(out, "\n=== REML fit (%s) ===\n", s.Method)
	fmt.Fprintf(out, "status: %s (converged=%t, %d iterations, %d evaluations)\n",
		s.Status, s.Converged, s.Iterations, s.Evaluations)
	if !s.Converged {
		fmt.Fprintln(out, "WARNING: estimates are provisional")
	}
	fmt.Fprintf(out, "n=%d p=%d q=%d\n", s.NumObs, s.NumFixed, s.NumComponents)
	fmt.Fprintf(out, "logLik=%.6f deviance=%.6f AIC=%.4f BIC=%.4f\n", s.LogLik, s.Deviance, s.AIC, s.BIC)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\n=== Fixed effects ===")
	for _, e := range s.Fixed {
		fmt.Fprintf(tw, "%s\t%.6f\n", e.Name, e.Value)
	}
	fmt.Fprintln(tw, "\n=== Variance components ===")
	for _, e := range s.Components {
		fmt.Fprintf(tw, "%s\t%.6f\n", e.Name, e.Value)
	}
	tw.Flush()
}

// OutputFitToCSV writes one row per estimate: kind, name, value, theta.
func OutputFitToCSV(path string, s *FitSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"kind", "name", "value", "theta"}); err != nil {
		return err
	}
	write := func(kind string, es []Estimate) error {
		for _, e := range es {
			theta := ""
			if e.Theta != nil {
				theta = strconv.FormatFloat(*e.Theta, 'g', -1, 64)
			}
			if err := w.Write([]string{kind, e.Name, strconv.FormatFloat(e.Value, 'g', -1, 64), theta}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write("fixed", s.Fixed); err != nil {
		return err
	}
	if err := write("component", s.Components); err != nil {
		return err
	}
	if err := w.Write([]string{"fit", "loglik", strconv.FormatFloat(s.LogLik, 'g', -1, 64), ""}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// OutputFitToYAML writes the whole summary as YAML.
func OutputFitToYAML(path string, s *FitSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode fit summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}
