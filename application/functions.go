package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/espenmei/gremlmodels/model"
	"github.com/espenmei/gremlmodels/relmat"
)

// IdentitySource names the identity matrix in place of a CSV path.
const IdentitySource = "identity"

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	for j, c := range t.Columns {
		if c == name {
			return mat.Col(nil, j, t.Data), nil
		}
	}
	return nil, fmt.Errorf("column %q not found (have %s)", name, strings.Join(t.Columns, ", "))
}

// BuildDataset forms y and X from the table and pairs them with the
// relationship matrices. It also returns the name of every column of X.
func BuildDataset(t *Table, spec FitSpec, mats []relmat.Matrix) (*model.Dataset, []string, error) {
	if t == nil || t.Data == nil {
		return nil, nil, fmt.Errorf("table not provided")
	}
	y, err := t.Column(spec.Response)
	if err != nil {
		return nil, nil, err
	}
	n := len(y)

	var names []string
	if spec.Intercept {
		names = append(names, "(Intercept)")
	}
	names = append(names, spec.Covariates...)
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("model has no fixed effects")
	}

	// Fill X column by column: [1, x_1, ..., x_k]
	X := mat.NewDense(n, len(names), nil)
	col := 0
	if spec.Intercept {
		for i := 0; i < n; i++ {
			X.Set(i, col, 1.0)
		}
		col++
	}
	for _, c := range spec.Covariates {
		if c == spec.Response {
			return nil, nil, fmt.Errorf("response %q used as a covariate", c)
		}
		v, err := t.Column(c)
		if err != nil {
			return nil, nil, err
		}
		X.SetCol(col, v)
		col++
	}

	data, err := model.NewDataset(mat.NewVecDense(n, y), X, mats...)
	if err != nil {
		return nil, nil, err
	}
	return data, names, nil
}

// LoadComponents resolves every source to a relationship matrix of size n.
// A name already taken by an earlier component gets its 1-based position
// appended.
func LoadComponents(sources []string, n int) ([]Component, []relmat.Matrix, error) {
	comps := make([]Component, len(sources))
	mats := make([]relmat.Matrix, len(sources))
	seen := make(map[string]bool, len(sources))
	for i, src := range sources {
		name := componentName(src, i)
		if seen[name] {
			name = fmt.Sprintf("%s%d", name, i+1)
		}
		seen[name] = true
		comps[i] = Component{Source: src, Name: name}
		if src == IdentitySource {
			mats[i] = relmat.Identity(n)
			continue
		}
		m, err := LoadRelationshipMatrix(src)
		if err != nil {
			return nil, nil, err
		}
		mats[i] = m
	}
	return comps, mats, nil
}

func componentName(src string, i int) string {
	if src == IdentitySource {
		return "residual"
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if base == "" || base == "." {
		return fmt.Sprintf("component%d", i+1)
	}
	return base
}

// Summarize collects the reportable results of a fit.
func Summarize(m *model.Model, method string, fixedNames []string, comps []Component) *FitSummary {
	s := &FitSummary{
		Method:        method,
		Status:        m.Status().String(),
		Converged:     m.Converged(),
		Iterations:    m.Iterations(),
		Evaluations:   m.Evaluations(),
		NumObs:        m.NumObs(),
		NumFixed:      m.NumFixed(),
		NumComponents: m.NumComponents(),
		LogLik:        m.LogLik(),
		Deviance:      m.Deviance(),
		AIC:           m.AIC(),
		BIC:           m.BIC(),
	}
	for i, b := range m.Beta() {
		s.Fixed = append(s.Fixed, Estimate{Name: fixedNames[i], Value: b})
	}
	theta := m.Theta()
	for i, d := range m.Delta() {
		th := theta[i]
		s.Components = append(s.Components, Estimate{Name: comps[i].Name, Value: d, Theta: &th})
	}
	return s
}
