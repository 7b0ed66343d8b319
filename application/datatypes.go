package main

import (
	"gonum.org/v1/gonum/mat"
)

// Simple struct for tabular input data
type Table struct {
	// Matrix for data, one row per individual
	Data *mat.Dense
	// List of column names, in file order
	Columns []string
}

// What kind of model to fit
type FitSpec struct {
	// Name of the response column
	Response string
	// Names of the covariate columns, in design order
	Covariates []string
	// Prepend a column of ones to X?
	Intercept bool
}

// Component is one relationship matrix with the name it is reported under.
type Component struct {
	// Either "identity" or a CSV path
	Source string
	Name   string
}

// FitSummary is what the CLI reports after a fit. It is the record written
// by OutputFitToCSV and OutputFitToYAML.
type FitSummary struct {
	Method      string `yaml:"method"`
	Status      string `yaml:"status"`
	Converged   bool   `yaml:"converged"`
	Iterations  int    `yaml:"iterations"`
	Evaluations int    `yaml:"evaluations"`

	NumObs        int `yaml:"n"`
	NumFixed      int `yaml:"p"`
	NumComponents int `yaml:"q"`

	LogLik   float64 `yaml:"loglik"`
	Deviance float64 `yaml:"deviance"`
	AIC      float64 `yaml:"aic"`
	BIC      float64 `yaml:"bic"`

	Fixed      []Estimate `yaml:"fixed"`
	Components []Estimate `yaml:"components"`
}

// Estimate is one named coefficient. Theta is only set for variance
// components, where it is the optimizer parameter behind Value.
type Estimate struct {
	Name  string   `yaml:"name"`
	Value float64  `yaml:"value"`
	Theta *float64 `yaml:"theta,omitempty"`
}
