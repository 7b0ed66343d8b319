// Package config loads optimizer settings for a fit.
//
// Sources, highest priority first:
//
//  1. command-line flags that were set explicitly
//  2. GREML_* environment variables (GREML_MAX_ITERATIONS, ...)
//  3. a YAML config file
//  4. defaults
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/espenmei/gremlmodels/optim"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GREML"

// Keys, shared by the YAML file, the environment and the flags.
const (
	KeyMethod        = "method"
	KeyMaxIterations = "max-iterations"
	KeyFuncTol       = "func-tol"
	KeyParamTol      = "param-tol"
	KeyGradTol       = "grad-tol"
	KeyFDStep        = "fd-step"
	KeyInitialStep   = "initial-step"
)

// FitConfig holds optimizer settings for one fit.
type FitConfig struct {
	// Method is "bfgs" (default) or "nelder-mead".
	Method string `yaml:"method" mapstructure:"method"`

	MaxIterations int     `yaml:"max-iterations" mapstructure:"max-iterations"`
	FuncTol       float64 `yaml:"func-tol" mapstructure:"func-tol"`
	ParamTol      float64 `yaml:"param-tol" mapstructure:"param-tol"`
	GradTol       float64 `yaml:"grad-tol" mapstructure:"grad-tol"`

	// FDStep is the forward-difference step, only used when the transform
	// has no analytic Jacobian.
	FDStep float64 `yaml:"fd-step" mapstructure:"fd-step"`

	// InitialStep caps the ∞-norm of the first trial step.
	InitialStep float64 `yaml:"initial-step" mapstructure:"initial-step"`
}

// Default mirrors optim.DefaultSettings.
func Default() FitConfig {
	s := optim.DefaultSettings()
	return FitConfig{
		Method:        s.Method.String(),
		MaxIterations: s.MaxIterations,
		FuncTol:       s.FuncTol,
		ParamTol:      s.ParamTol,
		GradTol:       s.GradTol,
		FDStep:        s.FDStep,
		InitialStep:   s.InitialStep,
	}
}

// Validate checks for invalid configuration values.
func (c FitConfig) Validate() error {
	var errs []error
	if _, err := optim.ParseMethod(c.Method); err != nil {
		errs = append(errs, err)
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max-iterations must be > 0, got %d", c.MaxIterations))
	}
	for name, v := range map[string]float64{
		KeyFuncTol:     c.FuncTol,
		KeyParamTol:    c.ParamTol,
		KeyGradTol:     c.GradTol,
		KeyFDStep:      c.FDStep,
		KeyInitialStep: c.InitialStep,
	} {
		if !(v > 0) {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %g", name, v))
		}
	}
	return errors.Join(errs...)
}

// ToSettings converts a validated config into optimizer settings.
func (c FitConfig) ToSettings(logger *zap.Logger) (*optim.Settings, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m, _ := optim.ParseMethod(c.Method)
	return &optim.Settings{
		Method:        m,
		MaxIterations: c.MaxIterations,
		FuncTol:       c.FuncTol,
		ParamTol:      c.ParamTol,
		GradTol:       c.GradTol,
		FDStep:        c.FDStep,
		InitialStep:   c.InitialStep,
		Logger:        logger,
	}, nil
}

// RegisterFlags adds one flag per key to fs, defaulting to Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyMethod, d.Method, "optimizer: bfgs or nelder-mead")
	fs.Int(KeyMaxIterations, d.MaxIterations, "optimizer iteration cap")
	fs.Float64(KeyFuncTol, d.FuncTol, "relative objective-change tolerance")
	fs.Float64(KeyParamTol, d.ParamTol, "relative step tolerance")
	fs.Float64(KeyGradTol, d.GradTol, "projected-gradient tolerance")
	fs.Float64(KeyFDStep, d.FDStep, "finite-difference step")
	fs.Float64(KeyInitialStep, d.InitialStep, "largest first trial step")
}

// Load reads the config file at path (optional) and merges the environment
// and flags over it. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (FitConfig, error) {
	v := viper.New()
	d := Default()
	v.SetDefault(KeyMethod, d.Method)
	v.SetDefault(KeyMaxIterations, d.MaxIterations)
	v.SetDefault(KeyFuncTol, d.FuncTol)
	v.SetDefault(KeyParamTol, d.ParamTol)
	v.SetDefault(KeyGradTol, d.GradTol)
	v.SetDefault(KeyFDStep, d.FDStep)
	v.SetDefault(KeyInitialStep, d.InitialStep)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return FitConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for _, key := range []string{KeyMethod, KeyMaxIterations, KeyFuncTol, KeyParamTol, KeyGradTol, KeyFDStep, KeyInitialStep} {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return FitConfig{}, err
				}
			}
		}
	}

	var cfg FitConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return FitConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return FitConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
