package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config configures a sampler run
type Config struct {
	// Particles is the number of particles
	Particles int `toml:"particles"`
	// Iterations is the number of sampler iterations
	Iterations int `toml:"iterations"`
	// Workers is the number of weight update goroutines
	Workers int `toml:"workers,omitempty"`
	// Seed seeds the random number sources
	Seed uint64 `toml:"seed,omitempty"`
	// Threshold is the ESS fraction which triggers resampling
	Threshold float64 `toml:"ess_threshold,omitempty"`
	// StepScale is the standard deviation of random walk proposal steps
	StepScale float64 `toml:"step_scale"`
	// Target is the Gaussian target distribution
	Target Gaussian `toml:"target"`
	// Init is the Gaussian initial particle distribution
	Init Gaussian `toml:"init"`
	// PlotFile is the path of particle plot; no plot is saved if empty
	PlotFile string `toml:"plot_file,omitempty"`
}

// Gaussian is a multivariate Gaussian distribution
type Gaussian struct {
	// Mean is distribution mean
	Mean []float64 `toml:"mean"`
	// Cov is row-major covariance matrix
	Cov []float64 `toml:"cov"`
}

// Dim returns Gaussian dimension.
func (g Gaussian) Dim() int {
	return len(g.Mean)
}

// Load reads configuration from the file at path.
// It returns error if the file can't be read, decoded or if the configuration is invalid.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Decode(bytes.NewReader(raw))
}

// Decode decodes TOML configuration from r and validates it.
// Unknown configuration fields are rejected.
func Decode(r io.Reader) (*Config, error) {
	var c Config
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate checks the configuration is consistent.
func (c *Config) Validate() error {
	d := c.Target.Dim()
	if d == 0 {
		return fmt.Errorf("invalid target: empty mean")
	}

	for _, g := range []struct {
		name string
		Gaussian
	}{{"target", c.Target}, {"init", c.Init}} {
		if g.Dim() != d {
			return fmt.Errorf("invalid %s dimension: %d, expected: %d", g.name, g.Dim(), d)
		}
		if len(g.Cov) != d*d {
			return fmt.Errorf("invalid %s covariance size: %d, expected: %d", g.name, len(g.Cov), d*d)
		}
	}

	if c.Particles <= 2*d {
		return fmt.Errorf("invalid particle count: %d, need more than %d", c.Particles, 2*d)
	}

	if c.Iterations <= 0 {
		return fmt.Errorf("invalid iteration count: %d", c.Iterations)
	}

	if c.StepScale <= 0 {
		return fmt.Errorf("invalid step scale: %v", c.StepScale)
	}

	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("invalid ESS threshold: %v", c.Threshold)
	}

	return nil
}
