package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const valid = `
particles = 500
iterations = 20
workers = 4
seed = 42
ess_threshold = 0.5
step_scale = 0.5
plot_file = "particles.png"

[target]
mean = [3.0, -2.0]
cov = [1.0, 0.5, 0.5, 2.0]

[init]
mean = [0.0, 0.0]
cov = [9.0, 0.0, 0.0, 9.0]
`

func TestDecode(t *testing.T) {
	assert := assert.New(t)

	c, err := Decode(strings.NewReader(valid))
	assert.NoError(err)
	assert.NotNil(c)

	assert.Equal(500, c.Particles)
	assert.Equal(20, c.Iterations)
	assert.Equal(4, c.Workers)
	assert.Equal(uint64(42), c.Seed)
	assert.Equal(0.5, c.Threshold)
	assert.Equal(0.5, c.StepScale)
	assert.Equal("particles.png", c.PlotFile)
	assert.Equal([]float64{3, -2}, c.Target.Mean)
	assert.Equal([]float64{1, 0.5, 0.5, 2}, c.Target.Cov)
	assert.Equal(2, c.Init.Dim())
}

func TestDecodeInvalid(t *testing.T) {
	assert := assert.New(t)

	for _, test := range []struct {
		name string
		old  string
		new  string
	}{
		{"unknown field", "workers = 4", "threads = 4"},
		{"syntax", "workers = 4", "workers = "},
		{"particles", "particles = 500", "particles = 4"},
		{"iterations", "iterations = 20", "iterations = 0"},
		{"step scale", "step_scale = 0.5", "step_scale = -1.0"},
		{"threshold", "ess_threshold = 0.5", "ess_threshold = 1.5"},
		{"init mean", "mean = [0.0, 0.0]", "mean = [0.0]"},
		{"target cov", "cov = [1.0, 0.5, 0.5, 2.0]", "cov = [1.0, 0.5]"},
		{"target mean", "mean = [3.0, -2.0]", "mean = []"},
	} {
		c, err := Decode(strings.NewReader(strings.Replace(valid, test.old, test.new, 1)))
		assert.Nil(c, test.name)
		assert.Error(err, test.name)
	}
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	c, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Nil(c)
	assert.Error(err)

	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(os.WriteFile(path, []byte(valid), 0o600))

	c, err = Load(path)
	assert.NoError(err)
	assert.NotNil(c)
	assert.Equal(500, c.Particles)
}
