package sim

import (
	"errors"
	"math"
	"testing"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/proposal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

func newConfig(t *testing.T) *Config {
	target, ok := distmv.NewNormal([]float64{1, -1}, mat.NewSymDense(2, []float64{1, 0.3, 0.3, 0.5}), nil)
	require.True(t, ok)

	q, err := proposal.NewIsotropic(2, 0.5, rand.NewSource(2))
	require.NoError(t, err)

	return &Config{
		Target:     target,
		Proposal:   q,
		InitMean:   []float64{0, 0},
		InitCov:    mat.NewSymDense(2, []float64{4, 0, 0, 4}),
		Particles:  1000,
		Iterations: 10,
		Workers:    4,
		Src:        rand.NewSource(1),
	}
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	s, err := New(nil)
	assert.Nil(s)
	assert.Error(err)

	c := newConfig(t)
	c.Target = nil
	s, err = New(c)
	assert.Nil(s)
	assert.Error(err)

	c = newConfig(t)
	c.InitMean = []float64{0}
	s, err = New(c)
	assert.Nil(s)
	assert.True(errors.Is(err, smc.ErrDimMismatch))

	c = newConfig(t)
	q3, err := proposal.NewIsotropic(3, 0.5, rand.NewSource(2))
	require.NoError(t, err)
	c.Proposal = q3
	s, err = New(c)
	assert.Nil(s)
	assert.True(errors.Is(err, smc.ErrDimMismatch))

	c = newConfig(t)
	c.Particles = 4
	s, err = New(c)
	assert.Nil(s)
	assert.Error(err)

	c = newConfig(t)
	c.Iterations = -1
	s, err = New(c)
	assert.Nil(s)
	assert.Error(err)

	c = newConfig(t)
	c.InitCov = mat.NewSymDense(2, []float64{1, 0, 0, 0})
	s, err = New(c)
	assert.Nil(s)
	assert.True(errors.Is(err, smc.ErrSingularCov))

	s, err = New(newConfig(t))
	assert.NotNil(s)
	assert.NoError(err)
	assert.Equal(DefaultThreshold, s.threshold)
}

func TestRun(t *testing.T) {
	assert := assert.New(t)

	c := newConfig(t)
	s, err := New(c)
	require.NoError(t, err)

	res, err := s.Run()
	require.NoError(t, err)

	assert.Len(res.Steps, c.Iterations)
	assert.Len(res.LogW, c.Particles)

	rows, cols := res.Particles.Dims()
	assert.Equal(c.Particles, rows)
	assert.Equal(2, cols)

	r, _ := res.Spread.Dims()
	assert.Equal(2, r)

	for _, step := range res.Steps {
		assert.Len(step.LogW, c.Particles)
		assert.NotNil(step.Kernel)
		assert.True(step.ESS > 0 && step.ESS <= float64(c.Particles)+1e-9)
		assert.InDelta(1.0, math.Exp(floats.LogSumExp(step.LogW)), 1e-9)
	}

	last := res.Steps[len(res.Steps)-1]
	assert.InDelta(1.0, last.Mean[0], 0.3)
	assert.InDelta(-1.0, last.Mean[1], 0.3)
	assert.InDelta(1.0, last.Cov.At(0, 0), 0.4)
	assert.InDelta(0.5, last.Cov.At(1, 1), 0.3)
}

func TestRunResample(t *testing.T) {
	assert := assert.New(t)

	// resample in every iteration
	c := newConfig(t)
	c.Threshold = 1.1
	s, err := New(c)
	require.NoError(t, err)

	res, err := s.Run()
	require.NoError(t, err)

	for _, step := range res.Steps {
		assert.True(step.Resampled)
	}
}

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	lw, err := Normalize([]float64{math.Log(1), math.Log(3), math.Inf(-1), math.NaN()})
	assert.NoError(err)
	assert.InDelta(math.Log(0.25), lw[0], 1e-12)
	assert.InDelta(math.Log(0.75), lw[1], 1e-12)
	assert.True(math.IsInf(lw[2], -1))
	assert.True(math.IsInf(lw[3], -1))

	lw, err = Normalize([]float64{math.Inf(-1), math.NaN()})
	assert.Nil(lw)
	assert.True(errors.Is(err, smc.ErrNonFiniteWeights))

	lw, err = Normalize([]float64{0, math.Inf(1)})
	assert.Nil(lw)
	assert.True(errors.Is(err, smc.ErrNonFiniteWeights))
}

func TestESS(t *testing.T) {
	assert := assert.New(t)

	n := 100
	lw := make([]float64, n)
	for i := range lw {
		lw[i] = -math.Log(float64(n))
	}
	assert.InDelta(float64(n), ESS(lw), 1e-9)

	// a single particle carries all the weight
	lw = []float64{0, math.Inf(-1), math.Inf(-1)}
	assert.InDelta(1.0, ESS(lw), 1e-12)
}
