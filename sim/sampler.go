package sim

import (
	"fmt"
	"math"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/rand"
	"github.com/milosgajdos/go-smc/weight"
	"github.com/milosgajdos/matrix"
	"go.uber.org/zap"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// DefaultThreshold is the default fraction of particle count
// below which the effective sample size triggers resampling
const DefaultThreshold = 0.5

// Config is Sampler configuration
type Config struct {
	// Target is log density of the target distribution
	Target distmv.LogProber
	// Proposal moves particles between iterations
	Proposal smc.RandProposal
	// InitMean is the mean of initial particle distribution
	InitMean []float64
	// InitCov is the covariance of initial particle distribution
	InitCov mat.Symmetric
	// Particles is the number of particles
	Particles int
	// Iterations is the number of sampler iterations
	Iterations int
	// Workers is the number of goroutines used to update the weights
	Workers int
	// Threshold is the fraction of particle count below which particles are resampled.
	// Non-positive Threshold means DefaultThreshold.
	Threshold float64
	// Src is source of randomness for particle initialization and resampling
	Src xrand.Source
	// Logger is sampler logger. If nil, nothing is logged.
	Logger *zap.Logger
}

// Step is a record of a single sampler iteration
type Step struct {
	// LogW stores normalized log-weights of the particles before they were moved
	LogW []float64
	// ESS is effective sample size computed from LogW
	ESS float64
	// Mean is weighted mean of the particles
	Mean []float64
	// Cov is weighted covariance of the particles
	Cov *mat.SymDense
	// Resampled is true if the particles were resampled in this iteration
	Resampled bool
	// Kernel is L-kernel used to reweight the moved particles
	Kernel smc.Kernel
}

// Result is the result of a sampler run
type Result struct {
	// Steps stores iteration records
	Steps []Step
	// Particles stores final particles in rows
	Particles *mat.Dense
	// LogW stores final normalized log-weights
	LogW []float64
	// Spread is unweighted covariance of the final particles
	Spread mat.Symmetric
}

// Sampler is SMC sampler which targets a fixed distribution and reweights
// moved particles using Gaussian approximation of the optimal L-kernel.
// It resamples the particles whenever their effective sample size drops below threshold.
type Sampler struct {
	// p is target distribution
	p distmv.LogProber
	// q is forward proposal
	q smc.RandProposal
	// q0 is initial particle distribution
	q0 *distmv.Normal
	// mean0 is initial particle mean
	mean0 []float64
	// cov0 is initial particle covariance
	cov0 *mat.SymDense
	// u updates particle weights
	u *weight.Updater
	// n is particle count
	n int
	// k is iteration count
	k int
	// threshold is resampling threshold
	threshold float64
	// src is source of randomness
	src xrand.Source
	// log is sampler logger
	log *zap.Logger
}

// New creates new Sampler with config c and returns it.
// It returns error if the configuration is invalid.
func New(c *Config) (*Sampler, error) {
	if c == nil {
		return nil, fmt.Errorf("invalid config: nil")
	}

	if c.Target == nil || c.Proposal == nil {
		return nil, fmt.Errorf("invalid config: missing target or proposal")
	}

	if c.InitCov == nil {
		return nil, fmt.Errorf("invalid config: missing initial covariance")
	}

	d, _ := c.InitCov.Dims()
	if d == 0 || d != len(c.InitMean) {
		return nil, fmt.Errorf("%w: initial mean %d, initial cov [%d x %d]", smc.ErrDimMismatch, len(c.InitMean), d, d)
	}

	if qd := c.Proposal.Dim(); qd != d {
		return nil, fmt.Errorf("%w: proposal dimension %d, initial mean %d", smc.ErrDimMismatch, qd, d)
	}

	if c.Particles <= 2*d {
		return nil, fmt.Errorf("invalid particle count: %d, need more than %d", c.Particles, 2*d)
	}

	if c.Iterations < 0 {
		return nil, fmt.Errorf("invalid iteration count: %d", c.Iterations)
	}

	q0, ok := distmv.NewNormal(c.InitMean, c.InitCov, c.Src)
	if !ok {
		return nil, fmt.Errorf("%w: initial covariance", smc.ErrSingularCov)
	}

	mean0 := make([]float64, d)
	copy(mean0, c.InitMean)

	cov0 := mat.NewSymDense(d, nil)
	cov0.CopySym(c.InitCov)

	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	u, err := weight.New(&weight.Config{
		Proposal: c.Proposal,
		Workers:  c.Workers,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weight updater: %w", err)
	}

	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Sampler{
		p:         c.Target,
		q:         c.Proposal,
		q0:        q0,
		mean0:     mean0,
		cov0:      cov0,
		u:         u,
		n:         c.Particles,
		k:         c.Iterations,
		threshold: threshold,
		src:       c.Src,
		log:       log,
	}, nil
}

// Run runs the sampler and returns the result.
// It returns error if any iteration fails to update the particle weights.
func (s *Sampler) Run() (*Result, error) {
	x, err := rand.WithMeanCovN(s.mean0, s.cov0, s.n, s.src)
	if err != nil {
		return nil, fmt.Errorf("failed to draw initial particles: %w", err)
	}

	_, d := x.Dims()

	// initial importance weights: p(x) / q0(x)
	pX := make([]float64, s.n)
	logw := make([]float64, s.n)
	for i := range logw {
		pX[i] = s.p.LogProb(x.RawRowView(i))
		logw[i] = pX[i] - s.q0.LogProb(x.RawRowView(i))
	}

	steps := make([]Step, 0, s.k)
	for k := 0; k < s.k; k++ {
		lw, err := Normalize(logw)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", k, err)
		}

		step := Step{
			LogW: lw,
			ESS:  ESS(lw),
		}
		step.Mean, step.Cov = estimate(x, lw)
		logw = lw

		if step.ESS < s.threshold*float64(s.n) {
			x, pX, err = s.resample(x, pX, lw)
			if err != nil {
				return nil, fmt.Errorf("iteration %d: %w", k, err)
			}
			logw = make([]float64, s.n)
			for i := range logw {
				logw[i] = -math.Log(float64(s.n))
			}
			step.Resampled = true
		}

		xNew := mat.NewDense(s.n, d, nil)
		pXNew := make([]float64, s.n)
		for i := 0; i < s.n; i++ {
			xNew.SetRow(i, s.q.Rand(x.RowView(i)).RawVector().Data)
			pXNew[i] = s.p.LogProb(xNew.RawRowView(i))
		}

		res, err := s.u.Update(x, xNew, logw, pX, pXNew)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", k, err)
		}
		step.Kernel = res.Kernel

		s.log.Debug("sampler iteration",
			zap.Int("iteration", k),
			zap.Float64("ess", step.ESS),
			zap.Bool("resampled", step.Resampled),
			zap.Float64s("mean", step.Mean))

		steps = append(steps, step)
		x, pX, logw = xNew, pXNew, res.LogW
	}

	lw, err := Normalize(logw)
	if err != nil {
		return nil, err
	}

	// particles are stored in columns for spread calculation
	spread, err := matrix.Cov(mat.DenseCopyOf(x.T()), "cols")
	if err != nil {
		return nil, fmt.Errorf("failed to calculate particle spread: %w", err)
	}

	return &Result{
		Steps:     steps,
		Particles: x,
		LogW:      lw,
		Spread:    spread,
	}, nil
}

// resample draws new particles from x with probabilities given by normalized log-weights lw.
func (s *Sampler) resample(x *mat.Dense, pX, lw []float64) (*mat.Dense, []float64, error) {
	w := make([]float64, len(lw))
	for i := range w {
		w[i] = math.Exp(lw[i])
	}

	indices, err := rand.RouletteDrawN(w, s.n, s.src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resample particles: %w", err)
	}

	_, d := x.Dims()
	xRes := mat.NewDense(s.n, d, nil)
	pXRes := make([]float64, s.n)
	for i, idx := range indices {
		xRes.SetRow(i, x.RawRowView(idx))
		pXRes[i] = pX[idx]
	}

	s.log.Debug("resampled particles", zap.Int("particles", s.n))

	return xRes, pXRes, nil
}

// estimate returns weighted mean and covariance of particles x given normalized log-weights lw.
func estimate(x *mat.Dense, lw []float64) ([]float64, *mat.SymDense) {
	n, d := x.Dims()

	// weights sum up to n so the covariance is normalized by n-1
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Exp(lw[i]) * float64(n)
	}

	mean := make([]float64, d)
	col := make([]float64, n)
	for c := range mean {
		mean[c] = stat.Mean(mat.Col(col, c, x), w)
	}

	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, x, w)

	return mean, cov
}

// Normalize normalizes log-weights logw so that their exponentials sum up to 1.
// NaN weights are treated as zero weights.
// It returns error if none of the weights is positive.
func Normalize(logw []float64) ([]float64, error) {
	valid := make([]float64, 0, len(logw))
	for _, w := range logw {
		if !math.IsNaN(w) && !math.IsInf(w, -1) {
			valid = append(valid, w)
		}
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: %d particles", smc.ErrNonFiniteWeights, len(logw))
	}

	lse := floats.LogSumExp(valid)
	if math.IsInf(lse, 0) || math.IsNaN(lse) {
		return nil, fmt.Errorf("%w: log-sum-exp %v", smc.ErrNonFiniteWeights, lse)
	}

	lw := make([]float64, len(logw))
	for i, w := range logw {
		if math.IsNaN(w) {
			lw[i] = math.Inf(-1)
			continue
		}
		lw[i] = w - lse
	}

	return lw, nil
}

// ESS returns effective sample size of normalized log-weights lw.
func ESS(lw []float64) float64 {
	var sum float64
	for _, w := range lw {
		sum += math.Exp(2 * w)
	}

	return 1 / sum
}
