package weight

import (
	"fmt"
	"math"
	"sync"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/kernel"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Config is weight Updater configuration
type Config struct {
	// Proposal is forward proposal kernel used to move the particles
	Proposal smc.Proposal
	// Workers is the number of goroutines evaluating particle weights.
	// Non-positive value means a single worker.
	Workers int
	// Logger logs non-finite weights. If nil, nothing is logged.
	Logger *zap.Logger
}

// Result is the result of a weight update
type Result struct {
	// LogW stores new unnormalized log-weights in particle order
	LogW []float64
	// Kernel is the L-kernel used to compute LogW
	Kernel smc.Kernel
	// NonFinite stores indices of particles whose new log-weight is not finite
	NonFinite []int
}

// Updater updates particle importance weights using an approximately optimal L-kernel.
// Updater holds no state between updates and is safe for concurrent use
// as long as its proposal is.
type Updater struct {
	// q is forward proposal
	q smc.Proposal
	// workers is the number of weight evaluating goroutines
	workers int
	// log is updater logger
	log *zap.Logger
}

// New creates new weight Updater with config c and returns it.
// It returns error if c does not specify a forward proposal.
func New(c *Config) (*Updater, error) {
	if c == nil || c.Proposal == nil {
		return nil, fmt.Errorf("invalid config: missing forward proposal")
	}

	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}

	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Updater{
		q:       c.Proposal,
		workers: workers,
		log:     log,
	}, nil
}

// Update computes new log-weights of particles moved from x to xNew.
// Particles are stored in rows of x and xNew. logw are the current log-weights,
// pX and pXNew are target log densities evaluated at x and xNew, respectively.
// It derives a Gaussian approximation of the optimal L-kernel from x and xNew
// and uses it to compute the new weights, see Apply.
// It returns error if the input dimensions disagree, if the L-kernel can't be derived
// or if none of the new weights is finite.
func (u *Updater) Update(x, xNew mat.Matrix, logw, pX, pXNew []float64) (*Result, error) {
	if err := checkDims(x, xNew, logw, pX, pXNew); err != nil {
		return nil, err
	}

	_, d := x.Dims()
	if qd := u.q.Dim(); qd != d {
		return nil, fmt.Errorf("%w: proposal dimension %d, particle dimension %d", smc.ErrDimMismatch, qd, d)
	}

	l, err := kernel.FindOptL(x, xNew)
	if err != nil {
		return nil, fmt.Errorf("failed to find L-kernel: %w", err)
	}

	return u.apply(l, x, xNew, logw, pX, pXNew)
}

// Apply computes new log-weights using L-kernel l. For every particle i:
//
//	logwNew[i] = logw[i] + pXNew[i] - pX[i] + log L(x[i] | xNew[i]) - log q(xNew[i] | x[i])
//
// Non-finite weights are kept as they are and reported in Result.NonFinite.
// It returns error if the input dimensions disagree, if either l or the proposal
// don't match the particle dimension or if none of the new weights is finite.
func (u *Updater) Apply(l smc.Kernel, x, xNew mat.Matrix, logw, pX, pXNew []float64) (*Result, error) {
	if l == nil {
		return nil, fmt.Errorf("invalid L-kernel: nil")
	}

	if err := checkDims(x, xNew, logw, pX, pXNew); err != nil {
		return nil, err
	}

	_, d := x.Dims()
	if qd, ld := u.q.Dim(), l.Dim(); qd != d || ld != d {
		return nil, fmt.Errorf("%w: proposal dimension %d, L-kernel dimension %d, particle dimension %d",
			smc.ErrDimMismatch, qd, ld, d)
	}

	return u.apply(l, x, xNew, logw, pX, pXNew)
}

// apply evaluates the new log-weights. The inputs must have been validated.
func (u *Updater) apply(l smc.Kernel, x, xNew mat.Matrix, logw, pX, pXNew []float64) (*Result, error) {
	xr, xNewr := rowViewer(x), rowViewer(xNew)
	logwNew := make([]float64, len(logw))

	// each worker owns a contiguous chunk of particles
	n := len(logw)
	workers := u.workers
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for from := 0; from < n; from += size {
		to := from + size
		if to > n {
			to = n
		}

		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			for i := from; i < to; i++ {
				xi, xNewi := xr.RowView(i), xNewr.RowView(i)
				logwNew[i] = logw[i] + pXNew[i] - pX[i] + l.LogProb(xi, xNewi) - u.q.LogProb(xNewi, xi)
			}
		}(from, to)
	}
	wg.Wait()

	var nonFinite []int
	for i, w := range logwNew {
		if math.IsInf(w, 0) || math.IsNaN(w) {
			nonFinite = append(nonFinite, i)
		}
	}

	if len(nonFinite) > 0 {
		if len(nonFinite) == n {
			return nil, fmt.Errorf("%w: %d particles", smc.ErrNonFiniteWeights, n)
		}
		u.log.Warn("non-finite particle weights",
			zap.Int("count", len(nonFinite)),
			zap.Ints("particles", nonFinite))
	}

	return &Result{
		LogW:      logwNew,
		Kernel:    l,
		NonFinite: nonFinite,
	}, nil
}

func checkDims(x, xNew mat.Matrix, logw, pX, pXNew []float64) error {
	if x == nil || xNew == nil {
		return fmt.Errorf("%w: nil particles", smc.ErrDimMismatch)
	}

	n, d := x.Dims()
	nNew, dNew := xNew.Dims()
	if n != nNew || d != dNew {
		return fmt.Errorf("%w: x [%d x %d], xNew [%d x %d]", smc.ErrDimMismatch, n, d, nNew, dNew)
	}

	if n == 0 {
		return fmt.Errorf("%w: no particles", smc.ErrDimMismatch)
	}

	if len(logw) != n || len(pX) != n || len(pXNew) != n {
		return fmt.Errorf("%w: %d particles, logw %d, pX %d, pXNew %d",
			smc.ErrDimMismatch, n, len(logw), len(pX), len(pXNew))
	}

	return nil
}

func rowViewer(m mat.Matrix) mat.RowViewer {
	if rv, ok := m.(mat.RowViewer); ok {
		return rv
	}

	return mat.DenseCopyOf(m)
}
