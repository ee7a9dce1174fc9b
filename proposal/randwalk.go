package proposal

import (
	"fmt"
	"time"

	smc "github.com/milosgajdos/go-smc"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

var _ smc.RandProposal = (*RandomWalk)(nil)

// RandomWalk is Gaussian random walk proposal: it moves particle x to x + e
// where e is drawn from zero mean Gaussian with fixed covariance.
// LogProb is safe for concurrent use, Rand is not.
type RandomWalk struct {
	// step is distribution of random walk steps
	step *distmv.Normal
	// cov is step covariance
	cov *mat.SymDense
	// chol is Cholesky factorization of cov
	chol *mat.Cholesky
}

// NewRandomWalk creates new Gaussian random walk with step covariance cov and returns it.
// Random steps are drawn from src; if src is nil, a time seeded source is used.
// It returns error if cov is not positive definite.
func NewRandomWalk(cov mat.Symmetric, src rand.Source) (*RandomWalk, error) {
	if cov == nil {
		return nil, fmt.Errorf("%w: nil step covariance", smc.ErrDimMismatch)
	}

	size, _ := cov.Dims()
	if size == 0 {
		return nil, fmt.Errorf("%w: empty step covariance", smc.ErrDimMismatch)
	}

	c := mat.NewSymDense(size, nil)
	c.CopySym(cov)

	chol := &mat.Cholesky{}
	if ok := chol.Factorize(c); !ok {
		return nil, fmt.Errorf("%w: random walk step covariance", smc.ErrSingularCov)
	}

	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}

	return &RandomWalk{
		step: distmv.NewNormalChol(make([]float64, size), chol, src),
		cov:  c,
		chol: chol,
	}, nil
}

// NewIsotropic creates new random walk in dim dimensions whose steps
// have independent components with variance scale*scale.
func NewIsotropic(dim int, scale float64, src rand.Source) (*RandomWalk, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", smc.ErrDimMismatch, dim)
	}

	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		cov.SetSym(i, i, scale*scale)
	}

	return NewRandomWalk(cov, src)
}

// Dim returns random walk dimension.
func (w *RandomWalk) Dim() int {
	return w.step.Dim()
}

// Rand moves cond by a random step and returns the new position.
func (w *RandomWalk) Rand(cond mat.Vector) *mat.VecDense {
	x := mat.NewVecDense(w.Dim(), w.step.Rand(nil))
	x.AddVec(x, cond)

	return x
}

// LogProb returns log density of moving from cond to x.
// It panics if either x or cond have invalid dimension.
func (w *RandomWalk) LogProb(x, cond mat.Vector) float64 {
	return distmv.NormalLogProb(vecData(x), vecData(cond), w.chol)
}

// Cov returns random walk step covariance.
func (w *RandomWalk) Cov() mat.Symmetric {
	cov := mat.NewSymDense(w.Dim(), nil)
	cov.CopySym(w.cov)

	return cov
}

// String implements the Stringer interface.
func (w *RandomWalk) String() string {
	return fmt.Sprintf("RandomWalk{\nCov=%v\n}", mat.Formatted(w.cov, mat.Prefix("    "), mat.Squeeze()))
}

func vecData(v mat.Vector) []float64 {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}

	return data
}
