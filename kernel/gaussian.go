package kernel

import (
	"fmt"
	"math"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/moment"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

var _ smc.Kernel = (*Gaussian)(nil)

// degenerateTol is the relative variance below which a covariance
// is considered to be numerically singular. Rounding errors in the mean of
// particles collapsed onto a single point leave variances many orders
// of magnitude below it.
const degenerateTol = 1e-14

// Gaussian is a Gaussian approximation of the optimal L-kernel.
// It treats old and new particles as jointly Gaussian and uses the conditional
// distribution of x given xNew as the backward kernel:
//
//	mean(cond) = muX + CovXXNew * inv(CovXNewXNew) * (cond - muXNew)
//	cov        = CovXX - CovXXNew * inv(CovXNewXNew) * CovXNewX
//
// All parameters are derived once when the kernel is created.
// Gaussian is immutable and safe for concurrent use.
type Gaussian struct {
	// muX is mean of old particles
	muX *mat.VecDense
	// muXNew is mean of new particles
	muXNew *mat.VecDense
	// precNew is the inverse of new particles covariance
	precNew *mat.SymDense
	// gain maps deviation of cond from muXNew to the kernel mean
	gain *mat.Dense
	// cov is kernel covariance
	cov *mat.SymDense
	// chol is Cholesky factorization of cov
	chol *mat.Cholesky
}

// FindOptL estimates the joint moments of particles x and xNew and
// creates a Gaussian approximation of the optimal L-kernel from them.
// Particles are stored in the rows of x and xNew.
// It returns error if the moments can't be estimated or if the kernel can't be derived from them.
func FindOptL(x, xNew mat.Matrix) (*Gaussian, error) {
	j, err := moment.Estimate(x, xNew)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate joint moments: %w", err)
	}

	return NewGaussian(j)
}

// NewGaussian creates new Gaussian L-kernel from joint moments j and returns it.
// It returns smc.ErrSingularCov if either the covariance of new particles
// or the derived kernel covariance is not positive definite.
func NewGaussian(j *moment.Joint) (*Gaussian, error) {
	if j == nil {
		return nil, fmt.Errorf("%w: nil joint moments", smc.ErrDimMismatch)
	}

	d := j.Dim()

	covNew := j.CovXNewXNew()
	muXNew := j.MeanXNew()
	for i := 0; i < d; i++ {
		mu := muXNew.AtVec(i)
		if covNew.At(i, i) <= degenerateTol*math.Max(1, mu*mu) {
			return nil, fmt.Errorf("%w: new particles collapsed in dimension %d", smc.ErrSingularCov, i)
		}
	}

	var cholNew mat.Cholesky
	if ok := cholNew.Factorize(covNew); !ok {
		return nil, fmt.Errorf("%w: new particles covariance", smc.ErrSingularCov)
	}

	if cond := cholNew.Cond(); cond > 1/degenerateTol {
		return nil, fmt.Errorf("%w: new particles covariance condition number: %g", smc.ErrSingularCov, cond)
	}

	precNew := mat.NewSymDense(d, nil)
	if err := cholNew.InverseTo(precNew); err != nil {
		return nil, fmt.Errorf("%w: new particles covariance: %v", smc.ErrSingularCov, err)
	}

	gain := mat.NewDense(d, d, nil)
	gain.Mul(j.CovXXNew(), precNew)

	// Schur complement of CovXNewXNew in the joint covariance
	s := mat.NewDense(d, d, nil)
	s.Mul(gain, j.CovXNewX())

	covXX := j.CovXX()
	cov := mat.NewSymDense(d, nil)
	for r := 0; r < d; r++ {
		for c := r; c < d; c++ {
			// the product is symmetric up to rounding errors
			cov.SetSym(r, c, covXX.At(r, c)-0.5*(s.At(r, c)+s.At(c, r)))
		}
		if cov.At(r, r) <= degenerateTol*covXX.At(r, r) {
			return nil, fmt.Errorf("%w: L-kernel covariance collapsed in dimension %d", smc.ErrSingularCov, r)
		}
	}

	chol := &mat.Cholesky{}
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("%w: L-kernel covariance", smc.ErrSingularCov)
	}

	return &Gaussian{
		muX:     j.MeanX(),
		muXNew:  muXNew,
		precNew: precNew,
		gain:    gain,
		cov:     cov,
		chol:    chol,
	}, nil
}

// Dim returns kernel dimension.
func (g *Gaussian) Dim() int {
	return g.muX.Len()
}

// Mean returns the kernel mean conditioned on cond.
// It panics if cond has invalid dimension.
func (g *Gaussian) Mean(cond mat.Vector) *mat.VecDense {
	diff := mat.NewVecDense(g.Dim(), nil)
	diff.SubVec(cond, g.muXNew)

	mu := mat.NewVecDense(g.Dim(), nil)
	mu.MulVec(g.gain, diff)
	mu.AddVec(mu, g.muX)

	return mu
}

// Cov returns kernel covariance. It does not depend on the conditioning value.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.Dim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Gain returns the linear map from the conditioning value to the kernel mean.
func (g *Gaussian) Gain() mat.Matrix {
	return mat.DenseCopyOf(g.gain)
}

// Precision returns the inverse of new particles covariance.
func (g *Gaussian) Precision() mat.Symmetric {
	prec := mat.NewSymDense(g.Dim(), nil)
	prec.CopySym(g.precNew)

	return prec
}

// LogProb returns log density of x given cond i.e. log L(x | cond).
// It panics if either x or cond have invalid dimension.
func (g *Gaussian) LogProb(x, cond mat.Vector) float64 {
	mu := g.Mean(cond)
	return distmv.NormalLogProb(vecData(x), mu.RawVector().Data, g.chol)
}

// Rand draws a sample from the kernel conditioned on cond using randomness from src.
// If src is nil the global golang.org/x/exp/rand source is used.
func (g *Gaussian) Rand(cond mat.Vector, src rand.Source) *mat.VecDense {
	mu := g.Mean(cond)
	dist := distmv.NewNormalChol(mu.RawVector().Data, g.chol, src)
	sample := dist.Rand(nil)

	return mat.NewVecDense(len(sample), sample)
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nGain=%v\nCov=%v\n}",
		mat.Formatted(g.gain, mat.Prefix("     "), mat.Squeeze()),
		mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}

func vecData(v mat.Vector) []float64 {
	if vec, ok := v.(*mat.VecDense); ok {
		raw := vec.RawVector()
		if raw.Inc == 1 {
			return raw.Data[:vec.Len()]
		}
	}

	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}

	return data
}
