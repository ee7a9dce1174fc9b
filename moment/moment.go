package moment

import (
	"fmt"

	smc "github.com/milosgajdos/go-smc"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Joint stores the mean and covariance of the joint distribution of
// old particles x and new particles xNew i.e. of the concatenated vector [x, xNew].
// Both moments have size 2*Dim(): the first Dim() elements belong to x,
// the remaining Dim() elements belong to xNew.
type Joint struct {
	// dim is particle dimension
	dim int
	// mean is joint mean
	mean *mat.VecDense
	// cov is joint covariance
	cov *mat.SymDense
}

// Estimate estimates the empirical moments of the joint distribution of particles x and xNew.
// Both x and xNew must be N x D matrices which store particles in their rows: row i of x
// and row i of xNew hold the old and the new position of the same particle.
// The covariance is the unbiased sample covariance i.e. it's normalized by N-1.
// It returns smc.ErrDimMismatch if x and xNew have different shapes and smc.ErrSingularCov
// if there are not more than 2*D particles, in which case the joint covariance is rank deficient.
func Estimate(x, xNew mat.Matrix) (*Joint, error) {
	if x == nil || xNew == nil {
		return nil, fmt.Errorf("%w: nil particles", smc.ErrDimMismatch)
	}

	n, d := x.Dims()
	nNew, dNew := xNew.Dims()
	if n != nNew || d != dNew {
		return nil, fmt.Errorf("%w: x [%d x %d], xNew [%d x %d]", smc.ErrDimMismatch, n, d, nNew, dNew)
	}

	if d == 0 {
		return nil, fmt.Errorf("%w: zero particle dimension", smc.ErrDimMismatch)
	}

	if n <= 2*d {
		return nil, fmt.Errorf("%w: %d particles for %d joint dimensions", smc.ErrSingularCov, n, 2*d)
	}

	// X = [x, xNew]
	X := mat.NewDense(n, 2*d, nil)
	X.Slice(0, n, 0, d).(*mat.Dense).Copy(x)
	X.Slice(0, n, d, 2*d).(*mat.Dense).Copy(xNew)

	mean := mat.NewVecDense(2*d, nil)
	col := make([]float64, n)
	for c := 0; c < 2*d; c++ {
		mean.SetVec(c, stat.Mean(mat.Col(col, c, X), nil))
	}

	cov := mat.NewSymDense(2*d, nil)
	stat.CovarianceMatrix(cov, X, nil)

	return &Joint{
		dim:  d,
		mean: mean,
		cov:  cov,
	}, nil
}

// NewJoint creates joint moments from known mean and covariance and returns it.
// The length of mean must be even and match the size of cov.
// It returns smc.ErrDimMismatch if the dimensions are invalid.
func NewJoint(mean []float64, cov mat.Symmetric) (*Joint, error) {
	if cov == nil {
		return nil, fmt.Errorf("%w: nil covariance", smc.ErrDimMismatch)
	}

	size, _ := cov.Dims()
	if len(mean) == 0 || len(mean)%2 != 0 || len(mean) != size {
		return nil, fmt.Errorf("%w: mean %d, cov [%d x %d]", smc.ErrDimMismatch, len(mean), size, size)
	}

	m := make([]float64, len(mean))
	copy(m, mean)

	c := mat.NewSymDense(size, nil)
	c.CopySym(cov)

	return &Joint{
		dim:  size / 2,
		mean: mat.NewVecDense(size, m),
		cov:  c,
	}, nil
}

// Dim returns particle dimension D.
func (j *Joint) Dim() int {
	return j.dim
}

// Mean returns the joint mean vector of length 2*D.
func (j *Joint) Mean() mat.Vector {
	m := &mat.VecDense{}
	m.CloneFromVec(j.mean)

	return m
}

// Cov returns the joint 2*D x 2*D covariance matrix.
func (j *Joint) Cov() mat.Symmetric {
	size, _ := j.cov.Dims()
	cov := mat.NewSymDense(size, nil)
	cov.CopySym(j.cov)

	return cov
}

// MeanX returns the mean of x.
func (j *Joint) MeanX() *mat.VecDense {
	return j.meanBlock(0)
}

// MeanXNew returns the mean of xNew.
func (j *Joint) MeanXNew() *mat.VecDense {
	return j.meanBlock(j.dim)
}

// CovXX returns the covariance of x.
func (j *Joint) CovXX() *mat.SymDense {
	cov := mat.NewSymDense(j.dim, nil)
	cov.CopySym(j.cov.SliceSym(0, j.dim))

	return cov
}

// CovXXNew returns the cross-covariance of x and xNew.
func (j *Joint) CovXXNew() *mat.Dense {
	return j.covBlock(0, j.dim)
}

// CovXNewX returns the cross-covariance of xNew and x.
// It is always the transpose of CovXXNew.
func (j *Joint) CovXNewX() *mat.Dense {
	return j.covBlock(j.dim, 0)
}

// CovXNewXNew returns the covariance of xNew.
func (j *Joint) CovXNewXNew() *mat.SymDense {
	cov := mat.NewSymDense(j.dim, nil)
	cov.CopySym(j.cov.SliceSym(j.dim, 2*j.dim))

	return cov
}

func (j *Joint) meanBlock(from int) *mat.VecDense {
	m := mat.NewVecDense(j.dim, nil)
	m.CopyVec(j.mean.SliceVec(from, from+j.dim))

	return m
}

// covBlock copies D x D block of joint covariance starting at [r, c]
func (j *Joint) covBlock(r, c int) *mat.Dense {
	b := mat.NewDense(j.dim, j.dim, nil)
	for i := 0; i < j.dim; i++ {
		for k := 0; k < j.dim; k++ {
			b.Set(i, k, j.cov.At(r+i, c+k))
		}
	}

	return b
}
