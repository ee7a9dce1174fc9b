package rand

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// WithCovN draws n random samples from a zero-mean Normal (aka Gaussian) distribution with covariance cov.
// It returns n x D matrix which contains the randomly generated samples stored in its rows.
// Random numbers are drawn from src; if src is nil the global golang.org/x/exp/rand source is used.
// It fails with error if n is non-positive or if SVD factorization of cov fails.
func WithCovN(cov mat.Symmetric, n int, src rand.Source) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid number of samples requested: %d", n)
	}

	// Use SVD instead of Cholesky as Cholesky can be numerically unstable if cov is (almost) singular
	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	U := new(mat.Dense)
	svd.UTo(U)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	U.Mul(U, mat.NewDiagDense(len(vals), vals))

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	d, _ := cov.Dims()
	data := make([]float64, n*d)
	for i := range data {
		data[i] = norm.Rand()
	}

	// every row z of Z turns into z * (U * sqrt(S))^T
	samples := mat.NewDense(n, d, nil)
	samples.Mul(mat.NewDense(n, d, data), U.T())

	return samples, nil
}

// WithMeanCovN draws n random samples from Normal distribution with the given mean and covariance.
// It returns n x D matrix which contains the samples stored in its rows.
// It fails with error if the mean size does not match cov or if the samples fail to be generated.
func WithMeanCovN(mean []float64, cov mat.Symmetric, n int, src rand.Source) (*mat.Dense, error) {
	if d, _ := cov.Dims(); d != len(mean) {
		return nil, fmt.Errorf("invalid mean size: %d, expected: %d", len(mean), d)
	}

	samples, err := WithCovN(cov, n, src)
	if err != nil {
		return nil, err
	}

	for r := 0; r < n; r++ {
		floats.Add(samples.RawRowView(r), mean)
	}

	return samples, nil
}

// RouletteDrawN draws n numbers randomly from a probability mass function (PMF) defined by weights in p.
// RouletteDrawN implements the Roulette Wheel Draw a.k.a. Fitness Proportionate Selection:
// - https://en.wikipedia.org/wiki/Fitness_proportionate_selection
// - http://www.keithschwarz.com/darts-dice-coins/
// It returns a slice of n indices into p.
// It fails with error if p is empty or nil or if its weights don't sum up to a positive number.
func RouletteDrawN(p []float64, n int, src rand.Source) ([]int, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("invalid probability weights: %v", p)
	}

	// Initialization: create the discrete CDF
	// We know that cdf is sorted in ascending order
	cdf := make([]float64, len(p))
	floats.CumSum(cdf, p)

	total := cdf[len(cdf)-1]
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("invalid probability weights sum: %v", total)
	}

	// Generation:
	// 1. Generate a uniformly-random value x in the range [0,1)
	// 2. Using a binary search, find the index of the smallest element in cdf larger than x
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}
	indices := make([]int, n)
	for i := range indices {
		// multiply the sample with the largest CDF value; easier than normalizing to [0,1)
		val := unit.Rand() * total
		// Search returns the smallest index i such that cdf[i] > val
		idx := sort.Search(len(cdf), func(i int) bool { return cdf[i] > val })
		if idx == len(cdf) {
			idx--
		}
		indices[i] = idx
	}

	return indices, nil
}
