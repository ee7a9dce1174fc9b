package smc

import "errors"

var (
	// ErrSingularCov is returned when a covariance matrix is not positive definite.
	// It usually means there are too few particles for the particle dimension
	// or the particles have collapsed onto a single point.
	ErrSingularCov = errors.New("covariance is not positive definite")
	// ErrDimMismatch is returned when particle, weight or density dimensions disagree
	ErrDimMismatch = errors.New("dimension mismatch")
	// ErrNonFiniteWeights is returned when every updated log-weight is either -Inf, +Inf or NaN
	ErrNonFiniteWeights = errors.New("all weights are non-finite")
)
