package smc

import "gonum.org/v1/gonum/mat"

// Proposal is a forward proposal kernel which moves particles
// from one sampler iteration to the next one
type Proposal interface {
	// Dim returns the dimension of particles the proposal moves
	Dim() int
	// LogProb returns log density of x conditioned on cond i.e. log q(x | cond)
	LogProb(x, cond mat.Vector) float64
}

// RandProposal is a forward proposal which can also draw new particles
type RandProposal interface {
	// Proposal evaluates the proposal density
	Proposal
	// Rand draws a new particle conditioned on cond
	Rand(cond mat.Vector) *mat.VecDense
}

// Kernel is a backward transition kernel a.k.a. L-kernel
type Kernel interface {
	// Dim returns the dimension of particles the kernel is defined over
	Dim() int
	// LogProb returns log density of x conditioned on cond i.e. log L(x | cond)
	LogProb(x, cond mat.Vector) float64
}
