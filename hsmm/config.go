// Package hsmm aligns utterances against a label sequence with an explicit
// duration hidden semi-Markov model search.
package hsmm

import "github.com/sirupsen/logrus"

// Config holds lattice search parameters.
type Config struct {
	Beam         int     // tokens kept per frame, 0 disables pruning
	DurWeight    float64 // scale applied to duration log-likelihoods
	PruneByLabel bool    // restrict each state to its label's time span
	StateLevel   bool    // emit one interval per state rather than per unit
}

// DefaultConfig returns the search parameters used when none are given.
func DefaultConfig() Config {
	return Config{
		Beam:      0,
		DurWeight: 1.0,
	}
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithLogger sets the logger used for per-utterance warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Aligner) {
		a.log = l
	}
}
