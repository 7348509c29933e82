// Package divergence converts token log-probability sequences into
// normalized probability distributions and measures the directed divergence
// between them. No oracle calls are made here.
package divergence

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerate is returned when a log-probability sequence cannot be
// normalized into a distribution: the input is empty, or a non-positive
// epsilon left the total mass at exactly zero.
var ErrDegenerate = errors.New("divergence: degenerate distribution")

// DefaultEpsilon is the smoothing constant added to every probability before
// renormalization so that no element is exactly zero.
const DefaultEpsilon = 1e-10

// ToDistribution exponentiates each log probability, adds epsilon to every
// element, and renormalizes so the result sums to 1. With epsilon > 0 every
// element of the result is strictly positive.
func ToDistribution(logProbs []float64, epsilon float64) ([]float64, error) {
	if len(logProbs) == 0 {
		return nil, ErrDegenerate
	}
	probs := make([]float64, len(logProbs))
	total := 0.0
	for i, lp := range logProbs {
		probs[i] = math.Exp(lp) + epsilon
		total += probs[i]
	}
	if total == 0 {
		return nil, ErrDegenerate
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs, nil
}

// KL computes the directed relative entropy KL(p || q), treating p as the
// reference distribution and q as the approximation:
//
//	sum over i of p_i * log(p_i / q_i)
//
// Both inputs are log-probability sequences and must be equal length; the
// caller owns that precondition and a mismatch is reported as an error, not
// repaired. After epsilon smoothing both distributions are strictly
// positive, so the sum is finite, non-negative, and zero iff the smoothed
// distributions are identical.
func KL(pLogProbs, qLogProbs []float64, epsilon float64) (float64, error) {
	if len(pLogProbs) != len(qLogProbs) {
		return 0, fmt.Errorf("divergence: length mismatch: %d vs %d", len(pLogProbs), len(qLogProbs))
	}
	p, err := ToDistribution(pLogProbs, epsilon)
	if err != nil {
		return 0, err
	}
	q, err := ToDistribution(qLogProbs, epsilon)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := range p {
		sum += p[i] * math.Log(p[i]/q[i])
	}
	if sum < 0 {
		// Floating error on near-identical inputs can land fractionally
		// below zero.
		return 0, nil
	}
	return sum, nil
}
