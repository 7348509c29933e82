package divergence

import (
	"errors"
	"math"
	"testing"
)

func TestToDistribution_SumsToOne(t *testing.T) {
	cases := [][]float64{
		{-0.1, -0.2},
		{-1.0, -1.5, -2.0},
		{0, 0, 0, 0},
		{-30, -0.001},
	}
	for _, logProbs := range cases {
		probs, err := ToDistribution(logProbs, DefaultEpsilon)
		if err != nil {
			t.Fatalf("ToDistribution(%v): %v", logProbs, err)
		}
		if len(probs) != len(logProbs) {
			t.Fatalf("length: got %d, want %d", len(probs), len(logProbs))
		}
		sum := 0.0
		for _, p := range probs {
			if p <= 0 {
				t.Errorf("element %v not strictly positive for input %v", p, logProbs)
			}
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("sum: got %v, want 1 for input %v", sum, logProbs)
		}
	}
}

func TestToDistribution_EmptyInput(t *testing.T) {
	_, err := ToDistribution(nil, DefaultEpsilon)
	if !errors.Is(err, ErrDegenerate) {
		t.Errorf("expected ErrDegenerate for empty input, got %v", err)
	}
}

func TestToDistribution_ZeroMass(t *testing.T) {
	// exp(-inf) is 0; with epsilon 0 the total stays at zero.
	negInf := math.Inf(-1)
	_, err := ToDistribution([]float64{negInf, negInf}, 0)
	if !errors.Is(err, ErrDegenerate) {
		t.Errorf("expected ErrDegenerate for zero mass, got %v", err)
	}
}

func TestKL_SelfComparisonIsZero(t *testing.T) {
	cases := [][]float64{
		{-0.1, -0.2},
		{-1.0, -1.5},
		{-0.5, -0.5, -0.5},
	}
	for _, p := range cases {
		d, err := KL(p, p, DefaultEpsilon)
		if err != nil {
			t.Fatalf("KL(%v, %v): %v", p, p, err)
		}
		if d > 1e-9 {
			t.Errorf("KL(p, p): got %v, want ~0 for %v", d, p)
		}
	}
}

func TestKL_NonNegativeAndAsymmetric(t *testing.T) {
	p := []float64{-0.1, -0.2, -2.5}
	q := []float64{-1.0, -1.5, -0.05}

	pq, err := KL(p, q, DefaultEpsilon)
	if err != nil {
		t.Fatalf("KL(p, q): %v", err)
	}
	qp, err := KL(q, p, DefaultEpsilon)
	if err != nil {
		t.Fatalf("KL(q, p): %v", err)
	}
	if pq < 0 || qp < 0 {
		t.Errorf("divergence must be non-negative: got %v and %v", pq, qp)
	}
	if pq == 0 {
		t.Error("expected positive divergence for distinct distributions")
	}
	if pq == qp {
		t.Errorf("expected asymmetry: KL(p,q)=%v equals KL(q,p)=%v", pq, qp)
	}
}

func TestKL_LengthMismatch(t *testing.T) {
	_, err := KL([]float64{-0.1, -0.2}, []float64{-0.1}, DefaultEpsilon)
	if err == nil {
		t.Error("expected error for mismatched lengths")
	}
}
