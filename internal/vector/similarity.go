// Package vector provides similarity scoring and helpers for embedding vectors.
package vector

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch is returned when two compared vectors differ in length or are empty.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDegenerateVector is returned when a vector has zero norm or non-finite components.
	ErrDegenerateVector = errors.New("degenerate vector")
)

// Similarity returns the cosine similarity of a and b remapped from [-1,1] to [0,1]:
// (dot(a,b)/(|a|*|b|) + 1) / 2. The result is clamped to absorb rounding.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("%w: zero norm", ErrDegenerateVector)
	}
	cos := InnerProduct(a, b) / (na * nb)
	if math.IsNaN(cos) || math.IsInf(cos, 0) {
		return 0, fmt.Errorf("%w: non-finite result", ErrDegenerateVector)
	}
	return math.Max(0, math.Min(1, (cos+1)/2)), nil
}

// InnerProduct returns the inner product of two vectors, or 0 when their lengths differ.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
