package core

import (
	"fmt"
	"math"
)

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float32
	for _, val := range v {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = val / magnitude
	}
	return result
}

// TruncateVector keeps the first dim components of v and renormalizes them.
// Every vector of a definition must pass through here with the same dim, or
// similarity scores stop being comparable across records.
func TruncateVector(v []float32, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: truncation dimension %d", ErrDimensionMismatch, dim)
	}
	if len(v) < dim {
		return nil, fmt.Errorf("%w: native dimension %d is smaller than %d", ErrDimensionMismatch, len(v), dim)
	}
	return NormalizeVector(v[:dim]), nil
}

// DotProduct calculates the dot product of two vectors.
// For unit vectors this is the cosine similarity.
func DotProduct(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
