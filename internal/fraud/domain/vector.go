package domain

import (
	"errors"
	"math"
)

// ErrDimensionMismatch reports vectors of different lengths.
var ErrDimensionMismatch = errors.New("vector_dimension_mismatch")

// HourlyDimensions is the length of an hourly usage vector.
const HourlyDimensions = 24

// Normalize scales v so its elements sum to 1, turning raw hourly counts
// into a usage shape independent of volume. A zero vector normalizes to a
// zero vector.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var total float64
	for _, x := range v {
		total += x
	}
	if total == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b. Either
// vector having zero norm yields 0: an empty day resembles nothing.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	normA, normB := l2(a), l2(b)
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (normA * normB), nil
}

func l2(v []float64) float64 {
	var ss float64
	for _, x := range v {
		ss += x * x
	}
	return math.Sqrt(ss)
}
