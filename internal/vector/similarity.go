package vector

import "math"

// Dot returns the dot product of a and b accumulated in float64.
// Vectors of different or zero length score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i, v := range a {
		sum += float64(v) * float64(b[i])
	}
	return sum
}

// Normalize scales v in place to unit length and returns its original norm.
// The zero vector is left untouched and reports 0.
func Normalize(v []float32) float64 {
	norm := math.Sqrt(Dot(v, v))
	if norm == 0 {
		return 0
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return norm
}

// Cosine returns the cosine similarity of a and b without assuming unit length.
func Cosine(a, b []float32) float64 {
	na, nb := math.Sqrt(Dot(a, a)), math.Sqrt(Dot(b, b))
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}
