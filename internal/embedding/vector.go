// Package embedding provides the shared face-embedding vector type and the
// vector math used by matching, enrollment and storage.
package embedding

import "math"

// Vector is a fixed-dimension face embedding produced by the recognition model.
type Vector []float32

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical).
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0 // No similarity for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0 // No similarity for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return similarity
}

// Mean computes the element-wise average of the given vectors.
// Vectors shorter than the first one are ignored beyond their length;
// callers are expected to pass equal-dimension vectors.
// Returns nil for empty input.
func Mean(vectors []Vector) Vector {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}

	out := make(Vector, dim)
	count := float64(len(vectors))
	for i := range sum {
		out[i] = float32(sum[i] / count)
	}
	return out
}

// L2Norm returns the Euclidean norm of the vector.
func L2Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Stats holds summary statistics for a single vector, used by diagnostics.
type Stats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	L2Norm float64
}

// Describe computes summary statistics for a vector.
func Describe(v Vector) Stats {
	if len(v) == 0 {
		return Stats{}
	}

	var sum float64
	min := float64(v[0])
	max := float64(v[0])
	for _, x := range v {
		f := float64(x)
		sum += f
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	mean := sum / float64(len(v))

	var variance float64
	for _, x := range v {
		d := float64(x) - mean
		variance += d * d
	}
	variance /= float64(len(v))

	return Stats{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    min,
		Max:    max,
		L2Norm: L2Norm(v),
	}
}
