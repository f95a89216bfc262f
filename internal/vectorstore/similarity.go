// Package vectorstore persists document chunks with their embeddings on a
// key-value backend and performs brute-force similarity search.
package vectorstore

import "math"

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors: dot product over the product of L2 norms. If either vector has
// zero norm the similarity is 0, never NaN. The result is clamped to
// [-1, 1] to absorb floating-point drift. This is the single comparison
// primitive used by every store, so ranking is identical across backends.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}
