package embedding

import "math"

// CosineSimilarity returns the cosine of the angle between two vectors
// in [-1, 1]. A zero-norm input yields 0, never NaN.
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
	var sim = dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against drift just past the poles.
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// BatchCosineSimilarity scores a query vector against every row of the
// matrix. Zero-norm rows (and a zero-norm query) score 0.
func BatchCosineSimilarity(query []float32, matrix [][]float32) []float64 {
	var out = make([]float64, len(matrix))
	for i, row := range matrix {
		out[i] = CosineSimilarity(query, row)
	}
	return out
}

// MaxSimilarity returns the best score and its row index, or (-1, 0)
// for an empty matrix.
func MaxSimilarity(query []float32, matrix [][]float32) (int, float64) {
	var bestIdx = -1
	var best float64
	for i, row := range matrix {
		var sim = CosineSimilarity(query, row)
		if bestIdx == -1 || sim > best {
			bestIdx, best = i, sim
		}
	}
	return bestIdx, best
}

// Normalize scales a vector to unit length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	var inv = float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
