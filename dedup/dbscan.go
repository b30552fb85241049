package dedup

import "github.com/lifeexplorer230/tg-news-bot-sub000/embedding"

// Noise is the label DBSCAN assigns to points in no cluster.
const Noise = -1

// DBSCAN clusters vectors under the cosine distance (1 - similarity).
// It returns one label per input vector; labels are cluster ordinals
// starting at 0, or Noise. With minSamples >= 2 an isolated point is
// always Noise.
func DBSCAN(vectors [][]float32, eps float64, minSamples int) []int {
	var n = len(vectors)
	var labels = make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 {
		return labels
	}

	var visited = make([]bool, n)
	var cluster = 0

	var neighbors = func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if 1-embedding.CosineSimilarity(vectors[i], vectors[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		var seeds = neighbors(i)
		if len(seeds) < minSamples {
			continue // stays Noise unless claimed by a later cluster
		}

		labels[i] = cluster
		// Expand over a growing frontier; seeds may gain members as new
		// core points are discovered.
		for k := 0; k < len(seeds); k++ {
			var j = seeds[k]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			if more := neighbors(j); len(more) >= minSamples {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels
}
