package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDBSCANIsolatedPointIsNoise(t *testing.T) {
	var labels = DBSCAN([][]float32{{1, 0, 0}}, 0.2, 2)
	require.Equal(t, []int{Noise}, labels)
}

func TestDBSCANTightClusterPlusOutlier(t *testing.T) {
	var vectors = [][]float32{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0.98, 0.02, 0},
		{0, 1, 0}, // outlier
	}
	var labels = DBSCAN(vectors, 0.1, 2)
	require.Equal(t, labels[0], labels[1])
	require.Equal(t, labels[1], labels[2])
	require.NotEqual(t, Noise, labels[0])
	require.Equal(t, Noise, labels[3])
}

func TestDBSCANTwoClusters(t *testing.T) {
	var vectors = [][]float32{
		{1, 0}, {0.995, 0.005},
		{0, 1}, {0.005, 0.995},
	}
	var labels = DBSCAN(vectors, 0.05, 2)
	require.Equal(t, labels[0], labels[1])
	require.Equal(t, labels[2], labels[3])
	require.NotEqual(t, labels[0], labels[2])
}

func TestDBSCANEmpty(t *testing.T) {
	require.Empty(t, DBSCAN(nil, 0.2, 2))
}
