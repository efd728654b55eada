package projection

import "math"

const kMeansMaxIterations = 100

// kMeans clusters 3D points into k groups with Lloyd's algorithm, returning
// the assignments and the final centroids. Centroids are seeded
// deterministically: the first point starts the set, then each subsequent
// centroid is the point farthest from all chosen so far. Ties break on the
// lower index, so identical inputs always produce identical assignments.
func kMeans(points [][3]float64, k int) ([]int, [][3]float64) {
	m := len(points)
	if k > m {
		k = m
	}
	if k < 1 {
		k = 1
	}

	centroids := seedCentroids(points, k)
	assign := make([]int, m)

	for iter := 0; iter < kMeansMaxIterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, cent := range centroids {
				if d := sqDist(p, cent); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for d := 0; d < 3; d++ {
				sums[c][d] += p[d]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Empty cluster keeps its centroid; it can win points back
				// on a later iteration.
				continue
			}
			for d := 0; d < 3; d++ {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return assign, centroids
}

func seedCentroids(points [][3]float64, k int) [][3]float64 {
	centroids := make([][3]float64, 0, k)
	centroids = append(centroids, points[0])

	minDist := make([]float64, len(points))
	for i, p := range points {
		minDist[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		far, farDist := 0, -1.0
		for i, d := range minDist {
			if d > farDist {
				far, farDist = i, d
			}
		}
		centroids = append(centroids, points[far])
		for i, p := range points {
			if d := sqDist(p, points[far]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centroids
}
