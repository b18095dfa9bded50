package clustering

import (
	"math"
	"sort"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// KMeans partitions event timestamps into at most p.K groups with 1-D Lloyd iteration.
// Windows are the raw first-event to last-end spans; FLG plays no part.
func KMeans(events []models.ApneaEvent, p Params) models.ClusterSet {
	meta := &models.KMeansMeta{}
	if len(events) == 0 {
		meta.Converged = true
		return models.ClusterSet{Clusters: []models.Cluster{}, Meta: meta}
	}

	sorted := SortEvents(events)
	origin := utils.EpochSeconds(sorted[0].Timestamp)
	xs := make([]float64, len(sorted))
	for i, ev := range sorted {
		xs[i] = utils.EpochSeconds(ev.Timestamp) - origin
	}

	k := p.K
	if k < 1 {
		k = 1
	}
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	meta.KOverspecified = k >= (len(xs)+1)/2
	// at most one non-empty partition per event
	if k > len(xs) {
		k = len(xs)
	}

	centroids := initialCentroids(xs, k)
	assign := make([]int, len(xs))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 1; iter <= maxIter; iter++ {
		meta.Iterations = iter
		changed := false
		for i, x := range xs {
			if c := nearestCentroid(centroids, x); c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			meta.Converged = true
			break
		}
		updateCentroids(centroids, xs, assign)
	}
	meta.MaxIterationsReached = !meta.Converged

	for i, x := range xs {
		d := x - centroids[assign[i]]
		meta.WCSS += d * d
	}

	partitions := make([][]models.ApneaEvent, k)
	for i, ev := range sorted {
		partitions[assign[i]] = append(partitions[assign[i]], ev)
	}
	clusters := make([]models.Cluster, 0, k)
	for _, part := range partitions {
		if len(part) > 0 {
			clusters = append(clusters, newCluster(part))
		}
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Start.Before(clusters[j].Start)
	})

	return models.ClusterSet{Clusters: clusters, Meta: meta}
}

// initialCentroids picks k evenly spaced quantiles of the sorted axis.
func initialCentroids(xs []float64, k int) []float64 {
	centroids := make([]float64, k)
	n := len(xs)
	if k == 1 {
		centroids[0] = xs[(n-1)/2]
		return centroids
	}
	for j := range centroids {
		idx := int(math.Round(float64(j) * float64(n-1) / float64(k-1)))
		centroids[j] = xs[idx]
	}
	return centroids
}

// nearestCentroid breaks ties towards the lower index so runs stay deterministic.
func nearestCentroid(centroids []float64, x float64) int {
	best := 0
	bestDist := math.Abs(x - centroids[0])
	for j := 1; j < len(centroids); j++ {
		if d := math.Abs(x - centroids[j]); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// updateCentroids moves each centroid to the mean of its members; empty centroids stay put.
func updateCentroids(centroids, xs []float64, assign []int) {
	sums := make([]float64, len(centroids))
	counts := make([]int, len(centroids))
	for i, x := range xs {
		sums[assign[i]] += x
		counts[assign[i]]++
	}
	for j := range centroids {
		if counts[j] > 0 {
			centroids[j] = sums[j] / float64(counts[j])
		}
	}
}
