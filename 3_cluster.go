package magnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Algorithm names reported by the assigner.
const (
	AlgorithmKMeans = "KMeans"
	AlgorithmDBSCAN = "DBSCAN"
	AlgorithmNone   = "none"
)

// noiseLabel is what a density backend returns for points outside every
// dense region.
const noiseLabel = -1

// ClusterBackend partitions vectors and returns one label per vector.
// Centroid backends use k; density backends ignore it and may return
// noiseLabel.
type ClusterBackend interface {
	Cluster(vectors [][]float64, k int) ([]int, error)
}

// Assigner gives every item a cluster id. Items without an embedding get
// Unclustered; every other item gets an id >= 0.
type Assigner struct {
	cfg     ClusteringConfig
	kmeans  ClusterBackend
	density ClusterBackend
	log     *zap.Logger
}

// NewAssigner creates an assigner with the k-means and DBSCAN backends.
func NewAssigner(cfg ClusteringConfig, log *zap.Logger) *Assigner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assigner{
		cfg: cfg,
		kmeans: &KMeans{
			Seed:          cfg.RandomSeed,
			NInit:         cfg.NInit,
			MaxIterations: cfg.MaxIterations,
		},
		density: &DBSCAN{
			MinSamples:     cfg.MinSamples,
			MinClusterSize: cfg.MinClusterSize,
		},
		log: log,
	}
}

// HeuristicK returns max(1, min(floor(sqrt(n)), maxClusters)).
func HeuristicK(n, maxClusters int) int {
	k := int(math.Floor(math.Sqrt(float64(n))))
	k = min(k, maxClusters)
	return max(1, k)
}

// Assign sets ClusterID on every item in place and returns the ids by
// position together with the algorithm that produced them. k <= 0 selects
// the heuristic. Invalid input degrades to AlgorithmNone with every id set
// to Unclustered.
func (a *Assigner) Assign(items []EnrichedItem, k int, useDensity bool) ([]int, string) {
	ids := make([]int, len(items))
	for i := range items {
		ids[i] = Unclustered
		items[i].ClusterID = Unclustered
	}

	// positions[j] is the index in items of the j-th vector.
	var positions []int
	var vectors [][]float64
	for i := range items {
		if items[i].Embedding != nil {
			positions = append(positions, i)
			vectors = append(vectors, items[i].Embedding)
		}
	}
	if len(vectors) == 0 {
		a.log.Info("No items with embeddings to cluster", zap.Int("items", len(items)))
		return ids, AlgorithmNone
	}

	if err := validateDimensions(vectors); err != nil {
		a.log.Warn("Skipping clustering", zap.Error(err))
		return ids, AlgorithmNone
	}

	labels, algorithm, err := a.run(vectors, k, useDensity)
	if err == nil && len(labels) != len(vectors) {
		err = fmt.Errorf("backend returned %d labels for %d vectors", len(labels), len(vectors))
	}
	if err != nil {
		a.log.Warn("Clustering failed", zap.String("algorithm", algorithm), zap.Error(err))
		return ids, AlgorithmNone
	}

	labels = remapNoise(labels)
	for j, pos := range positions {
		ids[pos] = labels[j]
		items[pos].ClusterID = labels[j]
	}

	a.log.Info("Clustered items",
		zap.String("algorithm", algorithm),
		zap.Int("items", len(vectors)),
		zap.Int("unclustered", len(items)-len(vectors)),
		zap.Int("clusters", countClusters(labels)))
	return ids, algorithm
}

func (a *Assigner) run(vectors [][]float64, k int, useDensity bool) ([]int, string, error) {
	if useDensity {
		if a.density != nil {
			labels, err := a.density.Cluster(vectors, 0)
			return labels, AlgorithmDBSCAN, err
		}
		a.log.Warn("Density backend unavailable, falling back to k-means")
	}

	if k <= 0 {
		k = HeuristicK(len(vectors), a.cfg.MaxClusters)
	}
	k = min(k, len(vectors))
	labels, err := a.kmeans.Cluster(vectors, k)
	return labels, AlgorithmKMeans, err
}

func validateDimensions(vectors [][]float64) error {
	dim := len(vectors[0])
	if dim == 0 {
		return errors.New("embeddings have zero dimensions")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), dim)
		}
	}
	return nil
}

// remapNoise gives noise points their own cluster: one past the largest
// real label, or 0 when there are no real clusters.
func remapNoise(labels []int) []int {
	maxLabel := -1
	hasNoise := false
	for _, l := range labels {
		if l == noiseLabel {
			hasNoise = true
		} else if l > maxLabel {
			maxLabel = l
		}
	}
	if !hasNoise {
		return labels
	}

	noiseID := maxLabel + 1
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == noiseLabel {
			out[i] = noiseID
		} else {
			out[i] = l
		}
	}
	return out
}

func countClusters(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// compactLabels renumbers labels 0..m-1 in order of first appearance,
// leaving noise untouched.
func compactLabels(labels []int) []int {
	next := 0
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == noiseLabel {
			out[i] = noiseLabel
			continue
		}
		id, ok := mapping[l]
		if !ok {
			id = next
			mapping[l] = id
			next++
		}
		out[i] = id
	}
	return out
}

// KMeans is the centroid backend: k-means++ seeding and Lloyd iterations
// on Euclidean distance, restarted NInit times. The run with the lowest
// inertia wins. Results are deterministic for a given Seed.
type KMeans struct {
	Seed          int64
	NInit         int
	MaxIterations int
}

// Cluster implements ClusterBackend.
func (km *KMeans) Cluster(vectors [][]float64, k int) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	k = min(k, n)

	// Convert embeddings to matrix format
	d := len(vectors[0])
	data := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		data.SetRow(i, v)
	}

	rng := rand.New(rand.NewSource(km.Seed))
	nInit := max(1, km.NInit)
	maxIter := max(1, km.MaxIterations)

	var best []int
	bestInertia := math.Inf(1)
	for range nInit {
		centroids := initializeCentroidsKMeansPlusPlus(data, k, rng)
		assignments, inertia := lloyd(data, centroids, maxIter)
		if inertia < bestInertia {
			bestInertia = inertia
			best = assignments
		}
	}

	return compactLabels(best), nil
}

// initializeCentroidsKMeansPlusPlus picks k starting centroids, each chosen
// with probability proportional to its squared distance from the nearest
// centroid picked so far.
func initializeCentroidsKMeansPlusPlus(data *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)

	centroids.SetRow(0, data.RawRowView(rng.Intn(n)))

	distances := make([]float64, n)
	for i := 1; i < k; i++ {
		for j := range n {
			point := data.RawRowView(j)
			minDist := math.Inf(1)
			for c := range i {
				dist := floats.Distance(point, centroids.RawRowView(c), 2)
				minDist = math.Min(minDist, dist*dist)
			}
			distances[j] = minDist
		}

		totalWeight := floats.Sum(distances)
		if totalWeight == 0 {
			// All remaining points coincide with a centroid.
			centroids.SetRow(i, data.RawRowView(rng.Intn(n)))
			continue
		}

		target := rng.Float64() * totalWeight
		cumWeight := 0.0
		chosen := n - 1
		for j, dist := range distances {
			cumWeight += dist
			if cumWeight >= target {
				chosen = j
				break
			}
		}
		centroids.SetRow(i, data.RawRowView(chosen))
	}

	return centroids
}

// lloyd refines centroids in place until assignments stop changing and
// returns the final assignments with their inertia.
func lloyd(data, centroids *mat.Dense, maxIterations int) ([]int, float64) {
	n, _ := data.Dims()
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	var inertia float64
	for range maxIterations {
		newAssignments, newInertia := assignPointsToClusters(data, centroids)
		inertia = newInertia

		converged := true
		for i := range assignments {
			if assignments[i] != newAssignments[i] {
				converged = false
				break
			}
		}
		assignments = newAssignments
		if converged {
			break
		}

		updateCentroids(data, centroids, assignments)
	}

	return assignments, inertia
}

// assignPointsToClusters assigns each point to its nearest centroid and
// returns the sum of squared distances.
func assignPointsToClusters(data, centroids *mat.Dense) ([]int, float64) {
	n, _ := data.Dims()
	k, _ := centroids.Dims()
	assignments := make([]int, n)
	inertia := 0.0

	for i := range n {
		point := data.RawRowView(i)
		minDist := math.Inf(1)
		bestCluster := 0
		for j := range k {
			dist := floats.Distance(point, centroids.RawRowView(j), 2)
			if dist < minDist {
				minDist = dist
				bestCluster = j
			}
		}
		assignments[i] = bestCluster
		inertia += minDist * minDist
	}

	return assignments, inertia
}

// updateCentroids moves each centroid to the mean of its points. A centroid
// that lost all its points stays where it was.
func updateCentroids(data, centroids *mat.Dense, assignments []int) {
	k, d := centroids.Dims()
	sums := mat.NewDense(k, d, nil)
	counts := make([]int, k)

	for i, c := range assignments {
		floats.Add(sums.RawRowView(c), data.RawRowView(i))
		counts[c]++
	}

	for c := range k {
		if counts[c] == 0 {
			continue
		}
		row := sums.RawRowView(c)
		floats.Scale(1/float64(counts[c]), row)
		centroids.SetRow(c, row)
	}
}

// DBSCAN is the density backend. It works on cosine distance, picks eps
// from the k-distance curve and demotes dense groups smaller than
// MinClusterSize to noise.
type DBSCAN struct {
	MinSamples     int
	MinClusterSize int
}

// Cluster implements ClusterBackend. k is ignored.
func (db *DBSCAN) Cluster(vectors [][]float64, _ int) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	minSamples := max(1, db.MinSamples)

	normalized := normalizeVectors(vectors)
	// A core point counts itself, so eps only has to reach minSamples-1 others.
	eps := calculateOptimalEps(normalized, max(1, minSamples-1))

	// DBSCAN algorithm
	visited := make([]bool, n)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}

	currentCluster := 0
	for i := range n {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := findNeighbors(normalized, i, eps)
		// A point counts towards its own neighbourhood.
		if len(neighbors)+1 < minSamples {
			continue
		}
		expandCluster(normalized, i, neighbors, currentCluster, eps, minSamples, visited, labels)
		currentCluster++
	}

	sizes := make(map[int]int)
	for _, l := range labels {
		if l != noiseLabel {
			sizes[l]++
		}
	}
	for i, l := range labels {
		if l != noiseLabel && sizes[l] < db.MinClusterSize {
			labels[i] = noiseLabel
		}
	}

	return compactLabels(labels), nil
}

// normalizeVectors returns unit-length copies so that cosine similarity is
// a dot product. Zero vectors are copied unchanged.
func normalizeVectors(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		c := make([]float64, len(v))
		copy(c, v)
		if norm := floats.Norm(c, 2); norm > 0 {
			floats.Scale(1/norm, c)
		}
		out[i] = c
	}
	return out
}

func cosineDistance(a, b []float64) float64 {
	return 1.0 - floats.Dot(a, b)
}

// calculateOptimalEps picks eps from a low percentile of the sorted
// k-th-neighbour distances, bounded by the spread of those distances.
func calculateOptimalEps(vectors [][]float64, k int) float64 {
	n := len(vectors)
	if n < 2 {
		return 0
	}
	kDistances := make([]float64, n)

	distances := make([]float64, 0, n-1)
	for i := range n {
		distances = distances[:0]
		for j := range n {
			if i != j {
				distances = append(distances, cosineDistance(vectors[i], vectors[j]))
			}
		}

		sort.Float64s(distances)
		kDistances[i] = distances[min(k, len(distances))-1]
	}

	sort.Float64s(kDistances)

	// Smaller datasets need a higher percentile to avoid over-fragmentation.
	var percentile float64
	switch {
	case n < 20:
		percentile = 0.3
	case n < 50:
		percentile = 0.25
	default:
		percentile = 0.15
	}

	elbowIdx := int(float64(n) * percentile)
	elbowIdx = max(0, min(elbowIdx, n-1))
	eps := kDistances[elbowIdx]

	mean := floats.Sum(kDistances) / float64(n)
	variance := 0.0
	for _, d := range kDistances {
		diff := d - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(n))

	minEps := math.Max(0.03, mean-2*stdDev)
	maxEps := math.Max(minEps, math.Min(0.35, mean+stdDev))

	return math.Max(minEps, math.Min(maxEps, eps))
}

// findNeighbors returns every other point within eps of pointIdx.
func findNeighbors(vectors [][]float64, pointIdx int, eps float64) []int {
	var neighbors []int
	point := vectors[pointIdx]
	for i, other := range vectors {
		if i != pointIdx && cosineDistance(point, other) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

// expandCluster grows clusterID from a core point.
func expandCluster(vectors [][]float64, pointIdx int, neighbors []int, clusterID int, eps float64, minSamples int, visited []bool, labels []int) {
	labels[pointIdx] = clusterID

	queued := make(map[int]bool, len(neighbors))
	for _, nIdx := range neighbors {
		queued[nIdx] = true
	}

	for i := 0; i < len(neighbors); i++ {
		nIdx := neighbors[i]

		if !visited[nIdx] {
			visited[nIdx] = true
			newNeighbors := findNeighbors(vectors, nIdx, eps)
			if len(newNeighbors)+1 >= minSamples {
				for _, newN := range newNeighbors {
					if !queued[newN] {
						queued[newN] = true
						neighbors = append(neighbors, newN)
					}
				}
			}
		}

		if labels[nIdx] == noiseLabel {
			labels[nIdx] = clusterID
		}
	}
}
