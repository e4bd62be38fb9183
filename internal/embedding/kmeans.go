package embedding

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

const maxIterations = 100

// Clusterer runs k-means over a precomputed embedding table.
type Clusterer struct {
	table Table
}

// NewClusterer returns a Clusterer over t.
func NewClusterer(t Table) *Clusterer {
	return &Clusterer{table: t}
}

// Cluster assigns each subject one of k labels.
func (c *Clusterer) Cluster(ctx context.Context, subjects []string, k int) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("cluster: k must be positive, got %d", k)
	}
	points, err := c.table.Vectors(subjects)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	return KMeans(ctx, points, k)
}

// FindCenters returns, per group, the member closest to the group's mean.
// Empty groups get "".
func (c *Clusterer) FindCenters(ctx context.Context, groups [][]string) ([]string, error) {
	out := make([]string, len(groups))
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points, err := c.table.Vectors(g)
		if err != nil {
			return nil, fmt.Errorf("find centers: %w", err)
		}
		if err := sameDim(points); err != nil {
			return nil, fmt.Errorf("find centers: %w", err)
		}
		out[i] = g[nearest(centroid(points), points)]
	}
	return out, nil
}

// KMeans clusters points into k groups with Lloyd's algorithm. Seeding is
// farthest-first from the first point, so results are deterministic.
func KMeans(ctx context.Context, points [][]float64, k int) ([]int, error) {
	n := len(points)
	labels := make([]int, n)
	if n == 0 {
		return labels, nil
	}
	k = min(k, n)
	if err := sameDim(points); err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}
	dim := len(points[0])

	centers := seed(points, k)
	for range maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for i, p := range points {
			l := nearest(p, centers)
			if l != labels[i] {
				labels[i] = l
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, p := range points {
			counts[labels[i]]++
			floats.Add(sums[labels[i]], p)
		}
		for c := range centers {
			// An empty cluster keeps its previous center.
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centers[c] = sums[c]
		}
		if !changed {
			break
		}
	}
	return labels, nil
}

func seed(points [][]float64, k int) [][]float64 {
	centers := [][]float64{points[0]}
	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = floats.Distance(p, points[0], 2)
	}
	for len(centers) < k {
		far := floats.MaxIdx(dist)
		centers = append(centers, points[far])
		for i, p := range points {
			dist[i] = min(dist[i], floats.Distance(p, points[far], 2))
		}
	}
	return centers
}

// nearest returns the index of the candidate closest to p, the first on ties.
func nearest(p []float64, candidates [][]float64) int {
	dist := make([]float64, len(candidates))
	for i, c := range candidates {
		dist[i] = floats.Distance(p, c, 2)
	}
	return floats.MinIdx(dist)
}

func centroid(points [][]float64) []float64 {
	mean := make([]float64, len(points[0]))
	for _, p := range points {
		floats.Add(mean, p)
	}
	floats.Scale(1/float64(len(points)), mean)
	return mean
}

func sameDim(points [][]float64) error {
	for i, p := range points {
		if len(p) != len(points[0]) {
			return fmt.Errorf("point %d has dimension %d, want %d", i, len(p), len(points[0]))
		}
	}
	return nil
}
