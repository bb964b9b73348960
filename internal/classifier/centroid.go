package classifier

import (
	"errors"
	"math"
)

// Classifier is the pluggable model contract: fit on labeled feature
// vectors, predict an integer correctness label for a new vector.
type Classifier interface {
	Fit(features [][]float64, labels []int) error
	Predict(features []float64) (int, error)
}

var errNotFitted = errors.New("classifier is not fitted")

// NearestCentroid assigns the label of the closest class centroid in
// euclidean distance. Deterministic and cheap to train, which suits the
// train-on-first-miss cache lifecycle.
type NearestCentroid struct {
	centroids map[int][]float64
	dim       int
}

func NewNearestCentroid() *NearestCentroid {
	return &NearestCentroid{}
}

func (c *NearestCentroid) Fit(features [][]float64, labels []int) error {
	if len(features) == 0 || len(features) != len(labels) {
		return errors.New("features and labels must be non-empty and equal length")
	}

	dim := 0
	for _, f := range features {
		if len(f) > dim {
			dim = len(f)
		}
	}

	sums := make(map[int][]float64)
	counts := make(map[int]int)

	for i, f := range features {
		label := labels[i]
		sum, ok := sums[label]
		if !ok {
			sum = make([]float64, dim)
			sums[label] = sum
		}
		for j, v := range f {
			sum[j] += v
		}
		counts[label]++
	}

	centroids := make(map[int][]float64, len(sums))
	for label, sum := range sums {
		centroid := make([]float64, dim)
		n := float64(counts[label])
		for j, v := range sum {
			centroid[j] = v / n
		}
		centroids[label] = centroid
	}

	c.centroids = centroids
	c.dim = dim
	return nil
}

func (c *NearestCentroid) Predict(features []float64) (int, error) {
	if len(c.centroids) == 0 {
		return 0, errNotFitted
	}

	best := 0
	bestDist := math.Inf(1)

	for label, centroid := range c.centroids {
		d := distance(features, centroid)
		if d < bestDist || (d == bestDist && label < best) {
			best = label
			bestDist = d
		}
	}

	return best, nil
}

// distance treats missing trailing components as zero, so vectors of
// different lengths still compare.
func distance(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var sum float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		d := av - bv
		sum += d * d
	}

	return math.Sqrt(sum)
}
