package spice

import (
	"math/rand/v2"
	"slices"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/mat"
)

// randomEndmembers copies k distinct pixel columns of x, chosen by a PCG
// source seeded with seed.
func randomEndmembers(x *mat.Dense, k int, seed uint64) *mat.Dense {
	_, m := x.Dims()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return selectColumns(x, rng.Perm(m)[:k])
}

// kmeansEndmembers returns k cluster centers of the pixels of x, most
// populated cluster first. muesli/kmeans seeds its centers from the global
// math/rand source and takes no seed, so the result is not reproducible.
func kmeansEndmembers(x *mat.Dense, k int) (*mat.Dense, error) {
	n, m := x.Dims()
	dataset := make(clusters.Observations, m)
	for i := range m {
		c := make(clusters.Coordinates, n)
		mat.Col(c, i, x)
		dataset[i] = c
	}

	cc, err := kmeans.New().Partition(dataset, k)
	if err != nil {
		return nil, configErrorf("init", ErrInvalidConfig, "kmeans: %v", err)
	}
	if len(cc) != k {
		return nil, configErrorf("init", ErrInvalidConfig, "kmeans returned %d clusters, want %d", len(cc), k)
	}
	slices.SortStableFunc(cc, func(a, b clusters.Cluster) int {
		return len(b.Observations) - len(a.Observations)
	})

	e := mat.NewDense(n, k, nil)
	for j, c := range cc {
		e.SetCol(j, c.Center)
	}
	return e, nil
}
