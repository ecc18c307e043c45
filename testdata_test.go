package spice

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// constantSpectra returns m identical pixels equal to v.
func constantSpectra(v []float64, m int) *mat.Dense {
	x := mat.NewDense(len(v), m, nil)
	for j := range m {
		x.SetCol(j, v)
	}
	return x
}

// mixedSpectra returns m noisy convex mixtures of the given basis spectra,
// with flat Dirichlet weights drawn from a fixed seed.
func mixedSpectra(basis [][]float64, m int, noise float64, seed uint64) *mat.Dense {
	n := len(basis[0])
	rng := rand.New(rand.NewPCG(seed, 7))
	x := mat.NewDense(n, m, nil)
	w := make([]float64, len(basis))
	for j := range m {
		s := 0.0
		for i := range w {
			w[i] = -math.Log(1 - rng.Float64())
			s += w[i]
		}
		for b := range n {
			v := 0.0
			for i, spec := range basis {
				v += w[i] / s * spec[b]
			}
			x.Set(b, j, v+noise*rng.NormFloat64())
		}
	}
	return x
}

var threeBasis = [][]float64{
	{0.9, 0.8, 0.2, 0.1, 0.1},
	{0.1, 0.2, 0.9, 0.8, 0.2},
	{0.2, 0.1, 0.1, 0.3, 0.9},
}
