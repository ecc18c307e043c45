package spice

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reconstruct returns E·Pᵀ, the N×M spectra explained by endmembers e and
// abundances p.
func Reconstruct(e, p mat.Matrix) *mat.Dense {
	var r mat.Dense
	r.Mul(e, p.T())
	return &r
}

// ReconstructionError returns the mean squared difference between x and
// its reconstruction from e and p.
func ReconstructionError(x, e, p mat.Matrix) float64 {
	r := Reconstruct(e, p)
	r.Sub(x, r)
	n, m := r.Dims()
	sq := make([]float64, 0, n*m)
	for i := range n {
		for j := range m {
			v := r.At(i, j)
			sq = append(sq, v*v)
		}
	}
	return stat.Mean(sq, nil)
}
