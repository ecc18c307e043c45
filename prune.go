package spice

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// pruneColumns splits the abundance columns into those whose maximum over
// all pixels reaches threshold and those that do not. Both lists keep the
// original column order.
func pruneColumns(p *mat.Dense, threshold float64) (keep, drop []int) {
	m, k := p.Dims()
	col := make([]float64, m)
	for j := range k {
		mat.Col(col, j, p)
		if floats.Max(col) < threshold {
			drop = append(drop, j)
		} else {
			keep = append(keep, j)
		}
	}
	return keep, drop
}
