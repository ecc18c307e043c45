package spice

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Terms holds the parts of the SPICE objective.
type Terms struct {
	RSS      float64 // ‖X − EPᵀ‖²
	Spread   float64 // endmember spread V
	Sparsity float64 // Kγ
	Total    float64 // (1−u)RSS/M + uV + Kγ
}

// Evaluate computes the objective of endmembers e (N×K) and abundances
// p (M×K) on spectra x (N×M).
func Evaluate(x, e, p *mat.Dense, u, gamma float64) Terms {
	_, m := x.Dims()
	_, k := e.Dims()

	var r mat.Dense
	r.Mul(e, p.T())
	r.Sub(x, &r)
	norm := mat.Norm(&r, 2)
	t := Terms{
		RSS:      norm * norm,
		Spread:   spread(e),
		Sparsity: float64(k) * gamma,
	}
	t.Total = (1-u)*t.RSS/float64(m) + u*t.Spread + t.Sparsity
	return t
}

func objective(x, e, p *mat.Dense, u, gamma float64) float64 {
	return Evaluate(x, e, p, u, gamma).Total
}

// spread is Σⱼ‖Eⱼ‖² − ‖ΣₖEₖ‖²/(K−1).
func spread(e *mat.Dense) float64 {
	n, k := e.Dims()
	sum := make([]float64, n)
	col := make([]float64, n)
	v := 0.0
	for j := range k {
		mat.Col(col, j, e)
		v += floats.Dot(col, col)
		floats.Add(sum, col)
	}
	return v - floats.Dot(sum, sum)/float64(k-1)
}
