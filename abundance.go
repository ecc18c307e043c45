package spice

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/setanarut/spice/qp"
)

// clampTolerance is how far below zero a solver result may land before it
// is treated as a real error instead of roundoff.
const clampTolerance = 1e-9

// sparsityWeights returns gamma divided by each column sum of the previous
// abundances. Empty columns get a tiny positive denominator.
func sparsityWeights(prev *mat.Dense, gamma float64) []float64 {
	m, k := prev.Dims()
	w := make([]float64, k)
	col := make([]float64, m)
	for j := range k {
		mat.Col(col, j, prev)
		s := 0.0
		for _, v := range col {
			s += v
		}
		w[j] = gamma / math.Max(s, 1e-12)
	}
	return w
}

// simplexConstraints returns G, h and A for -p ≤ 0, p ≤ 1 and Σp = 1.
func simplexConstraints(k int) (g *mat.Dense, h []float64, a *mat.Dense) {
	g = mat.NewDense(2*k, k, nil)
	h = make([]float64, 2*k)
	ones := make([]float64, k)
	for i := range k {
		g.Set(i, i, -1)
		g.Set(k+i, i, 1)
		h[k+i] = 1
		ones[i] = 1
	}
	return g, h, mat.NewDense(1, k, ones)
}

// estimateAbundances solves one simplex-constrained QP per pixel:
//
//	min ½pᵀ(2EᵀE)p + (-2Eᵀx + γ)ᵀp  s.t.  p ≥ 0, p ≤ 1, Σp = 1
//
// Pixels are independent and run on up to workers goroutines, each writing
// only its own row of the result.
func estimateAbundances(x, e, prev *mat.Dense, gamma float64, solver qp.Solver, workers int) (*mat.Dense, error) {
	_, m := x.Dims()
	_, k := e.Dims()

	hess := mat.NewSymDense(k, nil)
	hess.SymOuterK(2, e.T())
	weights := sparsityWeights(prev, gamma)

	var ex mat.Dense
	ex.Mul(e.T(), x) // K×M
	g, h, a := simplexConstraints(k)
	start := make([]float64, k)
	for j := range start {
		start[j] = 1 / float64(k)
	}

	out := mat.NewDense(m, k, nil)
	var grp errgroup.Group
	grp.SetLimit(max(1, workers))
	for i := range m {
		grp.Go(func() error {
			f := make([]float64, k)
			for j := range k {
				f[j] = -2*ex.At(j, i) + weights[j]
			}
			p, err := solver.Solve(&qp.Problem{
				Hessian: hess,
				Linear:  f,
				Ineq:    g,
				IneqRHS: h,
				Eq:      a,
				EqRHS:   []float64{1},
				Start:   start,
			})
			if err != nil {
				return fmt.Errorf("%w: pixel %d: %w", ErrSolverFailed, i, err)
			}
			if len(p) != k {
				return fmt.Errorf("%w: pixel %d: %d values for %d endmembers", ErrSolverFailed, i, len(p), k)
			}
			if err := clampSimplex(p); err != nil {
				return fmt.Errorf("%w: pixel %d: %w", ErrSolverFailed, i, err)
			}
			out.SetRow(i, p)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// clampSimplex snaps roundoff outside [0,1] back onto the bounds and
// rejects anything further away.
func clampSimplex(p []float64) error {
	for j, v := range p {
		switch {
		case math.IsNaN(v) || v < -clampTolerance || v > 1+clampTolerance:
			return fmt.Errorf("abundance %d is %v", j, v)
		case v < 0:
			p[j] = 0
		case v > 1:
			p[j] = 1
		}
	}
	return nil
}
