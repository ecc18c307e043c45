package qp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// feasiblePoint finds a point satisfying Gx ≤ h and Ax = b by solving the
// phase-one linear program with a zero objective. Variables that appear in
// no constraint are left at zero.
func feasiblePoint(p *Problem, tol float64) ([]float64, error) {
	n, m, meq := p.Dims()
	x := make([]float64, n)
	if m+meq == 0 {
		return x, nil
	}

	used := make([]int, 0, n)
	for j := range n {
		if columnUsed(p.Ineq, m, j) || columnUsed(p.Eq, meq, j) {
			used = append(used, j)
		}
	}
	if len(used) == 0 {
		// Every constraint row is zero: x = 0 is as good as any point.
		if p.Feasible(x, tol) {
			return x, nil
		}
		return nil, ErrInfeasible
	}

	var (
		g, a mat.Matrix
		h, b []float64
	)
	if m > 0 {
		g, h = restrict(p.Ineq, m, used), p.IneqRHS
	}
	if meq > 0 {
		a, b = restrict(p.Eq, meq, used), p.EqRHS
	}

	c := make([]float64, len(used))
	cNew, aNew, bNew := lp.Convert(c, g, h, a, b)
	_, xs, err := lp.Simplex(cNew, aNew, bNew, tol, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return nil, ErrInfeasible
		}
		return nil, fmt.Errorf("%w: phase one: %v", ErrInfeasible, err)
	}
	// Convert orders the standard-form variables as [x⁺, x⁻, slack].
	k := len(used)
	for i, j := range used {
		x[j] = xs[i] - xs[k+i]
	}
	if !p.Feasible(x, 1e3*tol) {
		return nil, fmt.Errorf("%w: phase one returned an infeasible point", ErrInfeasible)
	}
	return x, nil
}

func columnUsed(a mat.Matrix, rows, j int) bool {
	for i := range rows {
		if a.At(i, j) != 0 {
			return true
		}
	}
	return false
}

func restrict(a mat.Matrix, rows int, cols []int) *mat.Dense {
	out := mat.NewDense(rows, len(cols), nil)
	for i := range rows {
		for c, j := range cols {
			out.Set(i, c, a.At(i, j))
		}
	}
	return out
}
