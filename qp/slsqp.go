package qp

import (
	"fmt"
	"slices"

	"github.com/curioloop/optimizer/slsqp"
	"gonum.org/v1/gonum/mat"
)

// SLSQP solves the program with the LSEI routine of the slsqp package, the
// least-squares subproblem solver of the SLSQP method.
//
// The ridged Hessian is factored as LLᵀ, so that
//
//	½ xᵀHx + fᵀx = ½‖Lᵀx + L⁻¹f‖² + const
//
// and the QP becomes min ‖Ex - d‖ subject to Cx = b, -Gx ≥ -h with E = Lᵀ
// and d = -L⁻¹f. The solve is direct; Start is ignored.
//
// Along directions where H is nearly singular the linear term is scaled by
// the inverse square root of the ridge, so very large linear terms on a
// rank-deficient Hessian lose accuracy. ActiveSet has no such limit.
//
// The zero value is ready to use.
type SLSQP struct {
	// MaxIterations caps the inner NNLS iterations. Zero selects three times
	// the number of inequality constraints.
	MaxIterations int
	// Ridge is added to the Hessian diagonal, scaled by its largest diagonal
	// entry. Zero selects 1e-8. Negative disables the ridge.
	Ridge float64
}

var _ Solver = SLSQP{}

// Solve implements Solver.
func (s SLSQP) Solve(p *Problem) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	n, m, meq := p.Dims()

	ridge := s.Ridge
	if ridge == 0 {
		ridge = 1e-8
	}
	var chol mat.Cholesky
	if !chol.Factorize(ridged(p.Hessian, ridge)) {
		return nil, fmt.Errorf("%w: hessian is not positive definite", ErrSingular)
	}
	var l mat.TriDense
	chol.LTo(&l)

	// All matrices handed to LSEI are column-major with the row count as
	// leading dimension.
	e := make([]float64, n*n)
	d := make([]float64, n)
	for i := range n {
		v := p.Linear[i]
		for j := range i {
			e[j+n*i] = l.At(i, j)
			v -= l.At(i, j) * d[j]
		}
		e[i+n*i] = l.At(i, i)
		d[i] = v / l.At(i, i)
	}
	for i := range d {
		d[i] = -d[i]
	}

	c := make([]float64, meq*n)
	for i := range meq {
		for j := range n {
			c[i+meq*j] = p.Eq.At(i, j)
		}
	}
	b := slices.Clone(p.EqRHS)

	g := make([]float64, m*n)
	h := make([]float64, m)
	for i := range m {
		for j := range n {
			g[i+m*j] = -p.Ineq.At(i, j)
		}
		h[i] = -p.IneqRHS[i]
	}

	l2 := n - meq
	x := make([]float64, n)
	w := make([]float64, 2*meq+n+(n+m)*l2+(l2+1)*(m+2)+2*m)
	jw := make([]int, max(m, l2))

	_, mode := slsqp.LSEI(c, b, e, d, g, h, meq, meq, n, n, m, m, n, x, w, jw, s.MaxIterations)
	switch mode {
	case slsqp.HasSolution:
		return x, nil
	case slsqp.ConsIncompatible:
		return nil, ErrInfeasible
	case slsqp.NNLSExceedMaxIter:
		return nil, ErrMaxIterations
	case slsqp.LSISingularE, slsqp.LSEISingularC, slsqp.HFTIRankDefect:
		return nil, fmt.Errorf("%w: lsei mode %d", ErrSingular, mode)
	}
	return nil, fmt.Errorf("%w: lsei mode %d", ErrDimension, mode)
}
