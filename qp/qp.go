// Package qp defines the quadratic-program capability consumed by the SPICE
// optimizer and a dense active-set backend for it.
//
// A Problem is the convex program
//
//	minimize    ½ xᵀHx + fᵀx
//	subject to  Gx ≤ h
//	            Ax = b
//
// Any type implementing Solver can be plugged into the optimizer.
package qp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimension reports inconsistent problem dimensions.
	ErrDimension = errors.New("qp: dimension mismatch")
	// ErrInfeasible reports that no point satisfies the constraints.
	ErrInfeasible = errors.New("qp: infeasible constraints")
	// ErrMaxIterations reports that the solver hit its iteration cap.
	ErrMaxIterations = errors.New("qp: iteration limit exceeded")
	// ErrSingular reports a numerically singular subproblem.
	ErrSingular = errors.New("qp: singular subproblem")
)

// Solver solves a convex quadratic program.
// Implementations must be safe for concurrent use by multiple goroutines.
type Solver interface {
	Solve(p *Problem) ([]float64, error)
}

// Problem describes a dense convex QP. Nil constraint matrices mean the
// constraint class is absent.
type Problem struct {
	Hessian *mat.SymDense // n×n, positive semi-definite
	Linear  []float64     // n

	Ineq    mat.Matrix // m×n
	IneqRHS []float64  // m

	Eq    mat.Matrix // p×n
	EqRHS []float64  // p

	// Start is an optional feasible initial point. When it is nil or
	// violates the constraints, a feasible point is computed.
	Start []float64
}

// Dims returns the number of variables, inequality and equality constraints.
func (p *Problem) Dims() (n, m, meq int) {
	n = len(p.Linear)
	if p.Ineq != nil {
		m, _ = p.Ineq.Dims()
	}
	if p.Eq != nil {
		meq, _ = p.Eq.Dims()
	}
	return n, m, meq
}

func (p *Problem) validate() error {
	n, m, meq := p.Dims()
	switch {
	case n == 0:
		return fmt.Errorf("%w: empty problem", ErrDimension)
	case p.Hessian == nil:
		return fmt.Errorf("%w: nil hessian", ErrDimension)
	case p.Hessian.SymmetricDim() != n:
		return fmt.Errorf("%w: hessian is %d×%d, want %d", ErrDimension, p.Hessian.SymmetricDim(), p.Hessian.SymmetricDim(), n)
	case len(p.IneqRHS) != m:
		return fmt.Errorf("%w: %d inequality rows, %d bounds", ErrDimension, m, len(p.IneqRHS))
	case len(p.EqRHS) != meq:
		return fmt.Errorf("%w: %d equality rows, %d values", ErrDimension, meq, len(p.EqRHS))
	case meq > n:
		return fmt.Errorf("%w: %d equality constraints exceed %d variables", ErrDimension, meq, n)
	case p.Start != nil && len(p.Start) != n:
		return fmt.Errorf("%w: start has %d entries, want %d", ErrDimension, len(p.Start), n)
	}
	if p.Ineq != nil {
		if _, c := p.Ineq.Dims(); c != n {
			return fmt.Errorf("%w: inequality matrix has %d columns, want %d", ErrDimension, c, n)
		}
	}
	if p.Eq != nil {
		if _, c := p.Eq.Dims(); c != n {
			return fmt.Errorf("%w: equality matrix has %d columns, want %d", ErrDimension, c, n)
		}
	}
	return nil
}

// Objective evaluates ½ xᵀHx + fᵀx.
func (p *Problem) Objective(x []float64) float64 {
	xv := mat.NewVecDense(len(x), x)
	var hx mat.VecDense
	hx.MulVec(p.Hessian, xv)
	return 0.5*mat.Dot(xv, &hx) + mat.Dot(mat.NewVecDense(len(p.Linear), p.Linear), xv)
}

// Feasible reports whether x satisfies all constraints within tol.
func (p *Problem) Feasible(x []float64, tol float64) bool {
	_, m, meq := p.Dims()
	for i := range m {
		if rowDot(p.Ineq, i, x)-p.IneqRHS[i] > tol {
			return false
		}
	}
	for i := range meq {
		d := rowDot(p.Eq, i, x) - p.EqRHS[i]
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}

func rowDot(a mat.Matrix, i int, x []float64) float64 {
	var s float64
	for j, v := range x {
		s += a.At(i, j) * v
	}
	return s
}
