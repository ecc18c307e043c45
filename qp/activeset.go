package qp

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ActiveSet is a dense primal active-set QP solver.
//
// Each iteration minimizes the objective over the current working set of
// active inequality constraints (together with all equality constraints)
// using the null-space method, then either takes a step to the nearest
// blocking constraint or, once stationary, drops the constraint with the
// most negative multiplier. Semi-definite Hessians are made strictly convex
// with a small ridge relative to the largest diagonal entry.
//
// The zero value is ready to use.
type ActiveSet struct {
	// MaxIterations caps working-set changes. Zero selects 50(n+m)+100.
	MaxIterations int
	// Tolerance is the feasibility and optimality tolerance. Zero selects 1e-10.
	Tolerance float64
	// Ridge is added to the Hessian diagonal, scaled by its largest diagonal
	// entry. Zero selects 1e-10. Negative disables the ridge.
	Ridge float64
}

var _ Solver = ActiveSet{}

// Solve implements Solver.
func (s ActiveSet) Solve(p *Problem) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	n, m, _ := p.Dims()

	tol := s.Tolerance
	if tol <= 0 {
		tol = 1e-10
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = 50*(n+m) + 100
	}

	x, err := startPoint(p, tol)
	if err != nil {
		return nil, err
	}

	hess := ridged(p.Hessian, s.Ridge)
	grad := make([]float64, n)
	working := make([]int, 0, n)
	settled := false

	for range maxIter {
		gradient(grad, hess, p.Linear, x)

		var step []float64
		if !settled {
			step, err = nullSpaceStep(hess, grad, p.Eq, p.Ineq, working)
			if err != nil {
				return nil, err
			}
		}

		if settled || floats.Norm(step, math.Inf(1)) <= tol*math.Max(1, floats.Norm(x, math.Inf(1))) {
			if len(working) == 0 {
				return x, nil
			}
			mu, err := multipliers(grad, p.Eq, p.Ineq, working)
			if err != nil {
				return nil, err
			}
			drop := floats.MinIdx(mu)
			if mu[drop] >= -tol*math.Max(1, floats.Norm(grad, math.Inf(1))) {
				return x, nil
			}
			working = slices.Delete(working, drop, drop+1)
			settled = false
			continue
		}

		alpha, block := 1.0, -1
		stepNorm := floats.Norm(step, math.Inf(1))
		for i := range m {
			if slices.Contains(working, i) {
				continue
			}
			gp := rowDot(p.Ineq, i, step)
			if gp <= 1e-14*stepNorm {
				continue
			}
			slack := max(p.IneqRHS[i]-rowDot(p.Ineq, i, x), 0)
			if a := slack / gp; a < alpha {
				alpha, block = a, i
			}
		}
		floats.AddScaled(x, alpha, step)
		if block >= 0 {
			working = append(working, block)
			settled = false
		} else {
			settled = true
		}
		if err := restore(x, p, working); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %d iterations", ErrMaxIterations, maxIter)
}

// startPoint returns a feasible initial point.
func startPoint(p *Problem, tol float64) ([]float64, error) {
	if p.Start != nil && p.Feasible(p.Start, tol) {
		return slices.Clone(p.Start), nil
	}
	n, _, _ := p.Dims()
	if zero := make([]float64, n); p.Feasible(zero, tol) {
		return zero, nil
	}
	return feasiblePoint(p, tol)
}

func ridged(h *mat.SymDense, ridge float64) *mat.SymDense {
	if ridge == 0 {
		ridge = 1e-10
	}
	out := mat.NewSymDense(h.SymmetricDim(), nil)
	out.CopySym(h)
	if ridge < 0 {
		return out
	}
	n := out.SymmetricDim()
	scale := 0.0
	for i := range n {
		scale = math.Max(scale, math.Abs(out.At(i, i)))
	}
	if scale == 0 {
		scale = 1
	}
	for i := range n {
		out.SetSym(i, i, out.At(i, i)+ridge*scale)
	}
	return out
}

// gradient stores Hx + f into dst.
func gradient(dst []float64, h *mat.SymDense, f, x []float64) {
	g := mat.NewVecDense(len(dst), dst)
	g.MulVec(h, mat.NewVecDense(len(x), x))
	floats.Add(dst, f)
}

// constraintRows stacks the equality rows and the working inequality rows.
func constraintRows(eq, ineq mat.Matrix, working []int, n int) *mat.Dense {
	meq := 0
	if eq != nil {
		meq, _ = eq.Dims()
	}
	k := meq + len(working)
	if k == 0 {
		return nil
	}
	c := mat.NewDense(k, n, nil)
	for i := range meq {
		for j := range n {
			c.Set(i, j, eq.At(i, j))
		}
	}
	for r, i := range working {
		for j := range n {
			c.Set(meq+r, j, ineq.At(i, j))
		}
	}
	return c
}

// nullSpaceStep minimizes ½pᵀHp + gᵀp subject to Cp = 0 where C holds the
// equality rows and the working inequality rows.
func nullSpaceStep(h *mat.SymDense, g []float64, eq, ineq mat.Matrix, working []int) ([]float64, error) {
	n := len(g)
	z := nullBasis(constraintRows(eq, ineq, working, n), n)
	step := make([]float64, n)
	if z == nil {
		return step, nil
	}
	_, d := z.Dims()

	var hz, zhz mat.Dense
	hz.Mul(h, z)
	zhz.Mul(z.T(), &hz)
	reduced := mat.NewSymDense(d, nil)
	for i := range d {
		for j := i; j < d; j++ {
			reduced.SetSym(i, j, 0.5*(zhz.At(i, j)+zhz.At(j, i)))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(reduced); !ok {
		return nil, fmt.Errorf("%w: reduced hessian is not positive definite", ErrSingular)
	}
	rhs := mat.NewVecDense(d, nil)
	rhs.MulVec(z.T(), mat.NewVecDense(n, g))
	rhs.ScaleVec(-1, rhs)

	var pz mat.VecDense
	if err := chol.SolveVecTo(&pz, rhs); err != nil && !acceptable(err) {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out := mat.NewVecDense(n, step)
	out.MulVec(z, &pz)
	return step, nil
}

// nullBasis returns an orthonormal basis of the null space of c, or nil
// when the null space is trivial. A nil c has the identity as basis.
func nullBasis(c *mat.Dense, n int) *mat.Dense {
	if c == nil {
		id := mat.NewDense(n, n, nil)
		for i := range n {
			id.Set(i, i, 1)
		}
		return id
	}
	var svd mat.SVD
	if ok := svd.Factorize(c, mat.SVDFull); !ok {
		return nil
	}
	sv := svd.Values(nil)
	rank := 0
	if len(sv) > 0 {
		r, _ := c.Dims()
		cut := sv[0] * 1e-12 * float64(max(r, n))
		for _, v := range sv {
			if v > cut {
				rank++
			}
		}
	}
	if rank >= n {
		return nil
	}
	var v mat.Dense
	svd.VTo(&v)
	z := mat.NewDense(n, n-rank, nil)
	z.Copy(v.Slice(0, n, rank, n))
	return z
}

// restore moves x by the least-norm correction that puts it back on the
// equality rows and the working inequality rows.
func restore(x []float64, p *Problem, working []int) error {
	n := len(x)
	c := constraintRows(p.Eq, p.Ineq, working, n)
	if c == nil {
		return nil
	}
	k, _ := c.Dims()
	meq := k - len(working)
	r := mat.NewVecDense(k, nil)
	r.MulVec(c, mat.NewVecDense(n, x))
	for i := range meq {
		r.SetVec(i, r.AtVec(i)-p.EqRHS[i])
	}
	for w, i := range working {
		r.SetVec(meq+w, r.AtVec(meq+w)-p.IneqRHS[i])
	}

	var delta mat.VecDense
	if err := delta.SolveVec(c, r); err != nil && !acceptable(err) {
		return fmt.Errorf("%w: restoring active constraints: %v", ErrSingular, err)
	}
	for i := range n {
		x[i] -= delta.AtVec(i)
	}
	return nil
}

// multipliers solves Cᵀy = -g in the least-squares sense and returns the
// entries belonging to the working inequality rows.
func multipliers(g []float64, eq, ineq mat.Matrix, working []int) ([]float64, error) {
	n := len(g)
	c := constraintRows(eq, ineq, working, n)
	neg := mat.NewVecDense(n, nil)
	neg.ScaleVec(-1, mat.NewVecDense(n, g))

	var y mat.VecDense
	if err := y.SolveVec(c.T(), neg); err != nil && !acceptable(err) {
		return nil, fmt.Errorf("%w: multipliers: %v", ErrSingular, err)
	}
	k, _ := c.Dims()
	meq := k - len(working)
	mu := make([]float64, len(working))
	for i := range mu {
		mu[i] = y.AtVec(meq + i)
	}
	return mu, nil
}

// acceptable reports whether err is a finite conditioning warning whose
// result is still usable.
func acceptable(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond) && !math.IsInf(float64(cond), 0)
}
