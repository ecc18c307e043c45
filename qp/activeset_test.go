package qp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// simplexProblem builds min ½xᵀHx + fᵀx s.t. Σx = 1, 0 ≤ x ≤ 1.
func simplexProblem(h []float64, f []float64) *Problem {
	n := len(f)
	g := mat.NewDense(2*n, n, nil)
	rhs := make([]float64, 2*n)
	for i := range n {
		g.Set(i, i, -1)
		g.Set(n+i, i, 1)
		rhs[n+i] = 1
	}
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return &Problem{
		Hessian: mat.NewSymDense(n, h),
		Linear:  f,
		Ineq:    g,
		IneqRHS: rhs,
		Eq:      mat.NewDense(1, n, ones),
		EqRHS:   []float64{1},
	}
}

func TestUnconstrained(t *testing.T) {
	t.Parallel()

	p := &Problem{
		Hessian: mat.NewSymDense(2, []float64{2, 0, 0, 4}),
		Linear:  []float64{-2, -8},
	}
	x, err := ActiveSet{Ridge: -1}.Solve(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, x, 1e-9)
}

func TestEqualityOnly(t *testing.T) {
	t.Parallel()

	// min x² + y² s.t. x + y = 1
	p := &Problem{
		Hessian: mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		Linear:  []float64{0, 0},
		Eq:      mat.NewDense(1, 2, []float64{1, 1}),
		EqRHS:   []float64{1},
		Start:   []float64{1, 0},
	}
	x, err := ActiveSet{}.Solve(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, x, 1e-9)
}

func TestSimplexInteriorOptimum(t *testing.T) {
	t.Parallel()

	// ‖x - c‖² with c inside the simplex: optimum is c.
	c := []float64{0.2, 0.3, 0.5}
	p := simplexProblem([]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}, []float64{-2 * c[0], -2 * c[1], -2 * c[2]})
	p.Start = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

	x, err := ActiveSet{}.Solve(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, c, x, 1e-8)
}

func TestSimplexBoundaryOptimum(t *testing.T) {
	t.Parallel()

	// Projection of (1, 1, -1) onto the simplex is (0.5, 0.5, 0).
	p := simplexProblem([]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}, []float64{-2, -2, 2})
	p.Start = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

	x, err := ActiveSet{}.Solve(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0}, x, 1e-8)
	assert.InDelta(t, 1, floats.Sum(x), 1e-12)
}

func TestSimplexVertexOptimum(t *testing.T) {
	t.Parallel()

	// Linear objective pulls all mass onto the cheapest coordinate.
	p := simplexProblem([]float64{0, 0, 0, 0, 0, 0, 0, 0, 0}, []float64{3, 1, 2})
	p.Start = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

	x, err := ActiveSet{}.Solve(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1, 0}, x, 1e-6)
}

func TestPhaseOneStart(t *testing.T) {
	t.Parallel()

	// No start point: x = 0 violates Σx = 1, so the LP phase runs.
	p := simplexProblem([]float64{2, 0, 0, 2}, []float64{0, 0})
	x, err := ActiveSet{}.Solve(p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, x, 1e-8)
}

func TestInfeasible(t *testing.T) {
	t.Parallel()

	// x ≤ -1 and x ≥ 0.
	p := &Problem{
		Hessian: mat.NewSymDense(1, []float64{1}),
		Linear:  []float64{0},
		Ineq:    mat.NewDense(2, 1, []float64{1, -1}),
		IneqRHS: []float64{-1, 0},
	}
	_, err := ActiveSet{}.Solve(p)
	require.ErrorIs(t, err, ErrInfeasible)
}

func TestDimensionMismatch(t *testing.T) {
	t.Parallel()

	p := &Problem{
		Hessian: mat.NewSymDense(2, nil),
		Linear:  []float64{0, 0, 0},
	}
	_, err := ActiveSet{}.Solve(p)
	require.ErrorIs(t, err, ErrDimension)
}

func TestProblemHelpers(t *testing.T) {
	t.Parallel()

	p := simplexProblem([]float64{2, 0, 0, 2}, []float64{1, -1})
	n, m, meq := p.Dims()
	assert.Equal(t, []int{2, 4, 1}, []int{n, m, meq})
	assert.True(t, p.Feasible([]float64{0.25, 0.75}, 1e-12))
	assert.False(t, p.Feasible([]float64{0.5, 0.6}, 1e-12))
	assert.False(t, p.Feasible([]float64{-0.1, 1.1}, 1e-12))
	assert.InDelta(t, 0.25*0.25+0.75*0.75+0.25-0.75, p.Objective([]float64{0.25, 0.75}), 1e-12)
}
