package spice

import (
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/setanarut/spice/qp"
)

func quietOptions() Options {
	opt := DefaultOptions()
	logger, _ := test.NewNullLogger()
	opt.Logger = logger
	return opt
}

func TestDegenerateDataConverges(t *testing.T) {
	t.Parallel()

	v := []float64{0.2, 0.5, 0.9}
	x := constantSpectra(v, 10)
	opt := quietOptions()
	opt.M0 = 2
	opt.Seed = 3

	res, err := Unmix(x, opt)
	require.NoError(t, err)
	assert.False(t, res.Exhausted)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []int{0, 1}, res.Kept)
	assert.Empty(t, res.Pruned)

	for j := range 2 {
		assert.InDeltaSlice(t, v, mat.Col(nil, j, res.Endmembers), 1e-6)
	}
	for i := range 10 {
		assert.InDeltaSlice(t, []float64{0.5, 0.5}, res.Abundances.RawRowView(i), 1e-6)
	}
	assert.InDelta(t, 0, ReconstructionError(x, res.Endmembers, res.Abundances), 1e-12)
}

func TestStepAfterConvergenceStaysConverged(t *testing.T) {
	t.Parallel()

	x := constantSpectra([]float64{0.3, 0.3, 0.6, 0.1}, 8)
	opt := quietOptions()
	opt.M0 = 2

	u := NewUnmixer(x, opt)
	_, err := u.Run()
	require.NoError(t, err)
	require.Equal(t, Converged, u.State)
	before := u.Objective

	require.NoError(t, u.Step())
	assert.Equal(t, Converged, u.State)
	assert.LessOrEqual(t, u.Change, opt.ChangeThreshold)
	assert.InDelta(t, before, u.Objective, 1e-9)
}

func TestPruneToOneIsFatal(t *testing.T) {
	t.Parallel()

	x := constantSpectra([]float64{0.2, 0.5, 0.9}, 10)
	opt := quietOptions()
	opt.M0 = 2
	opt.PruneThreshold = 0.6

	_, err := Unmix(x, opt)
	require.ErrorIs(t, err, ErrEndmembersExhausted)

	var oe *OptimizationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, 1, oe.Iteration)
	assert.Equal(t, StagePrune, oe.Stage)
}

func TestUnusedEndmemberIsPruned(t *testing.T) {
	t.Parallel()

	b1 := []float64{1, 0, 0.2}
	b2 := []float64{0, 1, 0.5}
	far := []float64{10, 10, 10}
	const m = 20
	x := mat.NewDense(3, m, nil)
	for j := range m {
		a := float64(j) / (m - 1)
		for b := range 3 {
			x.Set(b, j, a*b1[b]+(1-a)*b2[b])
		}
	}
	e0 := mat.NewDense(3, 3, nil)
	e0.SetCol(0, b1)
	e0.SetCol(1, b2)
	e0.SetCol(2, far)

	logger, hook := test.NewNullLogger()
	opt := DefaultOptions()
	opt.M0 = 3
	opt.Gamma = 0.01
	opt.MaxIterations = 1
	opt.InitialEndmembers = e0
	opt.Logger = logger
	var seen []Iteration
	opt.OnIteration = func(it Iteration) { seen = append(seen, it) }

	u := NewUnmixer(x, opt)
	require.NoError(t, u.Init())
	require.NoError(t, u.Step())

	assert.Equal(t, 2, u.K)
	assert.InDelta(t, lambda(m, 2, opt.U), u.Lambda, 1e-15)
	r, c := u.Endmembers.Dims()
	assert.Equal(t, []int{3, 2}, []int{r, c})
	r, c = u.Abundances.Dims()
	assert.Equal(t, []int{m, 2}, []int{r, c})
	assert.Equal(t, Exhausted, u.State)

	res := u.Result()
	assert.True(t, res.Exhausted)
	assert.Equal(t, []int{0, 1}, res.Kept)
	assert.Equal(t, []int{2}, res.Pruned)

	require.Len(t, seen, 1)
	assert.Equal(t, []int{2}, seen[0].Pruned)
	assert.Equal(t, 2, seen[0].K)

	var pruneLogged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "spice: pruned endmembers" {
			pruneLogged = true
			assert.Equal(t, logrus.InfoLevel, e.Level)
			assert.Equal(t, 2, e.Data["k"])
		}
	}
	assert.True(t, pruneLogged)
}

func TestRunInvariants(t *testing.T) {
	t.Parallel()

	// Sparsity weights scale with K/M, so gamma is lowered for 100 pixels.
	x := mixedSpectra(threeBasis, 100, 0.01, 11)
	opt := quietOptions()
	opt.M0 = 6
	opt.Gamma = 0.01
	opt.MaxIterations = 200
	opt.Seed = 42

	var last float64
	prevK := opt.M0
	opt.OnIteration = func(it Iteration) {
		assert.GreaterOrEqual(t, it.K, 2)
		assert.LessOrEqual(t, it.K, prevK)
		prevK = it.K
		last = it.Objective
		assertSimplexRows(t, it.Abundances, it.Index)
	}

	res, err := Unmix(x, opt)
	require.NoError(t, err)

	_, k := res.Endmembers.Dims()
	assert.GreaterOrEqual(t, k, 2)
	assert.LessOrEqual(t, k, 6)
	assert.Len(t, res.Kept, k)
	assert.Len(t, res.Kept, 6-len(res.Pruned))
	assert.LessOrEqual(t, res.Iterations, 200)
	assert.Equal(t, last, res.Objective)
	assert.False(t, math.IsNaN(res.Objective))

	m, kp := res.Abundances.Dims()
	require.Equal(t, 100, m)
	require.Equal(t, k, kp)
	for i := range m {
		row := res.Abundances.RawRowView(i)
		assert.InDelta(t, 1, floats.Sum(row), 1e-8)
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	for j := range k {
		assert.GreaterOrEqual(t, floats.Max(mat.Col(nil, j, res.Abundances)), opt.PruneThreshold)
	}
	assert.Less(t, ReconstructionError(x, res.Endmembers, res.Abundances), 1e-2)
}

func assertSimplexRows(t *testing.T, p mat.Matrix, iteration int) {
	t.Helper()
	m, k := p.Dims()
	for i := range m {
		sum := 0.0
		for j := range k {
			v := p.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0, "iteration %d row %d", iteration, i)
			assert.LessOrEqual(t, v, 1.0, "iteration %d row %d", iteration, i)
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-6, "iteration %d row %d", iteration, i)
	}
}

func TestDefaultsRecoverThreeEndmembers(t *testing.T) {
	t.Parallel()

	x := mixedSpectra(threeBasis, 100, 0.01, 11)
	opt := quietOptions()
	opt.M0 = 6
	opt.Seed = 3
	// Pruning order is sensitive to solver roundoff; pin the default backend.
	opt.Solver = qp.ActiveSet{}
	opt.OnIteration = func(it Iteration) { assertSimplexRows(t, it.Abundances, it.Index) }

	res, err := Unmix(x, opt)
	require.NoError(t, err)

	_, k := res.Endmembers.Dims()
	assert.GreaterOrEqual(t, k, 2)
	assert.LessOrEqual(t, k, 4)
	assert.Less(t, ReconstructionError(x, res.Endmembers, res.Abundances), 5e-3)
}

func TestRunWithSLSQP(t *testing.T) {
	t.Parallel()

	x := mixedSpectra(threeBasis, 40, 0.01, 5)
	e0 := mat.NewDense(5, 3, nil)
	for j, b := range threeBasis {
		e0.SetCol(j, b)
	}
	opt := quietOptions()
	opt.M0 = 3
	opt.Gamma = 0.01
	opt.MaxIterations = 5
	opt.ChangeThreshold = 0
	opt.InitialEndmembers = e0

	opt.Solver = qp.ActiveSet{}
	want, err := Unmix(x, opt)
	require.NoError(t, err)
	opt.Solver = qp.SLSQP{}
	got, err := Unmix(x, opt)
	require.NoError(t, err)

	assert.Equal(t, 5, got.Iterations)
	assert.Equal(t, want.Kept, got.Kept)
	assert.InDelta(t, want.Objective, got.Objective, 1e-6*math.Abs(want.Objective))
	assertSimplexRows(t, got.Abundances, got.Iterations)
	assert.True(t, mat.EqualApprox(want.Abundances, got.Abundances, 1e-5))
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	x := mixedSpectra(threeBasis, 40, 0.01, 5)
	opt := quietOptions()
	opt.M0 = 5
	opt.Gamma = 0.01
	opt.MaxIterations = 25
	opt.Seed = 9

	a, err := Unmix(x, opt)
	require.NoError(t, err)
	opt.Workers = 1
	b, err := Unmix(x, opt)
	require.NoError(t, err)

	assert.True(t, mat.Equal(a.Endmembers, b.Endmembers))
	assert.True(t, mat.Equal(a.Abundances, b.Abundances))
	assert.Equal(t, a.Objective, b.Objective)
	assert.Equal(t, a.Iterations, b.Iterations)
	assert.Equal(t, a.Pruned, b.Pruned)
}

func TestIterationCap(t *testing.T) {
	t.Parallel()

	x := mixedSpectra(threeBasis, 30, 0.01, 2)
	opt := quietOptions()
	opt.M0 = 4
	opt.Gamma = 0.01
	opt.MaxIterations = 3
	opt.ChangeThreshold = 0

	res, err := Unmix(x, opt)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.True(t, res.Exhausted)
}

func TestInitErrors(t *testing.T) {
	t.Parallel()

	x := mixedSpectra(threeBasis, 10, 0, 1)
	nan := mat.DenseCopyOf(x)
	nan.Set(1, 1, math.NaN())

	tests := []struct {
		name   string
		x      *mat.Dense
		mutate func(*Options)
		field  string
		want   error
	}{
		{"nil spectra", nil, func(*Options) {}, "spectra", ErrDimension},
		{"fewer pixels than m0", x, func(o *Options) { o.M0 = 11 }, "spectra", ErrDimension},
		{"non-finite", nan, func(o *Options) { o.M0 = 3 }, "spectra", ErrDimension},
		{"bad option", x, func(o *Options) { o.M0 = 3; o.U = 1 }, "u", ErrInvalidConfig},
		{"band mismatch", x, func(o *Options) {
			o.M0 = 2
			o.InitialEndmembers = mat.NewDense(4, 2, nil)
		}, "initial_endmembers", ErrDimension},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opt := quietOptions()
			tc.mutate(&opt)
			_, err := Unmix(tc.x, opt)
			require.ErrorIs(t, err, tc.want)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestStepInitializesLazily(t *testing.T) {
	t.Parallel()

	x := constantSpectra([]float64{1, 2}, 4)
	opt := quietOptions()
	opt.M0 = 2

	u := NewUnmixer(x, opt)
	assert.Equal(t, Initializing, u.State)
	require.NoError(t, u.Step())
	assert.Equal(t, 1, u.Iteration)
	assert.Equal(t, Iterating, u.State)
	assert.True(t, math.IsInf(u.Change, 1))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "iterating", Iterating.String())
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "exhausted", Exhausted.String())
}
