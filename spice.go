// Package spice implements Sparsity-Promoting Iterated Constrained
// Endmembers (SPICE) spectral unmixing.
//
// Given an N×M matrix of mixed spectra (one pixel per column), SPICE finds
// a small set of endmember spectra and per-pixel abundances on the
// probability simplex that reconstruct the data. Endmembers that no pixel
// uses are pruned while the optimization runs, so the final count may be
// smaller than the configured M₀.
package spice

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// State is the controller state.
type State int

const (
	Initializing State = iota
	Iterating
	Converged
	Exhausted
)

func (s State) String() string {
	switch s {
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return "initializing"
	}
}

// Iteration is passed to Options.OnIteration after every iteration barrier.
// The matrices are the live state and must not be modified.
type Iteration struct {
	Index      int
	K          int
	Objective  float64
	Change     float64
	Lambda     float64
	Pruned     []int // original indices pruned in this iteration
	Endmembers mat.Matrix
	Abundances mat.Matrix
}

// Result is the outcome of a run.
type Result struct {
	Endmembers *mat.Dense // N×K
	Abundances *mat.Dense // M×K
	Objective  float64
	Iterations int
	// Exhausted reports that the iteration cap was reached before the
	// objective change fell below the threshold.
	Exhausted bool
	// Kept holds the original (0..M₀-1) index of every surviving endmember,
	// Pruned the original indices removed, in removal order.
	Kept   []int
	Pruned []int
}

// Unmixer owns the optimizer state of one run. Spectra is read-only.
// Endmembers and Abundances are replaced wholesale by every Step.
type Unmixer struct {
	Spectra    *mat.Dense // N×M
	Options    Options
	Endmembers *mat.Dense // N×K
	Abundances *mat.Dense // M×K
	K          int
	Lambda     float64
	Objective  float64
	Change     float64
	Iteration  int
	State      State

	kept   []int
	pruned []int
	log    logrus.FieldLogger
}

// Unmix runs SPICE on the N×M spectral matrix x.
func Unmix(x *mat.Dense, opt Options) (*Result, error) {
	u := NewUnmixer(x, opt)
	return u.Run()
}

func NewUnmixer(x *mat.Dense, opt Options) *Unmixer {
	return &Unmixer{
		Spectra: x,
		Options: opt,
	}
}

// Init validates the inputs and sets up the initial endmembers, uniform
// abundances and lambda. Errors are *ConfigError.
func (u *Unmixer) Init() error {
	opt := u.Options
	if err := opt.Validate(); err != nil {
		return err
	}
	if u.Spectra == nil {
		return configErrorf("spectra", ErrDimension, "nil spectral matrix")
	}
	n, m := u.Spectra.Dims()
	if m < opt.M0 {
		return configErrorf("spectra", ErrDimension, "%d pixels, m0 is %d", m, opt.M0)
	}
	if err := checkFinite(u.Spectra); err != nil {
		return err
	}

	var e *mat.Dense
	switch {
	case opt.InitialEndmembers != nil:
		if r, _ := opt.InitialEndmembers.Dims(); r != n {
			return configErrorf("initial_endmembers", ErrDimension, "%d bands, spectra have %d", r, n)
		}
		e = mat.DenseCopyOf(opt.InitialEndmembers)
	case opt.Init == InitKMeans:
		if opt.Seed != 0 {
			opt.logger().WithField("seed", opt.Seed).Warn("spice: kmeans initialization ignores seed")
		}
		var err error
		if e, err = kmeansEndmembers(u.Spectra, opt.M0); err != nil {
			return err
		}
	default:
		e = randomEndmembers(u.Spectra, opt.M0, opt.Seed)
	}

	_, k := e.Dims()
	u.Endmembers = e
	u.Abundances = uniformAbundances(m, k)
	u.K = k
	u.Lambda = lambda(m, k, opt.U)
	u.Objective = math.Inf(1)
	u.Change = math.Inf(1)
	u.Iteration = 0
	u.State = Initializing
	u.kept = make([]int, k)
	for j := range u.kept {
		u.kept[j] = j
	}
	u.pruned = nil
	u.log = opt.logger()
	return nil
}

// Step runs one iteration: abundances, endmembers, pruning, objective.
// Step on a terminated Unmixer still runs an iteration and updates the
// state, which is how the convergence of a finished run can be checked.
func (u *Unmixer) Step() error {
	if u.Endmembers == nil {
		if err := u.Init(); err != nil {
			return err
		}
	}
	opt := u.Options
	it := u.Iteration + 1
	if u.State == Initializing {
		u.State = Iterating
	}

	p, err := estimateAbundances(u.Spectra, u.Endmembers, u.Abundances, opt.Gamma, opt.solver(), opt.workers())
	if err != nil {
		return &OptimizationError{Iteration: it, Stage: StageAbundance, Err: err}
	}
	e, err := estimateEndmembers(u.Spectra, p, u.Lambda)
	if err != nil {
		return &OptimizationError{Iteration: it, Stage: StageEndmember, Err: err}
	}

	keep, drop := pruneColumns(p, opt.PruneThreshold)
	var prunedNow []int
	if len(drop) > 0 {
		if len(keep) < 2 {
			return &OptimizationError{Iteration: it, Stage: StagePrune, Err: fmt.Errorf("%w: %d of %d endmembers below %g",
				ErrEndmembersExhausted, len(drop), u.K, opt.PruneThreshold)}
		}
		e = selectColumns(e, keep)
		p = selectColumns(p, keep)
		prunedNow = make([]int, len(drop))
		for i, j := range drop {
			prunedNow[i] = u.kept[j]
		}
		kept := make([]int, len(keep))
		for i, j := range keep {
			kept[i] = u.kept[j]
		}
		u.kept = kept
		u.pruned = append(u.pruned, prunedNow...)
		_, m := u.Spectra.Dims()
		u.K = len(keep)
		u.Lambda = lambda(m, u.K, opt.U)
		u.log.WithFields(logrus.Fields{
			"iteration": it,
			"k":         u.K,
			"pruned":    prunedNow,
		}).Info("spice: pruned endmembers")
	}
	u.Endmembers = e
	u.Abundances = p

	obj := objective(u.Spectra, e, p, opt.U, opt.Gamma)
	u.Change = math.Abs(obj - u.Objective)
	u.Objective = obj
	u.Iteration = it

	switch {
	case u.Change <= opt.ChangeThreshold:
		u.State = Converged
	case it >= opt.MaxIterations:
		u.State = Exhausted
	default:
		u.State = Iterating
	}

	if opt.LogEvery > 0 && (it == 1 || it%opt.LogEvery == 0) {
		u.log.WithFields(logrus.Fields{
			"iteration": it,
			"k":         u.K,
			"objective": obj,
			"change":    u.Change,
		}).Debug("spice: progress")
	}
	if opt.OnIteration != nil {
		opt.OnIteration(Iteration{
			Index:      it,
			K:          u.K,
			Objective:  obj,
			Change:     u.Change,
			Lambda:     u.Lambda,
			Pruned:     prunedNow,
			Endmembers: e,
			Abundances: p,
		})
	}
	return nil
}

// Run initializes the state and iterates until convergence or the
// iteration cap.
func (u *Unmixer) Run() (*Result, error) {
	if err := u.Init(); err != nil {
		return nil, err
	}
	for u.State == Initializing || u.State == Iterating {
		if err := u.Step(); err != nil {
			return nil, err
		}
	}
	u.log.WithFields(logrus.Fields{
		"iterations": u.Iteration,
		"k":          u.K,
		"objective":  u.Objective,
		"state":      u.State.String(),
	}).Info("spice: finished")
	return u.Result(), nil
}

// Result snapshots the current state.
func (u *Unmixer) Result() *Result {
	return &Result{
		Endmembers: mat.DenseCopyOf(u.Endmembers),
		Abundances: mat.DenseCopyOf(u.Abundances),
		Objective:  u.Objective,
		Iterations: u.Iteration,
		Exhausted:  u.State == Exhausted,
		Kept:       slices.Clone(u.kept),
		Pruned:     slices.Clone(u.pruned),
	}
}

func checkFinite(x *mat.Dense) error {
	r, c := x.Dims()
	for i := range r {
		for j, v := range x.RawRowView(i)[:c] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return configErrorf("spectra", ErrDimension, "non-finite value at band %d pixel %d", i, j)
			}
		}
	}
	return nil
}

func uniformAbundances(m, k int) *mat.Dense {
	data := make([]float64, m*k)
	v := 1 / float64(k)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(m, k, data)
}

// selectColumns copies the listed columns of a, in order, into a new matrix.
func selectColumns(a *mat.Dense, cols []int) *mat.Dense {
	r, _ := a.Dims()
	out := mat.NewDense(r, len(cols), nil)
	col := make([]float64, r)
	for dst, src := range cols {
		mat.Col(col, src, a)
		out.SetCol(dst, col)
	}
	return out
}
