package spice

import (
	"math"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/setanarut/spice/qp"
)

// InitMethod selects how the initial endmembers are chosen when none are
// supplied.
type InitMethod int

const (
	// InitRandom picks M₀ distinct pixels uniformly at random.
	InitRandom InitMethod = iota
	// InitKMeans uses k-means cluster centers of the pixels. The clustering
	// draws from the process-wide random source, so Seed does not apply and
	// repeated runs may start from different centers.
	InitKMeans
)

func (m InitMethod) String() string {
	switch m {
	case InitKMeans:
		return "kmeans"
	default:
		return "random"
	}
}

// ParseInitMethod parses "random" or "kmeans".
func ParseInitMethod(s string) (InitMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "random":
		return InitRandom, nil
	case "kmeans", "k-means":
		return InitKMeans, nil
	}
	return 0, configErrorf("init", ErrInvalidConfig, "unknown method %q", s)
}

func (m InitMethod) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *InitMethod) UnmarshalText(b []byte) error {
	v, err := ParseInitMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type Options struct {
	// Trade-off between reconstruction error and endmember spread, in (0,1).
	// Ideal start: 0.001. Higher pulls endmembers toward each other.
	U float64 `mapstructure:"u" yaml:"u"`
	// Sparsity weight. Higher prunes more aggressively; 0 disables pruning
	// pressure entirely.
	Gamma float64 `mapstructure:"gamma" yaml:"gamma"`
	// Initial number of endmembers, at least 2.
	M0 int `mapstructure:"m0" yaml:"m0"`
	// Endmembers whose largest abundance over all pixels falls below this
	// value are pruned.
	PruneThreshold float64 `mapstructure:"prune_threshold" yaml:"prune_threshold"`
	// Convergence threshold on the absolute change of the objective.
	ChangeThreshold float64 `mapstructure:"change_threshold" yaml:"change_threshold"`
	// Iteration cap.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`

	// Initialization when InitialEndmembers is nil.
	Init InitMethod `mapstructure:"init" yaml:"init"`
	// Seed for random initialization.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
	// Optional caller-supplied N×M₀ initial endmembers.
	InitialEndmembers *mat.Dense `mapstructure:"-" yaml:"-"`

	// Parallel abundance workers. Zero means GOMAXPROCS.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Abundance QP backend. Nil selects qp.ActiveSet{}.
	Solver qp.Solver `mapstructure:"-" yaml:"-"`

	// Logger receives progress and prune events. Nil selects the logrus
	// standard logger.
	Logger logrus.FieldLogger `mapstructure:"-" yaml:"-"`
	// Progress is logged every LogEvery iterations at debug level.
	LogEvery int `mapstructure:"log_every" yaml:"log_every"`
	// OnIteration, when set, is called after every iteration barrier.
	OnIteration func(Iteration) `mapstructure:"-" yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		U:               0.001,
		Gamma:           5,
		M0:              20,
		PruneThreshold:  1e-9,
		ChangeThreshold: 1e-4,
		MaxIterations:   5000,
		LogEvery:        50,
	}
}

// OptionsFromData returns DefaultOptions with M₀ clamped to the number of
// pixels available.
func OptionsFromData(pixels int) Options {
	opt := DefaultOptions()
	if pixels > 0 {
		opt.M0 = max(2, min(opt.M0, pixels))
	}
	return opt
}

// Validate reports the first inconsistent field as a *ConfigError.
func (o Options) Validate() error {
	switch {
	case math.IsNaN(o.U) || o.U <= 0 || o.U >= 1:
		return configErrorf("u", ErrInvalidConfig, "%v not in (0,1)", o.U)
	case math.IsNaN(o.Gamma) || o.Gamma < 0:
		return configErrorf("gamma", ErrInvalidConfig, "%v is negative", o.Gamma)
	case o.M0 < 2:
		return configErrorf("m0", ErrInvalidConfig, "%d endmembers, need at least 2", o.M0)
	case math.IsNaN(o.PruneThreshold) || o.PruneThreshold < 0:
		return configErrorf("prune_threshold", ErrInvalidConfig, "%v is negative", o.PruneThreshold)
	case math.IsNaN(o.ChangeThreshold) || o.ChangeThreshold < 0:
		return configErrorf("change_threshold", ErrInvalidConfig, "%v is negative", o.ChangeThreshold)
	case o.MaxIterations < 1:
		return configErrorf("max_iterations", ErrInvalidConfig, "%d, need at least 1", o.MaxIterations)
	case o.Workers < 0:
		return configErrorf("workers", ErrInvalidConfig, "%d is negative", o.Workers)
	case o.Init != InitRandom && o.Init != InitKMeans:
		return configErrorf("init", ErrInvalidConfig, "unknown method %d", o.Init)
	}
	if o.InitialEndmembers != nil {
		if _, c := o.InitialEndmembers.Dims(); c != o.M0 {
			return configErrorf("initial_endmembers", ErrDimension, "%d columns, m0 is %d", c, o.M0)
		}
	}
	return nil
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) solver() qp.Solver {
	if o.Solver != nil {
		return o.Solver
	}
	return qp.ActiveSet{}
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// lambda is the endmember spread weight for k endmembers and m pixels.
func lambda(m, k int, u float64) float64 {
	return float64(m) * u / (float64(k-1) * (1 - u))
}
