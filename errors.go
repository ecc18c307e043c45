package spice

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. ConfigError and OptimizationError wrap them.
var (
	// ErrInvalidConfig marks a malformed or inconsistent Options value.
	ErrInvalidConfig = errors.New("spice: invalid configuration")
	// ErrDimension marks a spectral matrix or endmember set of the wrong shape.
	ErrDimension = errors.New("spice: dimension mismatch")
	// ErrEndmembersExhausted marks pruning that would leave fewer than two endmembers.
	ErrEndmembersExhausted = errors.New("spice: endmember count exhausted")
	// ErrSingularSystem marks a singular or ill-conditioned endmember update.
	ErrSingularSystem = errors.New("spice: singular endmember system")
	// ErrSolverFailed marks a failed abundance QP solve.
	ErrSolverFailed = errors.New("spice: abundance solver failed")
)

// ConfigError is returned before the optimization loop starts when the
// options or inputs are unusable.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("spice: config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field string, sentinel error, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// Stage names the loop step that produced an OptimizationError.
type Stage string

const (
	StageAbundance Stage = "abundance"
	StageEndmember Stage = "endmember"
	StagePrune     Stage = "prune"
)

// OptimizationError is returned when the loop cannot continue. The run is
// not retried; callers may restart with different options.
type OptimizationError struct {
	Iteration int
	Stage     Stage
	Err       error
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("spice: iteration %d: %s: %v", e.Iteration, e.Stage, e.Err)
}

func (e *OptimizationError) Unwrap() error { return e.Err }
