// Package simerr holds the error taxonomy shared by every simulator component.
//
// Callers match with errors.Is; producers wrap with fmt.Errorf("%w: ...", simerr.ErrX).
package simerr

import "errors"

// #region sentinels
var (
	// ErrNotReady means an operation ran outside its allowed lifecycle state.
	// Recoverable by calling Reset.
	ErrNotReady = errors.New("not ready")

	// ErrInitialConstraintViolation means the initial setpoints or dependent
	// variables violate their bounds. Fatal for the session.
	ErrInitialConstraintViolation = errors.New("initial constraint violation")

	// ErrKeySetMismatch means an action's key set differs from the setpoint key set.
	ErrKeySetMismatch = errors.New("action key set mismatch")

	// ErrConfiguration covers malformed schedules, unknown variable references,
	// missing surrogate artifacts and unsupported model classes.
	ErrConfiguration = errors.New("configuration error")

	// ErrSurrogateFailure means a prediction or calculation failed during a step.
	ErrSurrogateFailure = errors.New("surrogate failure")

	// ErrSchedulingViolation means a deterministic schedule entry can no longer fire.
	ErrSchedulingViolation = errors.New("scheduling violation")
)

// #endregion sentinels

// #region helpers

// Fatal reports whether err should close the environment. Everything except
// ErrNotReady is fatal.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrNotReady)
}

// #endregion helpers
