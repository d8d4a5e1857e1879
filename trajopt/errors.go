package trajopt

import "errors"

// ErrFewPoints is returned when fewer than two usable reference points remain
// after resampling and cropping; the caller must hold the last command or stop.
var ErrFewPoints = errors.New("too few reference points to optimize over")

// ErrNoSolution is returned when the quadratic program does not converge; the
// caller must reuse the previous trajectory rather than propagate a stale path.
var ErrNoSolution = errors.New("trajectory optimization did not converge")
