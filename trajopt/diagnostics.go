package trajopt

import (
	"time"

	"github.com/driveline-robotics/driveline/qp"
)

// Diagnostics reports what happened during one planning cycle. It is produced
// for external observability and is never consumed by the engine itself.
type Diagnostics struct {
	// SolveStatus is the QP solver's terminal status.
	SolveStatus qp.Status
	// Iterations is the QP iteration count.
	Iterations int
	// WarmStarted is true when the solver kept its state from the previous cycle.
	WarmStarted bool
	// InvalidBoundsCount is the number of reference points whose corridor
	// search failed and was relaxed to the wide fallback bound.
	InvalidBoundsCount int
	// FixedPointCount is the number of points pinned to the previous solution.
	FixedPointCount int

	// per-stage wall times
	ReferencePointsDuration time.Duration
	BoundsSearchDuration    time.Duration
	VehicleBoundsDuration   time.Duration
	MatrixDuration          time.Duration
	SolveDuration           time.Duration
	TotalDuration           time.Duration
}
