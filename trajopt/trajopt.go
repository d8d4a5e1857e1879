// Package trajopt plans collision-free trajectories by smoothing a reference
// path inside a drivable corridor. Each cycle resamples the reference around
// the ego pose, searches the corridor laterally, linearizes a kinematic
// bicycle along the reference, and solves one quadratic program trading
// tracking error and steering effort against the corridor constraints.
package trajopt

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/driveline-robotics/driveline/qp"
	"github.com/driveline-robotics/driveline/trajectory"
	"github.com/driveline-robotics/driveline/vehicle"
)

// clk is normally a real clock but is swapped out in tests.
var clk = clock.New()

// PlanRequest is the input of one planning cycle.
type PlanRequest struct {
	// Path is the raw behavior path; its terminal point raises the tracking
	// weight when the horizon reaches it.
	Path []trajectory.Point
	// SmoothedPath is the smoothed reference the trajectory is planned around.
	SmoothedPath []trajectory.Point
	// EgoPose is the current vehicle pose.
	EgoPose trajectory.Pose
	// EnableAvoidance activates object clearance checks in the corridor search.
	EnableAvoidance bool
	// Clearance supplies road and object clearance around the reference.
	Clearance ClearanceProvider
}

// Plan is the output of one planning cycle.
type Plan struct {
	// Points is the optimized trajectory.
	Points []trajectory.Point
	// ReferencePoints carry the per-point corridor and optimized state, mainly
	// for debugging and visualization.
	ReferencePoints []ReferencePoint
	Diagnostics     Diagnostics
}

// Optimizer is the planning engine. It carries the previous cycle's solution
// for warm starting and front-point pinning; one Optimizer serves one vehicle.
type Optimizer struct {
	mu     sync.Mutex
	logger golog.Logger

	cfg     Config
	info    vehicle.Info
	model   vehicle.Model
	circles []vehicle.Circle

	solver       *qp.Solver
	prevProblemN int
	prevProblemM int

	prevRefPoints []ReferencePoint
}

// New validates the configuration and sets up an optimizer.
func New(info vehicle.Info, cfg Config, logger golog.Logger) (*Optimizer, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	circles, err := buildCircles(info, cfg)
	if err != nil {
		return nil, err
	}
	return &Optimizer{
		logger:  logger,
		cfg:     cfg,
		info:    info,
		model:   vehicle.NewKinematicBicycle(info.Wheelbase, info.MaxSteer),
		circles: circles,
	}, nil
}

func buildCircles(info vehicle.Info, cfg Config) ([]vehicle.Circle, error) {
	switch cfg.VehicleCircleMethod {
	case CircleMethodUniform:
		return vehicle.UniformCircles(info, cfg.VehicleCircleNum, cfg.VehicleCircleRadiusRatios[0]), nil
	case CircleMethodRearDrive:
		return vehicle.RearDriveCircles(
			info, cfg.VehicleCircleNum, cfg.VehicleCircleRadiusRatios[0], cfg.VehicleCircleRadiusRatios[1]), nil
	case CircleMethodBicycleModel:
		return vehicle.BicycleModelCircles(
			info, cfg.VehicleCircleNum, cfg.VehicleCircleRadiusRatios[0], cfg.VehicleCircleRadiusRatios[1]), nil
	}
	return nil, errors.Errorf("unknown vehicle circle method %q", cfg.VehicleCircleMethod)
}

// Reconfigure swaps the configuration between cycles. The solver state is
// dropped since the problem shape may change; the previous trajectory is kept.
func (o *Optimizer) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	circles, err := buildCircles(o.info, cfg)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	o.circles = circles
	o.solver = nil
	o.prevProblemN = 0
	o.prevProblemM = 0
	return nil
}

// Reset drops the previous cycle's solution, forcing the next cycle to plan
// without pinned points or warm start. Call it when the route changes.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prevRefPoints = nil
	o.solver = nil
	o.prevProblemN = 0
	o.prevProblemM = 0
}

// Optimize runs one planning cycle. On failure the previous cycle's state is
// left untouched so the caller can keep publishing the last good trajectory.
func (o *Optimizer) Optimize(ctx context.Context, req *PlanRequest) (*Plan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := clk.Now()
	var diag Diagnostics

	if len(req.Path) == 0 || len(req.SmoothedPath) < 2 {
		return nil, errors.Wrap(ErrFewPoints, "plan request")
	}
	if req.Clearance == nil {
		return nil, errors.New("clearance provider is required")
	}

	refStart := clk.Now()
	refPoints, invalidBounds, err := o.buildReferencePoints(ctx, req, o.prevRefPoints, &diag)
	if err != nil {
		return nil, err
	}
	diag.ReferencePointsDuration = clk.Since(refStart)
	diag.InvalidBoundsCount = invalidBounds

	fixed, nonFixed := splitFixedPoints(refPoints)
	diag.FixedPointCount = len(fixed)
	if len(nonFixed) < 2 {
		return nil, errors.Wrap(ErrFewPoints, "non-fixed reference points")
	}

	matrixStart := clk.Now()
	mptMat := o.generateMPTMatrix(nonFixed)
	valMat := o.generateValueMatrix(nonFixed, req.Path)
	diag.MatrixDuration = clk.Since(matrixStart)

	solveStart := clk.Now()
	u, err := o.executeOptimization(nonFixed, mptMat, valMat, o.prevRefPoints, &diag)
	diag.SolveDuration = clk.Since(solveStart)
	if err != nil {
		return nil, err
	}

	points := o.reconstructTrajectory(fixed, nonFixed, u, mptMat)

	full := make([]ReferencePoint, 0, len(fixed)+len(nonFixed))
	full = append(full, fixed...)
	full = append(full, nonFixed...)
	o.prevRefPoints = full

	diag.TotalDuration = clk.Since(start)
	o.logger.Debugw("planning cycle finished",
		"points", len(points),
		"fixed", len(fixed),
		"invalid_bounds", invalidBounds,
		"iterations", diag.Iterations,
		"warm_started", diag.WarmStarted,
		"total", diag.TotalDuration,
	)

	return &Plan{Points: points, ReferencePoints: full, Diagnostics: diag}, nil
}

// splitFixedPoints separates the leading run of pinned points from the rest.
// A point stays in the fixed prefix only when the three points after it are
// pinned too, so the optimized segment never starts right at a pin boundary.
func splitFixedPoints(refPoints []ReferencePoint) (fixed, nonFixed []ReferencePoint) {
	isFixing := true
	for i := range refPoints {
		if i == len(refPoints)-1 {
			if refPoints[i].FixedState == nil {
				isFixing = false
			}
		} else if refPoints[i].FixedState == nil ||
			i+3 >= len(refPoints) ||
			refPoints[i+1].FixedState == nil ||
			refPoints[i+2].FixedState == nil ||
			refPoints[i+3].FixedState == nil {
			isFixing = false
		}
		if isFixing {
			fixed = append(fixed, refPoints[i])
		} else {
			nonFixed = append(nonFixed, refPoints[i])
		}
	}
	return fixed, nonFixed
}
