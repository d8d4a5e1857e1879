package trajopt

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/driveline-robotics/driveline/spline"
	"github.com/driveline-robotics/driveline/trajectory"
)

// KinematicState is the lateral error state of the vehicle relative to a
// reference point: lateral offset and yaw deviation.
type KinematicState struct {
	Lat float64
	Yaw float64
}

// ReferencePoint is one sample of the reference path carrying everything the
// optimization needs at that station: geometry, the admissible corridor, the
// per-circle projected corridor, and the latest optimized state.
type ReferencePoint struct {
	Pos   r2.Point
	Yaw   float64
	Speed float64

	Curvature      float64
	DeltaArcLength float64

	// Alpha is the angle from the reference yaw to the azimuth of the
	// optimization center, used to recenter the tracking error.
	Alpha float64

	Bounds      Bounds
	NearObjects bool

	// CorridorValid is false when the bounds search found no usable corridor
	// and fell back to the sentinel.
	CorridorValid bool

	// FixedState, when set, pins this point to the previous cycle's solution.
	FixedState *KinematicState

	OptimizedState KinematicState
	OptimizedInput float64

	// VehicleBounds and Beta hold, per footprint circle, the corridor
	// projected to the circle center and the yaw of the reference there
	// relative to this point.
	VehicleBounds []Bounds
	Beta          []float64
}

func (rp *ReferencePoint) pose() trajectory.Pose {
	return trajectory.Pose{Pos: rp.Pos, Yaw: rp.Yaw}
}

func refPointsToTrajectory(refPoints []ReferencePoint) []trajectory.Point {
	points := make([]trajectory.Point, len(refPoints))
	for i, rp := range refPoints {
		points[i] = trajectory.Point{Pos: rp.Pos, Yaw: rp.Yaw, Speed: rp.Speed}
	}
	return points
}

// margins beyond the optimization horizon kept while geometry is derived
const (
	cropLengthMargin       = 10.0
	boundsProjectionMargin = 20.0
)

// buildReferencePoints resamples the smoothed path around the ego pose,
// derives curvature and yaw, pins the leading points to the previous cycle,
// and attaches the drivable corridor. It returns the number of points whose
// corridor search failed.
func (o *Optimizer) buildReferencePoints(
	ctx context.Context, req *PlanRequest, prev []ReferencePoint, diag *Diagnostics,
) ([]ReferencePoint, int, error) {
	forwardLength := float64(o.cfg.NumPoints) * o.cfg.DeltaArcLength
	backwardLength := o.cfg.BackwardTrajLength

	resampled := trajectory.Resample(req.SmoothedPath, o.cfg.DeltaArcLength)
	if len(resampled) < 2 {
		return nil, 0, errors.Wrap(ErrFewPoints, "resampled path")
	}

	egoSeg := trajectory.NearestSegmentIndexSoft(
		resampled, req.EgoPose, o.cfg.EgoNearestDistThreshold, o.cfg.EgoNearestYawThreshold)
	cropped := trajectory.Crop(
		resampled, req.EgoPose.Pos, egoSeg, forwardLength+cropLengthMargin, backwardLength)
	if len(cropped) < 2 {
		return nil, 0, errors.Wrap(ErrFewPoints, "cropped path")
	}

	refPoints := make([]ReferencePoint, len(cropped))
	for i, p := range cropped {
		refPoints[i] = ReferencePoint{Pos: p.Pos, Yaw: p.Yaw, Speed: p.Speed, CorridorValid: true}
	}

	if err := o.calcCurvature(refPoints); err != nil {
		return nil, 0, err
	}
	if err := o.calcOrientation(refPoints); err != nil {
		return nil, 0, err
	}

	o.spliceFixedPoints(refPoints, prev)
	refPoints = clipForwardRef(refPoints, forwardLength+boundsProjectionMargin)

	boundsStart := clk.Now()
	invalidBoundsCount := o.calcBounds(ctx, refPoints, req.EnableAvoidance, req.EgoPose, req.Clearance, prev)
	diag.BoundsSearchDuration = clk.Since(boundsStart)
	for i := range refPoints {
		if refPoints[i].Bounds.isInvalidSentinel() {
			refPoints[i].CorridorValid = false
		}
	}
	vehicleBoundsStart := clk.Now()
	if err := o.calcVehicleBounds(refPoints); err != nil {
		return nil, 0, err
	}
	diag.VehicleBoundsDuration = clk.Since(vehicleBoundsStart)
	calcDeltaArcLengths(refPoints)
	o.calcExtraPoints(refPoints, prev)

	refPoints = clipForwardRef(refPoints, forwardLength)
	if len(refPoints) < 2 {
		return nil, 0, errors.Wrap(ErrFewPoints, "clipped reference points")
	}
	return refPoints, invalidBoundsCount, nil
}

// calcCurvature fits a circle through three samples spread over a window
// around each point. Points near the ends copy the nearest interior value, and
// points pinned to the previous cycle keep the curvature they were solved with.
func (o *Optimizer) calcCurvature(refPoints []ReferencePoint) error {
	n := len(refPoints)
	window := o.cfg.NumCurvatureSamplingPoints
	if maxWindow := (n - 1) / 2; window > maxWindow {
		window = maxWindow
	}
	if window < 1 {
		return errors.Wrap(ErrFewPoints, "curvature sampling")
	}

	for i := window; i < n-window; i++ {
		if refPoints[i].FixedState != nil {
			continue
		}
		p0 := refPoints[i-window].Pos
		p1 := refPoints[i].Pos
		p2 := refPoints[i+window].Pos
		d01 := p1.Sub(p0).Norm()
		d12 := p2.Sub(p1).Norm()
		d02 := p2.Sub(p0).Norm()
		denom := d01 * d12 * d02
		if denom < 1e-10 {
			refPoints[i].Curvature = 0
			continue
		}
		cross := (p1.X-p0.X)*(p2.Y-p0.Y) - (p1.Y-p0.Y)*(p2.X-p0.X)
		refPoints[i].Curvature = 2 * cross / denom
	}
	for i := 0; i < window; i++ {
		if refPoints[i].FixedState == nil {
			refPoints[i].Curvature = refPoints[window].Curvature
		}
		if refPoints[n-1-i].FixedState == nil {
			refPoints[n-1-i].Curvature = refPoints[n-1-window].Curvature
		}
	}
	return nil
}

// calcOrientation rebuilds yaw from a spline through the positions so that the
// heading is consistent with the resampled geometry.
func (o *Optimizer) calcOrientation(refPoints []ReferencePoint) error {
	positions := make([]r2.Point, len(refPoints))
	for i, rp := range refPoints {
		positions[i] = rp.Pos
	}
	yaws, err := spline.Yaws(positions)
	if err != nil {
		return errors.Wrap(err, "orientation spline")
	}
	for i := range refPoints {
		if refPoints[i].FixedState != nil {
			continue
		}
		refPoints[i].Yaw = yaws[i]
	}
	return nil
}

// spliceFixedPoints overwrites the leading points with the matching points of
// the previous cycle and pins their kinematic state, so consecutive solutions
// join without a step.
func (o *Optimizer) spliceFixedPoints(refPoints []ReferencePoint, prev []ReferencePoint) {
	if len(prev) == 0 || o.cfg.NumFixedFrontPoints == 0 {
		return
	}
	prevPoints := refPointsToTrajectory(prev)
	startIdx := trajectory.NearestSegmentIndexSoft(
		prevPoints, refPoints[0].pose(), o.cfg.EgoNearestDistThreshold, o.cfg.EgoNearestYawThreshold)

	for k := 0; k < o.cfg.NumFixedFrontPoints && k < len(refPoints); k++ {
		prevIdx := startIdx + k
		if prevIdx >= len(prev) {
			break
		}
		fixed := prev[prevIdx]
		state := fixed.OptimizedState
		fixed.FixedState = &state
		fixed.Bounds = Bounds{}
		fixed.VehicleBounds = nil
		fixed.Beta = nil
		fixed.CorridorValid = true
		refPoints[k] = fixed
	}
}

func calcDeltaArcLengths(refPoints []ReferencePoint) {
	for i := range refPoints {
		if i == 0 {
			refPoints[i].DeltaArcLength = 0
			continue
		}
		refPoints[i].DeltaArcLength = refPoints[i].Pos.Sub(refPoints[i-1].Pos).Norm()
	}
}

// calcExtraPoints derives the recentering angle alpha at every point and marks
// the stretch of points close to avoidable objects.
func (o *Optimizer) calcExtraPoints(refPoints []ReferencePoint, prev []ReferencePoint) {
	var prevPoints []trajectory.Point
	if len(prev) > 0 {
		prevPoints = refPointsToTrajectory(prev)
	}

	centerOffset := o.cfg.OptimizationCenterOffset
	if centerOffset == 0 {
		centerOffset = 0.8 * o.info.Wheelbase
	}

	for i := range refPoints {
		centerPos := nearestPositionAlong(refPoints, i, centerOffset)
		centerYaw := refPoints[i].Yaw
		if centerPos.Sub(refPoints[i].Pos).Norm() > 1e-3 {
			centerYaw = math.Atan2(centerPos.Y-refPoints[i].Pos.Y, centerPos.X-refPoints[i].Pos.X)
		}
		refPoints[i].Alpha = trajectory.NormalizeRadian(centerYaw - refPoints[i].Yaw)

		refPoints[i].NearObjects = o.isNearObjects(refPoints, i)
		if !refPoints[i].NearObjects && len(prevPoints) > 0 {
			// inherit from the previous cycle to keep the weights stable
			prevIdx := trajectory.NearestIndexSoft(
				prevPoints, refPoints[i].pose(), o.cfg.EgoNearestDistThreshold, o.cfg.EgoNearestYawThreshold)
			if prev[prevIdx].Pos.Sub(refPoints[i].Pos).Norm() < 1.0 && prev[prevIdx].NearObjects {
				refPoints[i].NearObjects = true
			}
		}
	}
}

// nearestPositionAlong walks the reference points forward from beginIdx and
// interpolates the position at the given arc-length offset.
func nearestPositionAlong(refPoints []ReferencePoint, beginIdx int, offset float64) r2.Point {
	sum := 0.0
	for i := beginIdx; i < len(refPoints)-1; i++ {
		ds := refPoints[i+1].Pos.Sub(refPoints[i].Pos).Norm()
		if sum+ds >= offset {
			if ds < 1e-10 {
				return refPoints[i].Pos
			}
			ratio := (offset - sum) / ds
			d := refPoints[i+1].Pos.Sub(refPoints[i].Pos)
			return refPoints[i].Pos.Add(r2.Point{X: d.X * ratio, Y: d.Y * ratio})
		}
		sum += ds
	}
	return refPoints[len(refPoints)-1].Pos
}

func (o *Optimizer) isNearObjects(refPoints []ReferencePoint, idx int) bool {
	if o.cfg.DeltaArcLength <= 0 {
		return false
	}
	steps := int(o.cfg.NearObjectsLength / o.cfg.DeltaArcLength)
	begin := idx - steps
	if begin < 0 {
		begin = 0
	}
	end := idx + steps
	if end > len(refPoints) {
		end = len(refPoints)
	}
	for i := begin; i < end; i++ {
		if len(refPoints[i].VehicleBounds) > 0 && refPoints[i].VehicleBounds[0].HasObjectCollision() {
			return true
		}
	}
	return false
}

// clipForwardRef keeps the leading run of points whose accumulated arc length
// stays within forwardLength.
func clipForwardRef(refPoints []ReferencePoint, forwardLength float64) []ReferencePoint {
	sum := 0.0
	for i := 1; i < len(refPoints); i++ {
		sum += refPoints[i].Pos.Sub(refPoints[i-1].Pos).Norm()
		if sum > forwardLength {
			return refPoints[:i]
		}
	}
	return refPoints
}
