package trajopt

import (
	"context"
	"math"

	"github.com/golang/geo/r2"

	"github.com/driveline-robotics/driveline/trajectory"
	"github.com/driveline-robotics/driveline/utils"
)

// CollisionType classifies what terminates a corridor interval at one end.
type CollisionType int

const (
	// CollisionNone marks a drivable probe.
	CollisionNone CollisionType = iota
	// CollisionOutOfSight marks a probe outside the mapped clearance data.
	CollisionOutOfSight
	// CollisionOutOfRoad marks a probe too close to the road boundary.
	CollisionOutOfRoad
	// CollisionObject marks a probe too close to an avoidable object.
	CollisionObject
)

func (c CollisionType) String() string {
	switch c {
	case CollisionNone:
		return "no_collision"
	case CollisionOutOfSight:
		return "out_of_sight"
	case CollisionOutOfRoad:
		return "out_of_road"
	case CollisionObject:
		return "object"
	}
	return "unknown"
}

// Bounds is one admissible lateral-offset interval at a reference point,
// positive to the left. The collision types record what bounds each side.
type Bounds struct {
	Lower     float64
	Upper     float64
	LowerType CollisionType
	UpperType CollisionType
}

// HasObjectCollision reports whether either side is bounded by an object.
func (b Bounds) HasObjectCollision() bool {
	return b.LowerType == CollisionObject || b.UpperType == CollisionObject
}

// invalidBounds is the sentinel emitted when no usable corridor exists at a
// point. It is relaxed to a wide bound before reaching the solver.
func invalidBounds() Bounds {
	return Bounds{
		Lower:     -maxSearchHalfWidth,
		Upper:     maxSearchHalfWidth,
		LowerType: CollisionOutOfRoad,
		UpperType: CollisionOutOfRoad,
	}
}

func (b Bounds) isInvalidSentinel() bool {
	return b == invalidBounds()
}

// lerpBounds interpolates two bounds; collision types snap to the nearer end.
func lerpBounds(prev, next Bounds, ratio float64) Bounds {
	out := Bounds{
		Lower: prev.Lower + (next.Lower-prev.Lower)*ratio,
		Upper: prev.Upper + (next.Upper-prev.Upper)*ratio,
	}
	if ratio < 0.5 {
		out.LowerType = prev.LowerType
		out.UpperType = prev.UpperType
	} else {
		out.LowerType = next.LowerType
		out.UpperType = next.UpperType
	}
	return out
}

// translate shifts the interval into a frame offset laterally by the given amount.
func (b Bounds) translate(offset float64) Bounds {
	b.Lower -= offset
	b.Upper -= offset
	return b
}

// overlappedSignedLength is negative when the two intervals do not overlap.
func overlappedSignedLength(prev, candidate Bounds) float64 {
	minUpper := math.Min(candidate.Upper, prev.Upper)
	maxLower := math.Max(candidate.Lower, prev.Lower)
	return minUpper - maxLower
}

// ClearanceProvider exposes the externally built drivable-corridor data. Both
// queries return false when the position falls outside the mapped area.
type ClearanceProvider interface {
	// RoadClearance returns the distance from the position to the road boundary.
	RoadClearance(pos r2.Point) (float64, bool)
	// ObjectClearance returns the distance from the position to the nearest
	// avoidable object.
	ObjectClearance(pos r2.Point) (float64, bool)
}

// calcBounds finds one continuous corridor across the reference points and
// stores it into each point's Bounds. It returns the number of points that had
// to fall back to the invalid sentinel.
func (o *Optimizer) calcBounds(
	ctx context.Context,
	refPoints []ReferencePoint,
	enableAvoidance bool,
	egoPose trajectory.Pose,
	clearance ClearanceProvider,
	prev []ReferencePoint,
) int {
	candidatesPerPoint := make([][]Bounds, len(refPoints))
	if o.cfg.ParallelBoundsSearch && len(refPoints) >= utils.ParallelFactor {
		//nolint:errcheck // member work never errors
		utils.GroupWorkParallel(ctx, len(refPoints),
			func(groupSize int) {},
			func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
				return func(memberNum, workNum int) error {
					candidatesPerPoint[workNum] = o.boundsCandidates(enableAvoidance, refPoints[workNum].pose(), clearance)
					return nil
				}, nil
			})
	} else {
		for i := range refPoints {
			candidatesPerPoint[i] = o.boundsCandidates(enableAvoidance, refPoints[i].pose(), clearance)
		}
	}

	// thread a continuous corridor greedily from the front
	invalidCount := 0
	for i := range refPoints {
		candidates := candidatesPerPoint[i]

		if i == 0 {
			targetPos := egoPose.Pos
			if len(prev) > 0 {
				targetPos = prev[0].Pos
			}
			refPoints[i].Bounds = nearestBounds(refPoints[i].pose(), candidates, targetPos)
			if refPoints[i].Bounds.isInvalidSentinel() {
				invalidCount++
			}
			continue
		}

		prevBounds := refPoints[i-1].Bounds
		var filtered []Bounds
		for _, candidate := range candidates {
			// continuity: candidate must overlap the previous choice
			if overlappedSignedLength(prevBounds, candidate) < 0 {
				continue
			}
			// candidate must not be degenerate
			if candidate.Upper-candidate.Lower < 0 {
				continue
			}
			filtered = append(filtered, candidate)
		}

		if len(filtered) == 0 {
			o.logger.Debugw("no continuous bounds candidate; falling back to sentinel", "point", i)
			refPoints[i].Bounds = invalidBounds()
			invalidCount++
			continue
		}

		// pick the candidate whose nearer edge is closest to center
		best := filtered[0]
		bestDist := math.Min(math.Abs(best.Lower), math.Abs(best.Upper))
		for _, candidate := range filtered[1:] {
			if d := math.Min(math.Abs(candidate.Lower), math.Abs(candidate.Upper)); d < bestDist {
				best = candidate
				bestDist = d
			}
		}
		refPoints[i].Bounds = best
	}
	return invalidCount
}

// nearestBounds picks the candidate whose center is closest to the target position.
func nearestBounds(pose trajectory.Pose, candidates []Bounds, targetPos r2.Point) Bounds {
	minDist := math.MaxFloat64
	minIdx := 0
	if len(candidates) > 1 {
		for i, candidate := range candidates {
			center := (candidate.Upper + candidate.Lower) / 2
			centerPos := lateralOffsetPoint(pose, center)
			if d := centerPos.Sub(targetPos).Norm(); d < minDist {
				minDist = d
				minIdx = i
			}
		}
	}
	return candidates[minIdx]
}

// lateralOffsetPoint returns the position offset laterally (positive left)
// from the pose.
func lateralOffsetPoint(pose trajectory.Pose, offset float64) r2.Point {
	return r2.Point{
		X: pose.Pos.X - math.Sin(pose.Yaw)*offset,
		Y: pose.Pos.Y + math.Cos(pose.Yaw)*offset,
	}
}

// boundsCandidates sweeps the lateral normal at the pose from right (-) to
// left (+) with decreasing step sizes, collapsing drivable runs into candidate
// intervals. Transitions are refined to the finest step size before an edge is
// recorded.
func (o *Optimizer) boundsCandidates(
	enableAvoidance bool,
	pose trajectory.Pose,
	clearance ClearanceProvider,
) []Bounds {
	var candidates []Bounds
	searchWidths := o.cfg.BoundsSearchWidths

	hasCollision := func(c CollisionType) bool {
		return c == CollisionOutOfRoad || c == CollisionObject
	}

	traversed := -maxSearchHalfWidth
	currentRightBound := -maxSearchHalfWidth

	previous := o.collisionType(enableAvoidance, pose, traversed, clearance)
	latestRightBoundType := previous

	for traversed < maxSearchHalfWidth {
		for searchIdx := 0; searchIdx < len(searchWidths); searchIdx++ {
			ds := searchWidths[searchIdx]
			for {
				current := o.collisionType(enableAvoidance, pose, traversed, clearance)

				if hasCollision(current) {
					if !hasCollision(previous) {
						// drivable (or unseen) to collision edge
						if searchIdx == len(searchWidths)-1 {
							leftBound := traversed - ds/2
							candidates = append(candidates, Bounds{
								Lower:     currentRightBound,
								Upper:     leftBound,
								LowerType: latestRightBoundType,
								UpperType: current,
							})
							previous = current
						}
						break
					}
				} else if current == CollisionOutOfSight {
					if previous == CollisionNone {
						// drivable to unseen edge: keep the rest of the sweep
						if searchIdx == len(searchWidths)-1 {
							candidates = append(candidates, Bounds{
								Lower:     currentRightBound,
								Upper:     maxSearchHalfWidth,
								LowerType: latestRightBoundType,
								UpperType: current,
							})
							previous = current
						}
						break
					}
				} else {
					if hasCollision(previous) {
						// collision to drivable edge: open a new interval
						if searchIdx == len(searchWidths)-1 {
							currentRightBound = traversed - ds/2
							latestRightBoundType = previous
							previous = current
						}
						break
					}
				}

				if traversed >= maxSearchHalfWidth {
					if !hasCollision(previous) {
						if searchIdx == len(searchWidths)-1 {
							candidates = append(candidates, Bounds{
								Lower:     currentRightBound,
								Upper:     traversed - ds/2,
								LowerType: latestRightBoundType,
								UpperType: CollisionOutOfRoad,
							})
						}
					}
					break
				}

				traversed += ds
				previous = current
			}

			if searchIdx != len(searchWidths)-1 {
				// step back one coarse step and refine the edge
				traversed -= ds
			}
		}
	}

	if len(candidates) == 0 {
		o.logger.Debug("empty bounds candidates")
		candidates = append(candidates, invalidBounds())
	}
	return candidates
}

// collisionType classifies the probe at a lateral offset from the pose.
// Objects take priority over the road boundary.
func (o *Optimizer) collisionType(
	enableAvoidance bool,
	pose trajectory.Pose,
	traversed float64,
	clearance ClearanceProvider,
) CollisionType {
	minSoftRoadClearance := o.info.Width/2 + o.cfg.SoftClearanceFromRoad + o.cfg.ExtraDesiredClearanceFromRoad
	minObjectClearance := o.info.Width/2 + o.cfg.ClearanceFromObject + o.cfg.SoftClearanceFromRoad

	probe := lateralOffsetPoint(pose, traversed)

	if enableAvoidance {
		if objClearance, ok := clearance.ObjectClearance(probe); ok && objClearance < minObjectClearance {
			return CollisionObject
		}
	}

	roadClearance, ok := clearance.RoadClearance(probe)
	if !ok {
		return CollisionOutOfSight
	}
	if roadClearance < minSoftRoadClearance {
		return CollisionOutOfRoad
	}
	return CollisionNone
}
