package trajopt

import (
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/driveline-robotics/driveline/trajectory"
)

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	opt, err := New(testVehicleInfo(), testConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return opt
}

func TestCollisionTypeClassification(t *testing.T) {
	opt := newTestOptimizer(t)
	pose := trajectory.Pose{Pos: r2.Point{}, Yaw: 0}

	// min road clearance = width/2 + soft clearance = 1.0
	lane := &laneClearance{halfWidth: 3}
	test.That(t, opt.collisionType(false, pose, 0, lane), test.ShouldEqual, CollisionNone)
	test.That(t, opt.collisionType(false, pose, 2.5, lane), test.ShouldEqual, CollisionOutOfRoad)
	test.That(t, opt.collisionType(false, pose, -2.5, lane), test.ShouldEqual, CollisionOutOfRoad)

	// an object at the probe takes priority, but only with avoidance enabled
	withObject := &laneClearance{halfWidth: 3, objects: []r2.Point{{X: 0, Y: 1}}}
	test.That(t, opt.collisionType(true, pose, 1, withObject), test.ShouldEqual, CollisionObject)
	test.That(t, opt.collisionType(false, pose, 1, withObject), test.ShouldEqual, CollisionNone)

	// outside the mapped area
	test.That(t, opt.collisionType(false, pose, 0, unmappedClearance{}), test.ShouldEqual, CollisionOutOfSight)
}

// unmappedClearance reports every probe as outside the mapped area.
type unmappedClearance struct{}

func (unmappedClearance) RoadClearance(r2.Point) (float64, bool)   { return 0, false }
func (unmappedClearance) ObjectClearance(r2.Point) (float64, bool) { return 0, false }

func TestBoundsCandidatesOpenCorridor(t *testing.T) {
	opt := newTestOptimizer(t)
	pose := trajectory.Pose{Pos: r2.Point{}, Yaw: 0}

	// drivable where 5 - |y| >= 1, so the corridor is about [-4, 4]
	candidates := opt.boundsCandidates(false, pose, &laneClearance{halfWidth: 5})
	test.That(t, len(candidates), test.ShouldEqual, 1)
	test.That(t, candidates[0].Lower, test.ShouldAlmostEqual, -4, 0.2)
	test.That(t, candidates[0].Upper, test.ShouldAlmostEqual, 4, 0.2)
	test.That(t, candidates[0].LowerType, test.ShouldEqual, CollisionOutOfRoad)
	test.That(t, candidates[0].UpperType, test.ShouldEqual, CollisionOutOfRoad)
}

func TestBoundsCandidatesObjectSplitsCorridor(t *testing.T) {
	opt := newTestOptimizer(t)
	pose := trajectory.Pose{Pos: r2.Point{}, Yaw: 0}

	// the object blocks probes within 2 meters, cutting [0, 4] out of the
	// left half of the corridor
	clearance := &laneClearance{halfWidth: 5, objects: []r2.Point{{X: 0, Y: 2}}}
	candidates := opt.boundsCandidates(true, pose, clearance)

	test.That(t, len(candidates), test.ShouldEqual, 2)
	test.That(t, candidates[0].Lower, test.ShouldAlmostEqual, -4, 0.2)
	test.That(t, candidates[0].Upper, test.ShouldAlmostEqual, 0, 0.2)
	test.That(t, candidates[0].UpperType, test.ShouldEqual, CollisionObject)
	test.That(t, candidates[1].Lower, test.ShouldAlmostEqual, 4, 0.2)
	test.That(t, candidates[1].LowerType, test.ShouldEqual, CollisionObject)

	// without avoidance the object is invisible
	candidates = opt.boundsCandidates(false, pose, clearance)
	test.That(t, len(candidates), test.ShouldEqual, 1)
}

func TestBoundsCandidatesFullyBlocked(t *testing.T) {
	opt := newTestOptimizer(t)
	pose := trajectory.Pose{Pos: r2.Point{}, Yaw: 0}

	candidates := opt.boundsCandidates(false, pose, blockedClearance{})
	test.That(t, len(candidates), test.ShouldEqual, 1)
	test.That(t, candidates[0].isInvalidSentinel(), test.ShouldBeTrue)
}

func TestBoundsCandidatesRespectPoseYaw(t *testing.T) {
	opt := newTestOptimizer(t)

	// the lateral normal of a pose heading +y probes along -x, so a lane
	// centered on the y axis looks symmetric again
	pose := trajectory.Pose{Pos: r2.Point{}, Yaw: math.Pi / 2}
	vertical := verticalLaneClearance{halfWidth: 4}
	candidates := opt.boundsCandidates(false, pose, vertical)
	test.That(t, len(candidates), test.ShouldEqual, 1)
	test.That(t, candidates[0].Lower, test.ShouldAlmostEqual, -3, 0.2)
	test.That(t, candidates[0].Upper, test.ShouldAlmostEqual, 3, 0.2)
}

// verticalLaneClearance is a lane centered on the y axis.
type verticalLaneClearance struct {
	halfWidth float64
}

func (v verticalLaneClearance) RoadClearance(pos r2.Point) (float64, bool) {
	return v.halfWidth - math.Abs(pos.X), true
}

func (verticalLaneClearance) ObjectClearance(r2.Point) (float64, bool) { return 0, false }

func TestCalcBoundsThreadsContinuousCorridor(t *testing.T) {
	opt := newTestOptimizer(t)

	refPoints := make([]ReferencePoint, 12)
	for i := range refPoints {
		refPoints[i] = ReferencePoint{Pos: r2.Point{X: float64(i)}, CorridorValid: true}
	}

	// an obstacle next to the middle of the reference narrows, but never
	// disconnects, the corridor
	clearance := &laneClearance{halfWidth: 5, objects: []r2.Point{{X: 6, Y: 3}}}
	invalid := opt.calcBounds(
		context.Background(), refPoints, true, trajectory.Pose{}, clearance, nil)
	test.That(t, invalid, test.ShouldEqual, 0)

	for i, rp := range refPoints {
		test.That(t, rp.Bounds.Upper, test.ShouldBeGreaterThan, rp.Bounds.Lower)
		if i > 0 {
			// consecutive bounds overlap
			test.That(t, overlappedSignedLength(refPoints[i-1].Bounds, rp.Bounds),
				test.ShouldBeGreaterThanOrEqualTo, 0)
		}
	}
	// near the obstacle the upper bound closes in
	test.That(t, refPoints[6].Bounds.Upper, test.ShouldBeLessThan, 1.2)
	test.That(t, refPoints[6].Bounds.UpperType, test.ShouldEqual, CollisionObject)
	// far from it the full corridor is available
	test.That(t, refPoints[0].Bounds.Upper, test.ShouldAlmostEqual, 4, 0.2)
}

// forkedLaneClearance is a lane that forks: before x=8 an obstacle wall along
// y=0.5 splits it into a lower and an upper corridor, and from x=8 on only
// the upper corridor continues.
type forkedLaneClearance struct{}

func (forkedLaneClearance) RoadClearance(pos r2.Point) (float64, bool) {
	if pos.X < 8 {
		return 4 - math.Abs(pos.Y), true
	}
	return math.Min(pos.Y-1, 7-pos.Y), true
}

func (forkedLaneClearance) ObjectClearance(pos r2.Point) (float64, bool) {
	if pos.X < 8 {
		return math.Abs(pos.Y - 0.5), true
	}
	return 0, false
}

func TestCalcBoundsGreedyThreadingCanDeadEnd(t *testing.T) {
	opt := newTestOptimizer(t)

	refPoints := make([]ReferencePoint, 15)
	for i := range refPoints {
		refPoints[i] = ReferencePoint{Pos: r2.Point{X: float64(i)}, CorridorValid: true}
	}

	// the threading picks the corridor nearest the reference at every step
	// without looking ahead: it follows the lower fork and dead-ends where
	// only the upper fork continues
	invalid := opt.calcBounds(
		context.Background(), refPoints, true, trajectory.Pose{}, forkedLaneClearance{}, nil)
	test.That(t, invalid, test.ShouldBeGreaterThan, 0)
	test.That(t, refPoints[4].Bounds.Upper, test.ShouldBeLessThan, 0)
	test.That(t, refPoints[8].Bounds.isInvalidSentinel(), test.ShouldBeTrue)

	// an unbroken corridor did exist through the upper fork the whole way
	early := opt.boundsCandidates(true, refPoints[4].pose(), forkedLaneClearance{})
	late := opt.boundsCandidates(true, refPoints[10].pose(), forkedLaneClearance{})
	test.That(t, len(early), test.ShouldEqual, 2)
	test.That(t, len(late), test.ShouldEqual, 1)
	test.That(t, overlappedSignedLength(early[1], late[0]), test.ShouldBeGreaterThan, 0)
}

func TestCalcBoundsFallsBackToSentinel(t *testing.T) {
	opt := newTestOptimizer(t)

	refPoints := make([]ReferencePoint, 3)
	for i := range refPoints {
		refPoints[i] = ReferencePoint{Pos: r2.Point{X: float64(i)}, CorridorValid: true}
	}
	invalid := opt.calcBounds(
		context.Background(), refPoints, false, trajectory.Pose{}, blockedClearance{}, nil)
	test.That(t, invalid, test.ShouldEqual, 3)
	for _, rp := range refPoints {
		test.That(t, rp.Bounds.isInvalidSentinel(), test.ShouldBeTrue)
	}
}

func TestLerpBounds(t *testing.T) {
	prev := Bounds{Lower: -2, Upper: 2, LowerType: CollisionOutOfRoad, UpperType: CollisionObject}
	next := Bounds{Lower: -1, Upper: 4, LowerType: CollisionObject, UpperType: CollisionOutOfRoad}

	mid := lerpBounds(prev, next, 0.5)
	test.That(t, mid.Lower, test.ShouldAlmostEqual, -1.5)
	test.That(t, mid.Upper, test.ShouldAlmostEqual, 3)
	test.That(t, mid.UpperType, test.ShouldEqual, CollisionOutOfRoad)

	near := lerpBounds(prev, next, 0.25)
	test.That(t, near.UpperType, test.ShouldEqual, CollisionObject)
}

func TestBoundsTranslate(t *testing.T) {
	b := Bounds{Lower: -2, Upper: 3}
	shifted := b.translate(1)
	test.That(t, shifted.Lower, test.ShouldAlmostEqual, -3)
	test.That(t, shifted.Upper, test.ShouldAlmostEqual, 2)
}

func TestOverlappedSignedLength(t *testing.T) {
	a := Bounds{Lower: -1, Upper: 2}
	b := Bounds{Lower: 1, Upper: 4}
	test.That(t, overlappedSignedLength(a, b), test.ShouldAlmostEqual, 1)

	c := Bounds{Lower: 3, Upper: 5}
	test.That(t, overlappedSignedLength(a, c), test.ShouldBeLessThan, 0)
}

func TestHasObjectCollision(t *testing.T) {
	test.That(t, Bounds{UpperType: CollisionObject}.HasObjectCollision(), test.ShouldBeTrue)
	test.That(t, Bounds{LowerType: CollisionObject}.HasObjectCollision(), test.ShouldBeTrue)
	test.That(t, Bounds{}.HasObjectCollision(), test.ShouldBeFalse)
}

func TestCollisionTypeString(t *testing.T) {
	test.That(t, CollisionNone.String(), test.ShouldEqual, "no_collision")
	test.That(t, CollisionObject.String(), test.ShouldEqual, "object")
	test.That(t, CollisionType(99).String(), test.ShouldEqual, "unknown")
}
