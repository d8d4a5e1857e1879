package trajopt

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestCalcVehicleBoundsStraight(t *testing.T) {
	opt := newTestOptimizer(t)

	refPoints := make([]ReferencePoint, 8)
	for i := range refPoints {
		refPoints[i] = ReferencePoint{
			Pos:           r2.Point{X: float64(i)},
			Bounds:        Bounds{Lower: -2, Upper: 3},
			CorridorValid: true,
		}
	}
	test.That(t, opt.calcVehicleBounds(refPoints), test.ShouldBeNil)

	// on a straight reference with a uniform corridor, every circle sees the
	// same corridor and no relative yaw
	for _, rp := range refPoints {
		test.That(t, len(rp.VehicleBounds), test.ShouldEqual, len(opt.circles))
		test.That(t, len(rp.Beta), test.ShouldEqual, len(opt.circles))
		for l := range opt.circles {
			test.That(t, rp.Beta[l], test.ShouldAlmostEqual, 0, 1e-6)
			test.That(t, rp.VehicleBounds[l].Lower, test.ShouldAlmostEqual, -2, 1e-6)
			test.That(t, rp.VehicleBounds[l].Upper, test.ShouldAlmostEqual, 3, 1e-6)
		}
	}
}

func TestCalcVehicleBoundsNarrowingCorridor(t *testing.T) {
	opt := newTestOptimizer(t)

	// the corridor narrows linearly; a circle ahead of the reference point
	// must see the narrower interpolated corridor
	refPoints := make([]ReferencePoint, 8)
	for i := range refPoints {
		refPoints[i] = ReferencePoint{
			Pos:           r2.Point{X: float64(i) * 2},
			Bounds:        Bounds{Lower: -4, Upper: 4 - 0.4*float64(i)},
			CorridorValid: true,
		}
	}
	test.That(t, opt.calcVehicleBounds(refPoints), test.ShouldBeNil)

	rp := refPoints[3]
	for l, circle := range opt.circles {
		if circle.LongitudinalOffset <= 0 {
			continue
		}
		test.That(t, rp.VehicleBounds[l].Upper, test.ShouldBeLessThan, rp.Bounds.Upper)
	}
}

func TestInterpolateBounds(t *testing.T) {
	refPoints := []ReferencePoint{
		{Bounds: Bounds{Lower: -2, Upper: 2}},
		{Bounds: Bounds{Lower: -4, Upper: 4}},
	}
	arcLengths := []float64{0, 2}

	mid := interpolateBounds(refPoints, arcLengths, 1)
	test.That(t, mid.Lower, test.ShouldAlmostEqual, -3)
	test.That(t, mid.Upper, test.ShouldAlmostEqual, 3)

	// queries past the ends extrapolate from the nearest segment
	past := interpolateBounds(refPoints, arcLengths, 3)
	test.That(t, past.Upper, test.ShouldAlmostEqual, 5)
	before := interpolateBounds(refPoints, arcLengths, -1)
	test.That(t, before.Upper, test.ShouldAlmostEqual, 1)
}
