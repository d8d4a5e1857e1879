package trajopt

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/driveline-robotics/driveline/spline"
	"github.com/driveline-robotics/driveline/trajectory"
)

// calcVehicleBounds projects each point's corridor to the centers of the
// footprint circles. The circle center is looked up along a spline through the
// reference positions at the circle's longitudinal offset; the corridor there
// is interpolated between the surrounding reference points and shifted into
// the circle's lateral frame.
func (o *Optimizer) calcVehicleBounds(refPoints []ReferencePoint) error {
	if len(refPoints) == 1 {
		refPoints[0].VehicleBounds = make([]Bounds, len(o.circles))
		refPoints[0].Beta = make([]float64, len(o.circles))
		for l := range o.circles {
			refPoints[0].VehicleBounds[l] = refPoints[0].Bounds
		}
		return nil
	}

	positions := make([]r2.Point, len(refPoints))
	for i, rp := range refPoints {
		positions[i] = rp.Pos
	}
	sp, err := spline.NewSpline2D(positions)
	if err != nil {
		return errors.Wrap(err, "vehicle bounds spline")
	}

	arcLengths := make([]float64, len(refPoints))
	for i := range refPoints {
		arcLengths[i] = sp.ArcLength(i)
	}

	for i := range refPoints {
		rp := &refPoints[i]
		rp.VehicleBounds = make([]Bounds, 0, len(o.circles))
		rp.Beta = make([]float64, 0, len(o.circles))

		for _, circle := range o.circles {
			s := arcLengths[i] + circle.LongitudinalOffset
			circlePos := sp.Position(s)
			circleYaw := sp.Yaw(s)

			rp.Beta = append(rp.Beta, trajectory.NormalizeRadian(rp.Yaw-circleYaw))

			// lateral offset of the circle center in the frame at the
			// projected station
			offsetY := 0.0
			if dist := circlePos.Sub(rp.Pos).Norm(); dist > 1e-10 {
				azimuth := math.Atan2(circlePos.Y-rp.Pos.Y, circlePos.X-rp.Pos.X)
				offsetY = -dist * math.Sin(azimuth-circleYaw)
			}

			bounds := interpolateBounds(refPoints, arcLengths, s)
			rp.VehicleBounds = append(rp.VehicleBounds, bounds.translate(offsetY))
		}
	}
	return nil
}

// interpolateBounds linearly interpolates the per-point corridor at an arc
// length along the reference. Queries beyond the ends extrapolate from the
// nearest segment.
func interpolateBounds(refPoints []ReferencePoint, arcLengths []float64, s float64) Bounds {
	n := len(refPoints)
	segIdx := n - 2
	for i := 1; i < n; i++ {
		if s <= arcLengths[i] {
			segIdx = i - 1
			break
		}
	}
	span := arcLengths[segIdx+1] - arcLengths[segIdx]
	if span < 1e-10 {
		return refPoints[segIdx].Bounds
	}
	ratio := (s - arcLengths[segIdx]) / span
	return lerpBounds(refPoints[segIdx].Bounds, refPoints[segIdx+1].Bounds, ratio)
}
