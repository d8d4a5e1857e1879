// Package vehicle describes the ego vehicle geometry and kinematics used by
// the trajectory optimizer: physical dimensions, the circle approximation of
// the footprint, and the linearized state-space model.
package vehicle

import (
	"math"

	"github.com/pkg/errors"
)

// Info holds the physical description of the vehicle. Lengths are in meters,
// angles in radians. The longitudinal origin is the rear axle center.
type Info struct {
	Wheelbase     float64 `json:"wheelbase"`
	Length        float64 `json:"length"`
	Width         float64 `json:"width"`
	RearOverhang  float64 `json:"rear_overhang"`
	FrontOverhang float64 `json:"front_overhang"`
	MaxSteer      float64 `json:"max_steer"`
}

// Validate checks that the description is physically plausible.
func (info Info) Validate() error {
	if info.Wheelbase <= 0 {
		return errors.New("wheelbase must be positive")
	}
	if info.Length <= 0 || info.Width <= 0 {
		return errors.New("length and width must be positive")
	}
	if info.Length < info.Wheelbase {
		return errors.New("length must not be smaller than wheelbase")
	}
	if info.MaxSteer <= 0 || info.MaxSteer >= math.Pi/2 {
		return errors.New("max steer must be in (0, pi/2)")
	}
	return nil
}

// Circle is one footprint-approximating circle, centered on the vehicle
// centerline at a longitudinal offset from the rear axle.
type Circle struct {
	LongitudinalOffset float64
	Radius             float64
}

// UniformCircles covers the footprint with num equal circles spread evenly
// over the vehicle length, each radius scaled by radiusRatio.
func UniformCircles(info Info, num int, radiusRatio float64) []Circle {
	unit := info.Length / float64(num)
	radius := math.Hypot(unit/2, info.Width/2) * radiusRatio

	circles := make([]Circle, num)
	for i := range circles {
		circles[i] = Circle{
			LongitudinalOffset: unit/2 + unit*float64(i) - info.RearOverhang,
			Radius:             radius,
		}
	}
	return circles
}

// RearDriveCircles places one circle at the rear end and one near the front,
// sized per the num-way subdivision of the footprint. The rear circle hugs the
// body width, the front circle covers the remaining sweep.
func RearDriveCircles(info Info, num int, rearRadiusRatio, frontRadiusRatio float64) []Circle {
	unit := info.Length / float64(num)
	frontRadius := math.Hypot(unit/2, info.Width/2)

	return []Circle{
		{
			LongitudinalOffset: -info.RearOverhang,
			Radius:             info.Width / 2 * rearRadiusRatio,
		},
		{
			LongitudinalOffset: unit/2 + unit*float64(num-1) - info.RearOverhang,
			Radius:             frontRadius * frontRadiusRatio,
		},
	}
}

// BicycleModelCircles places the rear circle on the rear axle and the front
// circle near the front axle, matching where the bicycle model tracks error.
func BicycleModelCircles(info Info, num int, rearRadiusRatio, frontRadiusRatio float64) []Circle {
	unit := info.Length / float64(num)
	frontRadius := math.Hypot(unit/2, info.Width/2)

	return []Circle{
		{
			LongitudinalOffset: 0,
			Radius:             info.Width / 2 * rearRadiusRatio,
		},
		{
			LongitudinalOffset: unit/2 + unit*float64(num-1) - info.RearOverhang,
			Radius:             frontRadius * frontRadiusRatio,
		},
	}
}
