package vehicle

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Model is a discretized, linearized kinematic vehicle model. The deviation
// state is taken relative to a reference path point; the input is the front
// steering angle. Implementations must be stateless so a single model can be
// shared across horizon steps.
type Model interface {
	// StateDim returns the dimension of the deviation state.
	StateDim() int
	// InputDim returns the dimension of the control input.
	InputDim() int
	// StateEquation fills the discrete state transition x_{i+1} = Ad x_i + Bd u_i + Wd,
	// linearized around the reference curvature over an arc-length step ds.
	StateEquation(curvature, ds float64, ad, bd, wd *mat.Dense)
}

// KinematicBicycle is the kinematic bicycle model with deviation state
// [lateral error, yaw error] and steering input, linearized around the
// reference steering that tracks the reference curvature.
type KinematicBicycle struct {
	wheelbase float64
	steerLim  float64
}

// NewKinematicBicycle builds the model for the given wheelbase and steering limit.
func NewKinematicBicycle(wheelbase, steerLim float64) *KinematicBicycle {
	return &KinematicBicycle{wheelbase: wheelbase, steerLim: steerLim}
}

// StateDim implements Model.
func (m *KinematicBicycle) StateDim() int { return 2 }

// InputDim implements Model.
func (m *KinematicBicycle) InputDim() int { return 1 }

// StateEquation implements Model.
func (m *KinematicBicycle) StateEquation(curvature, ds float64, ad, bd, wd *mat.Dense) {
	// reference steering holding the reference curvature, kept inside the limit
	deltaR := math.Atan(m.wheelbase * curvature)
	if deltaR > m.steerLim {
		deltaR = m.steerLim
	} else if deltaR < -m.steerLim {
		deltaR = -m.steerLim
	}
	cosSq := math.Cos(deltaR) * math.Cos(deltaR)

	ad.Set(0, 0, 1)
	ad.Set(0, 1, ds)
	ad.Set(1, 0, 0)
	ad.Set(1, 1, 1)

	bd.Set(0, 0, 0)
	bd.Set(1, 0, ds/m.wheelbase/cosSq)

	wd.Set(0, 0, 0)
	wd.Set(1, 0, -ds*curvature+ds/m.wheelbase*(math.Tan(deltaR)-deltaR/cosSq))
}
