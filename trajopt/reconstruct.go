package trajopt

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/driveline-robotics/driveline/trajectory"
)

// reconstructTrajectory turns the optimized decision vector back into poses.
// Fixed points keep their pinned state; the rest unroll through Xex = Bex*U +
// Wex. The optimized state and input are written back into the reference
// points so the next cycle can warm start and pin from them.
func (o *Optimizer) reconstructTrajectory(
	fixed, nonFixed []ReferencePoint, u []float64, m *mptMatrix,
) []trajectory.Point {
	dimX := o.model.StateDim()
	dimU := o.model.InputDim()
	n := len(nonFixed)

	deviations := make([]KinematicState, 0, len(fixed)+n)
	for i := range fixed {
		deviations = append(deviations, *fixed[i].FixedState)
	}

	// Xex = Bex*U + Wex
	rows := dimX * n
	xex := make([]float64, rows)
	for r := 0; r < rows; r++ {
		sum := m.wex.AtVec(r)
		for c := 0; c < len(u); c++ {
			sum += m.bex.At(r, c) * u[c]
		}
		xex[r] = sum
	}
	for i := 0; i < n; i++ {
		deviations = append(deviations, KinematicState{Lat: xex[i*dimX], Yaw: xex[i*dimX+1]})
	}

	points := make([]trajectory.Point, 0, len(deviations))
	for i, deviation := range deviations {
		var rp *ReferencePoint
		if i < len(fixed) {
			rp = &fixed[i]
		} else {
			rp = &nonFixed[i-len(fixed)]
		}

		rp.OptimizedState = deviation
		if i >= len(fixed) {
			j := i - len(fixed)
			if j == n-1 {
				rp.OptimizedInput = 0
			} else {
				rp.OptimizedInput = u[dimX+j*dimU]
			}
		}

		pose := vehiclePose(rp, deviation)
		points = append(points, trajectory.Point{Pos: pose.Pos, Yaw: pose.Yaw, Speed: rp.Speed})
	}
	return points
}

// vehiclePose places the vehicle at the reference point shifted by the
// optimized lateral and yaw deviation.
func vehiclePose(rp *ReferencePoint, deviation KinematicState) trajectory.Pose {
	return trajectory.Pose{
		Pos: r2.Point{
			X: rp.Pos.X - math.Sin(rp.Yaw)*deviation.Lat,
			Y: rp.Pos.Y + math.Cos(rp.Yaw)*deviation.Lat,
		},
		Yaw: trajectory.NormalizeRadian(rp.Yaw + deviation.Yaw),
	}
}
