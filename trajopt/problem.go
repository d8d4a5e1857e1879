package trajopt

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/driveline-robotics/driveline/qp"
	"github.com/driveline-robotics/driveline/trajectory"
)

// looseCorridorBound replaces the corridor at points whose bounds search
// failed, so a locally broken corridor degrades the solution instead of making
// the whole problem infeasible.
const looseCorridorBound = 1e3

// valueMatrix carries the tracking-error weights (diagonal over the stacked
// state) and the input weight matrix (steer magnitude plus steer rate).
type valueMatrix struct {
	qDiag []float64
	rex   *mat.Dense
}

// objectiveMatrix is the quadratic objective min v'Hv + f'v over the decision
// vector extended with slack variables.
type objectiveMatrix struct {
	hessian  *mat.Dense
	gradient []float64
}

// constraintMatrix is the stacked linear constraint lb <= A v <= ub.
type constraintMatrix struct {
	linear *mat.Dense
	lb     []float64
	ub     []float64
}

// slackCounts returns the number of first- and second-tier slack variables per
// reference point.
func (o *Optimizer) slackCounts() (nFirst, nSecond int) {
	if o.cfg.SoftConstraint {
		if o.cfg.LInfNorm {
			nFirst = 1
		} else {
			nFirst = len(o.circles)
		}
		if o.cfg.TwoStepSoftConstraint {
			nSecond = nFirst
		}
	}
	return nFirst, nSecond
}

// generateValueMatrix builds the per-point tracking weights, raising them near
// avoidable objects and at the horizon terminal, and the steer weight matrix.
func (o *Optimizer) generateValueMatrix(refPoints []ReferencePoint, path []trajectory.Point) *valueMatrix {
	n := len(refPoints)
	dimX := o.model.StateDim()
	dimU := o.model.InputDim()
	dimV := dimX + dimU*(n-1)

	containsTerminal := isNearLastPathPoint(
		refPoints[n-1], path, 1e-4, o.cfg.EgoNearestYawThreshold)

	qDiag := make([]float64, dimX*n)
	for i := 0; i < n; i++ {
		latWeight, yawWeight := o.cfg.LatErrorWeight, o.cfg.YawErrorWeight
		switch {
		case refPoints[i].NearObjects:
			latWeight, yawWeight = o.cfg.ObstacleAvoidLatErrorWeight, o.cfg.ObstacleAvoidYawErrorWeight
		case i == n-1 && containsTerminal:
			latWeight, yawWeight = o.cfg.TerminalPathLatErrorWeight, o.cfg.TerminalPathYawErrorWeight
		case i == n-1:
			latWeight, yawWeight = o.cfg.TerminalLatErrorWeight, o.cfg.TerminalYawErrorWeight
		}
		qDiag[i*dimX] = latWeight
		qDiag[i*dimX+1] = yawWeight
	}

	rex := mat.NewDense(dimV, dimV, nil)
	for i := 0; i < n-1; i++ {
		steerWeight := o.cfg.SteerInputWeight
		if refPoints[i].NearObjects {
			steerWeight = o.cfg.ObstacleAvoidSteerInputWeight
		}
		col := dimX + dimU*i
		rex.Set(col, col, rex.At(col, col)+steerWeight)
	}
	// steer rate: weight on (u(i) - u(i-1))^2
	for i := dimX; i < dimV-1; i++ {
		w := o.cfg.SteerRateWeight
		rex.Set(i, i, rex.At(i, i)+w)
		rex.Set(i+1, i, rex.At(i+1, i)-w)
		rex.Set(i, i+1, rex.At(i, i+1)-w)
		rex.Set(i+1, i+1, rex.At(i+1, i+1)+w)
	}

	return &valueMatrix{qDiag: qDiag, rex: rex}
}

func isNearLastPathPoint(
	refPoint ReferencePoint, path []trajectory.Point, distThreshold, yawThreshold float64,
) bool {
	if len(path) == 0 {
		return false
	}
	last := path[len(path)-1]
	if last.Pos.Sub(refPoint.Pos).Norm() > distThreshold {
		return false
	}
	return math.Abs(trajectory.YawDeviation(last.Yaw, refPoint.Yaw)) <= yawThreshold
}

// objectiveMatrix recenters the tracking error at the optimization center
// through the per-point shift matrix T and assembles
//
//	H = (T Bex)' Q (T Bex) + R,  f = (T Wex + t)' Q (T Bex)
//
// extended with linear slack penalties.
func (o *Optimizer) objectiveMatrix(m *mptMatrix, v *valueMatrix, refPoints []ReferencePoint) *objectiveMatrix {
	n := len(refPoints)
	dimX := o.model.StateDim()
	dimU := o.model.InputDim()
	dimV := dimX + dimU*(n-1)
	dimXN := dimX * n

	centerOffset := o.cfg.OptimizationCenterOffset
	if centerOffset == 0 {
		centerOffset = 0.8 * o.info.Wheelbase
	}

	// B = T * Bex and w = T * Wex + t, applied row-wise
	b := mat.NewDense(dimXN, dimV, nil)
	w := make([]float64, dimXN)
	for i := 0; i < n; i++ {
		cosAlpha := math.Cos(refPoints[i].Alpha)
		latRow := i * dimX
		yawRow := latRow + 1
		for col := 0; col < dimV; col++ {
			b.Set(latRow, col, cosAlpha*m.bex.At(latRow, col)+centerOffset*cosAlpha*m.bex.At(yawRow, col))
			b.Set(yawRow, col, m.bex.At(yawRow, col))
		}
		w[latRow] = cosAlpha*m.wex.AtVec(latRow) + centerOffset*cosAlpha*m.wex.AtVec(yawRow) -
			centerOffset*math.Sin(refPoints[i].Alpha)
		w[yawRow] = m.wex.AtVec(yawRow)
	}

	qb := mat.NewDense(dimXN, dimV, nil)
	for r := 0; r < dimXN; r++ {
		q := v.qDiag[r]
		for col := 0; col < dimV; col++ {
			qb.Set(r, col, q*b.At(r, col))
		}
	}

	var h mat.Dense
	h.Mul(b.T(), qb)
	h.Add(&h, v.rex)

	f := make([]float64, dimV)
	for col := 0; col < dimV; col++ {
		sum := 0.0
		for r := 0; r < dimXN; r++ {
			sum += w[r] * qb.At(r, col)
		}
		f[col] = sum
	}

	nFirst, nSecond := o.slackCounts()
	nSlack := nFirst + nSecond
	dimFull := dimV + n*nSlack

	fullH := mat.NewDense(dimFull, dimFull, nil)
	fullH.Slice(0, dimV, 0, dimV).(*mat.Dense).Copy(&h)

	fullF := make([]float64, dimFull)
	copy(fullF, f)
	for i := 0; i < n*nFirst; i++ {
		fullF[dimV+i] = o.cfg.SoftAvoidanceWeight
	}
	for i := 0; i < n*nSecond; i++ {
		fullF[dimV+n*nFirst+i] = o.cfg.SoftSecondAvoidanceWeight
	}

	return &objectiveMatrix{hessian: fullH, gradient: fullF}
}

// extractBounds collects the corridor at one footprint circle across all
// points, shrunk by how far the circle radius exceeds the half-width. Points
// whose corridor search failed get a loose bound instead.
func (o *Optimizer) extractBounds(refPoints []ReferencePoint, circleIdx int) (ub, lb []float64) {
	offset := o.info.Width/2 - o.circles[circleIdx].Radius
	ub = make([]float64, len(refPoints))
	lb = make([]float64, len(refPoints))
	for i, rp := range refPoints {
		if !rp.CorridorValid {
			ub[i] = looseCorridorBound
			lb[i] = -looseCorridorBound
			continue
		}
		ub[i] = rp.VehicleBounds[circleIdx].Upper + offset
		lb[i] = rp.VehicleBounds[circleIdx].Lower - offset
	}
	return ub, lb
}

// constraintMatrix stacks, per footprint circle, the soft corridor rows (with
// slack), the hard corridor rows, the equality rows pinning fixed points, and
// the steer limit rows.
func (o *Optimizer) constraintMatrix(m *mptMatrix, refPoints []ReferencePoint) *constraintMatrix {
	n := len(refPoints)
	dimX := o.model.StateDim()
	dimU := o.model.InputDim()
	nU := dimU * (n - 1)
	dimV := dimX + nU
	nAvoid := len(o.circles)

	nFirst, nSecond := o.slackCounts()
	nSlack := nFirst + nSecond
	nSoft := 1
	if o.cfg.TwoStepSoftConstraint {
		nSoft = 2
	}

	cols := dimV
	if o.cfg.SoftConstraint {
		cols = dimV + n*nSlack
	}

	var fixedIndices []int
	for i := range refPoints {
		if refPoints[i].FixedState != nil {
			fixedIndices = append(fixedIndices, i)
		}
	}

	rows := 0
	if o.cfg.SoftConstraint {
		rows += 3 * n * nAvoid * nSoft
	}
	if o.cfg.HardConstraint {
		rows += n * nAvoid
	}
	rows += len(fixedIndices) * dimX
	if o.cfg.SteerLimitConstraint {
		rows += nU
	}

	a := mat.NewDense(rows, cols, nil)
	lb := make([]float64, rows)
	ub := make([]float64, rows)
	for i := range lb {
		lb[i] = -qp.Inf
		ub[i] = qp.Inf
	}
	rowEnd := 0

	cb := mat.NewDense(n, dimV, nil)
	cw := make([]float64, n)
	for l := 0; l < nAvoid; l++ {
		// CX = C(Bex v + Wex) + c projects the state to the circle's lateral
		// offset, where C has rows [cos(beta), d*cos(beta)]
		d := o.circles[l].LongitudinalOffset
		for i := 0; i < n; i++ {
			cosBeta := math.Cos(refPoints[i].Beta[l])
			latRow := i * dimX
			yawRow := latRow + 1
			for col := 0; col < dimV; col++ {
				cb.Set(i, col, cosBeta*m.bex.At(latRow, col)+d*cosBeta*m.bex.At(yawRow, col))
			}
			cw[i] = cosBeta*m.wex.AtVec(latRow) + d*cosBeta*m.wex.AtVec(yawRow) +
				d*math.Sin(refPoints[i].Beta[l])
		}

		partUB, partLB := o.extractBounds(refPoints, l)

		if o.cfg.SoftConstraint {
			slackStart := dimV
			for s := 0; s < nSoft; s++ {
				// rows: CB v + z >= lb - CW, -CB v + z >= CW - ub, z >= 0
				slackCol := slackStart
				if !o.cfg.LInfNorm {
					slackCol += n * l
				}
				for i := 0; i < n; i++ {
					for col := 0; col < dimV; col++ {
						a.Set(rowEnd+i, col, cb.At(i, col))
						a.Set(rowEnd+n+i, col, -cb.At(i, col))
					}
					a.Set(rowEnd+i, slackCol+i, 1)
					a.Set(rowEnd+n+i, slackCol+i, 1)
					a.Set(rowEnd+2*n+i, slackCol+i, 1)

					lb[rowEnd+i] = partLB[i] - cw[i]
					lb[rowEnd+n+i] = cw[i] - partUB[i]
					lb[rowEnd+2*n+i] = 0
					if s == 1 {
						extra := o.cfg.SoftSecondClearanceFromRoad - o.cfg.SoftClearanceFromRoad
						lb[rowEnd+i] -= extra
						lb[rowEnd+n+i] -= extra
					}
				}
				slackStart += n * nFirst
				rowEnd += 3 * n
			}
		}

		if o.cfg.HardConstraint {
			for i := 0; i < n; i++ {
				for col := 0; col < dimV; col++ {
					a.Set(rowEnd+i, col, cb.At(i, col))
				}
				lb[rowEnd+i] = partLB[i] - cw[i]
				ub[rowEnd+i] = partUB[i] - cw[i]
			}
			rowEnd += n
		}
	}

	// fixed points: Bex rows pinned to the previous cycle's state
	for _, i := range fixedIndices {
		for r := 0; r < dimX; r++ {
			for col := 0; col < dimV; col++ {
				a.Set(rowEnd+r, col, m.bex.At(i*dimX+r, col))
			}
		}
		lb[rowEnd] = refPoints[i].FixedState.Lat - m.wex.AtVec(i*dimX)
		ub[rowEnd] = lb[rowEnd]
		lb[rowEnd+1] = refPoints[i].FixedState.Yaw - m.wex.AtVec(i*dimX+1)
		ub[rowEnd+1] = lb[rowEnd+1]
		rowEnd += dimX
	}

	if o.cfg.SteerLimitConstraint {
		for i := 0; i < nU; i++ {
			a.Set(rowEnd+i, dimX+i, 1)
			lb[rowEnd+i] = -o.info.MaxSteer
			ub[rowEnd+i] = o.info.MaxSteer
		}
		rowEnd += nU
	}

	return &constraintMatrix{linear: a, lb: lb, ub: ub}
}
