package trajopt

import (
	"github.com/pkg/errors"

	"github.com/driveline-robotics/driveline/qp"
	"github.com/driveline-robotics/driveline/trajectory"
)

// executeOptimization assembles the QP and solves it, reusing the solver's
// internal state from the previous cycle when the problem dimensions match.
// With manual warm start enabled the problem is shifted so the previous
// solution becomes the origin, which keeps the iterates small.
func (o *Optimizer) executeOptimization(
	refPoints []ReferencePoint,
	m *mptMatrix,
	v *valueMatrix,
	prev []ReferencePoint,
	diag *Diagnostics,
) ([]float64, error) {
	n := len(refPoints)
	dimX := o.model.StateDim()
	dimU := o.model.InputDim()
	dimV := dimX + dimU*(n-1)

	obj := o.objectiveMatrix(m, v, refPoints)
	cons := o.constraintMatrix(m, refPoints)

	u0 := make([]float64, len(obj.gradient))
	if o.cfg.EnableManualWarmStart && len(prev) > 1 {
		prevPoints := refPointsToTrajectory(prev)
		segIdx := trajectory.NearestSegmentIndexSoft(
			prevPoints, refPoints[0].pose(), o.cfg.EgoNearestDistThreshold, o.cfg.EgoNearestYawThreshold)

		u0[0] = prev[segIdx].OptimizedState.Lat
		u0[1] = prev[segIdx].OptimizedState.Yaw
		for i := 0; i+1 < n; i++ {
			prevIdx := segIdx + i
			if prevIdx > len(prev)-1 {
				prevIdx = len(prev) - 1
			}
			u0[dimX+i*dimU] = prev[prevIdx].OptimizedInput
		}
	}

	gradient := obj.gradient
	lb, ub := cons.lb, cons.ub
	if o.cfg.EnableManualWarmStart {
		// shift to f + H u0 and bounds - A u0
		gradient = make([]float64, len(obj.gradient))
		hr, _ := obj.hessian.Dims()
		for r := 0; r < hr; r++ {
			sum := obj.gradient[r]
			for c := 0; c < hr; c++ {
				sum += obj.hessian.At(r, c) * u0[c]
			}
			gradient[r] = sum
		}

		ar, ac := cons.linear.Dims()
		lb = make([]float64, ar)
		ub = make([]float64, ar)
		for r := 0; r < ar; r++ {
			au0 := 0.0
			for c := 0; c < ac; c++ {
				au0 += cons.linear.At(r, c) * u0[c]
			}
			lb[r] = clampShiftedBound(cons.lb[r], au0)
			ub[r] = clampShiftedBound(cons.ub[r], au0)
		}
	}

	prob := &qp.Problem{P: obj.hessian, Q: gradient, A: cons.linear, L: lb, U: ub}
	opts := qp.Options{
		EpsAbs:        o.cfg.SolverEpsAbs,
		EpsRel:        o.cfg.SolverEpsRel,
		MaxIterations: o.cfg.SolverMaxIterations,
	}

	hn, _ := obj.hessian.Dims()
	am, _ := cons.linear.Dims()
	if o.cfg.EnableWarmStart && o.solver != nil && o.prevProblemN == hn && o.prevProblemM == am {
		if err := o.solver.Update(prob); err != nil {
			return nil, errors.Wrap(err, "updating solver")
		}
		diag.WarmStarted = true
	} else {
		solver, err := qp.NewSolver(prob, opts)
		if err != nil {
			return nil, errors.Wrap(err, "setting up solver")
		}
		o.solver = solver
	}
	o.prevProblemN = hn
	o.prevProblemM = am

	result, err := o.solver.Solve()
	if err != nil {
		return nil, errors.Wrap(err, "solving")
	}
	diag.SolveStatus = result.Status
	diag.Iterations = result.Iterations
	if result.Status != qp.StatusSolved {
		o.logger.Warnw("optimization did not converge",
			"status", result.Status.String(),
			"iterations", result.Iterations,
			"primal_residual", result.PrimalResidual,
			"dual_residual", result.DualResidual,
		)
		return nil, ErrNoSolution
	}

	u := make([]float64, dimV)
	copy(u, result.X[:dimV])
	if o.cfg.EnableManualWarmStart {
		for i := range u {
			u[i] += u0[i]
		}
	}
	return u, nil
}

// clampShiftedBound keeps infinite bounds infinite under the warm-start shift.
func clampShiftedBound(bound, shift float64) float64 {
	if bound >= qp.Inf || bound <= -qp.Inf {
		return bound
	}
	return bound - shift
}
