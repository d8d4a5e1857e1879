package qp

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func wideBounds(m int) ([]float64, []float64) {
	l := make([]float64, m)
	u := make([]float64, m)
	for i := range l {
		l[i] = -Inf
		u[i] = Inf
	}
	return l, u
}

func TestSolveUnconstrainedMinimum(t *testing.T) {
	// min (1/2)(x0^2 + x1^2) - x0 - 2*x1  ->  x = (1, 2)
	l, u := wideBounds(2)
	prob := &Problem{
		P: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		Q: []float64{-1, -2},
		A: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		L: l,
		U: u,
	}
	solver, err := NewSolver(prob, Options{})
	test.That(t, err, test.ShouldBeNil)

	res, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSolved)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 2, 1e-3)
}

func TestSolveActiveBoxConstraint(t *testing.T) {
	// min (1/2)x0^2 - 3*x0 subject to x0 <= 1; the minimizer 3 is clipped
	prob := &Problem{
		P: mat.NewDense(1, 1, []float64{1}),
		Q: []float64{-3},
		A: mat.NewDense(1, 1, []float64{1}),
		L: []float64{-1},
		U: []float64{1},
	}
	solver, err := NewSolver(prob, Options{})
	test.That(t, err, test.ShouldBeNil)

	res, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSolved)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-3)
}

func TestSolveEqualityConstraint(t *testing.T) {
	// min (x0-1)^2 + (x1-2)^2 subject to x0 + x1 = 1  ->  x = (0, 1)
	prob := &Problem{
		P: mat.NewDense(2, 2, []float64{2, 0, 0, 2}),
		Q: []float64{-2, -4},
		A: mat.NewDense(1, 2, []float64{1, 1}),
		L: []float64{1},
		U: []float64{1},
	}
	solver, err := NewSolver(prob, Options{})
	test.That(t, err, test.ShouldBeNil)

	res, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSolved)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, res.X[0]+res.X[1], test.ShouldAlmostEqual, 1, 1e-4)
}

func TestWarmStartReusesIterates(t *testing.T) {
	prob := &Problem{
		P: mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1}),
		Q: []float64{-1, 1},
		A: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		L: []float64{-2, -2},
		U: []float64{2, 2},
	}
	solver, err := NewSolver(prob, Options{})
	test.That(t, err, test.ShouldBeNil)

	first, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Status, test.ShouldEqual, StatusSolved)

	// re-solving the same problem from the converged iterates must not take
	// more iterations than the cold solve
	test.That(t, solver.Update(prob), test.ShouldBeNil)
	second, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Status, test.ShouldEqual, StatusSolved)
	test.That(t, second.Iterations, test.ShouldBeLessThanOrEqualTo, first.Iterations)
	test.That(t, second.X[0], test.ShouldAlmostEqual, first.X[0], 1e-4)
	test.That(t, second.X[1], test.ShouldAlmostEqual, first.X[1], 1e-4)
}

func TestUpdateRejectsDimensionChange(t *testing.T) {
	l, u := wideBounds(1)
	prob := &Problem{
		P: mat.NewDense(1, 1, []float64{1}),
		Q: []float64{0},
		A: mat.NewDense(1, 1, []float64{1}),
		L: l,
		U: u,
	}
	solver, err := NewSolver(prob, Options{})
	test.That(t, err, test.ShouldBeNil)

	l2, u2 := wideBounds(2)
	bigger := &Problem{
		P: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		Q: []float64{0, 0},
		A: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		L: l2,
		U: u2,
	}
	test.That(t, solver.Update(bigger), test.ShouldNotBeNil)
}

func TestSolveInfeasibleHitsIterationBudget(t *testing.T) {
	// two contradictory equality rows on the same variable
	prob := &Problem{
		P: mat.NewDense(1, 1, []float64{1}),
		Q: []float64{0},
		A: mat.NewDense(2, 1, []float64{1, 1}),
		L: []float64{1, 2},
		U: []float64{1, 2},
	}
	solver, err := NewSolver(prob, Options{MaxIterations: 200})
	test.That(t, err, test.ShouldBeNil)

	res, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusMaxIterations)
}

func TestProblemValidation(t *testing.T) {
	l, u := wideBounds(1)
	_, err := NewSolver(&Problem{
		P: mat.NewDense(2, 1, []float64{1, 1}),
		Q: []float64{0},
		A: mat.NewDense(1, 1, []float64{1}),
		L: l,
		U: u,
	}, Options{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewSolver(&Problem{
		P: mat.NewDense(1, 1, []float64{1}),
		Q: []float64{0, 0},
		A: mat.NewDense(1, 1, []float64{1}),
		L: l,
		U: u,
	}, Options{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWarmStartXSeedsPrimal(t *testing.T) {
	l, u := wideBounds(2)
	prob := &Problem{
		P: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		Q: []float64{-1, -2},
		A: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		L: l,
		U: u,
	}
	solver, err := NewSolver(prob, Options{})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, solver.WarmStartX([]float64{1, 2}), test.ShouldBeNil)
	test.That(t, solver.WarmStartX([]float64{1}), test.ShouldNotBeNil)

	res, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSolved)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 2, 1e-3)
}
