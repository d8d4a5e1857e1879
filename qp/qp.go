// Package qp solves convex quadratic programs of the form
//
//	minimize   (1/2) xᵀPx + qᵀx
//	subject to l ≤ Ax ≤ u
//
// with the operator-splitting (ADMM) method. The solver keeps its iterates
// between solves so a caller re-solving a problem of identical dimensions gets
// a warm start.
package qp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Inf marks an unbounded constraint side.
const Inf = 1e30

// Status reports the outcome of a solve.
type Status int

const (
	// StatusSolved means the returned point satisfies the tolerances.
	StatusSolved Status = iota
	// StatusMaxIterations means the iteration budget ran out before the
	// residuals met the tolerances.
	StatusMaxIterations
)

func (s Status) String() string {
	switch s {
	case StatusSolved:
		return "solved"
	case StatusMaxIterations:
		return "max iterations reached"
	}
	return "unknown"
}

// Problem is one QP instance. P must be symmetric positive semidefinite of
// size n×n, A of size m×n, and q, l, u of matching lengths.
type Problem struct {
	P *mat.Dense
	Q []float64
	A *mat.Dense
	L []float64
	U []float64
}

func (p *Problem) dims() (n, m int, err error) {
	if p.P == nil || p.A == nil {
		return 0, 0, errors.New("objective and constraint matrices are required")
	}
	n, nc := p.P.Dims()
	if n != nc {
		return 0, 0, errors.New("objective matrix must be square")
	}
	m, ac := p.A.Dims()
	if ac != n {
		return 0, 0, errors.Errorf("constraint matrix has %d columns, want %d", ac, n)
	}
	if len(p.Q) != n || len(p.L) != m || len(p.U) != m {
		return 0, 0, errors.New("gradient or bound sizes do not match the matrices")
	}
	return n, m, nil
}

// Options tunes the solver. Zero values fall back to defaults.
type Options struct {
	EpsAbs        float64
	EpsRel        float64
	MaxIterations int
	Rho           float64
	Sigma         float64
	Alpha         float64
	CheckInterval int
}

func (o Options) withDefaults() Options {
	if o.EpsAbs == 0 {
		o.EpsAbs = 1e-5
	}
	if o.EpsRel == 0 {
		o.EpsRel = 1e-5
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = 20000
	}
	if o.Rho == 0 {
		o.Rho = 0.1
	}
	if o.Sigma == 0 {
		o.Sigma = 1e-6
	}
	if o.Alpha == 0 {
		o.Alpha = 1.6
	}
	if o.CheckInterval == 0 {
		o.CheckInterval = 25
	}
	return o
}

// Result is the outcome of one solve.
type Result struct {
	X              []float64
	Iterations     int
	Status         Status
	PrimalResidual float64
	DualResidual   float64
}

// Solver holds the factorized KKT system and the iterates carried across
// solves of same-dimension problems.
type Solver struct {
	opts Options
	n, m int

	prob *Problem
	rho  []float64
	lu   *mat.LU

	x *mat.VecDense
	y *mat.VecDense
	z *mat.VecDense
}

// NewSolver sets up a solver for the problem with cold (zero) iterates.
func NewSolver(prob *Problem, opts Options) (*Solver, error) {
	n, m, err := prob.dims()
	if err != nil {
		return nil, err
	}
	s := &Solver{
		opts: opts.withDefaults(),
		n:    n,
		m:    m,
		x:    mat.NewVecDense(n, nil),
		y:    mat.NewVecDense(m, nil),
		z:    mat.NewVecDense(m, nil),
	}
	if err := s.factorize(prob); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the problem data, keeping the current iterates as the warm
// start. The new problem must have the same dimensions.
func (s *Solver) Update(prob *Problem) error {
	n, m, err := prob.dims()
	if err != nil {
		return err
	}
	if n != s.n || m != s.m {
		return errors.Errorf("problem dimensions changed from (%d,%d) to (%d,%d)", s.n, s.m, n, m)
	}
	return s.factorize(prob)
}

// WarmStartX seeds the primal iterate.
func (s *Solver) WarmStartX(x0 []float64) error {
	if len(x0) != s.n {
		return errors.Errorf("warm start size %d does not match problem size %d", len(x0), s.n)
	}
	for i, v := range x0 {
		s.x.SetVec(i, v)
	}
	return nil
}

// factorize builds the step-size vector and the KKT factorization
//
//	[P + sigma*I    Aᵀ        ]
//	[A              -diag(1/rho)]
func (s *Solver) factorize(prob *Problem) error {
	n, m := s.n, s.m

	// equality rows get a much stiffer step size
	rho := make([]float64, m)
	for i := 0; i < m; i++ {
		if prob.U[i]-prob.L[i] < 1e-9 {
			rho[i] = s.opts.Rho * 1e3
		} else {
			rho[i] = s.opts.Rho
		}
	}

	kkt := mat.NewDense(n+m, n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			kkt.Set(i, j, prob.P.At(i, j))
		}
		kkt.Set(i, i, kkt.At(i, i)+s.opts.Sigma)
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a := prob.A.At(i, j)
			kkt.Set(n+i, j, a)
			kkt.Set(j, n+i, a)
		}
		kkt.Set(n+i, n+i, -1/rho[i])
	}

	var lu mat.LU
	lu.Factorize(kkt)
	if math.Abs(lu.Det()) < 1e-300 {
		return errors.New("KKT system is singular")
	}

	s.prob = prob
	s.rho = rho
	s.lu = &lu
	return nil
}

// Solve runs ADMM from the current iterates until the residual tolerances or
// the iteration budget are met.
func (s *Solver) Solve() (*Result, error) {
	n, m := s.n, s.m
	prob := s.prob
	opts := s.opts

	rhs := mat.NewVecDense(n+m, nil)
	sol := mat.NewVecDense(n+m, nil)
	xt := mat.NewVecDense(n, nil)
	zt := mat.NewVecDense(m, nil)
	ax := mat.NewVecDense(m, nil)
	grad := mat.NewVecDense(n, nil)

	var rPrim, rDual float64
	iters := 0
	for iters < opts.MaxIterations {
		iters++

		// x/nu step through the KKT system
		for i := 0; i < n; i++ {
			rhs.SetVec(i, opts.Sigma*s.x.AtVec(i)-prob.Q[i])
		}
		for i := 0; i < m; i++ {
			rhs.SetVec(n+i, s.z.AtVec(i)-s.y.AtVec(i)/s.rho[i])
		}
		if err := s.lu.SolveVecTo(sol, false, rhs); err != nil {
			return nil, errors.Wrap(err, "KKT solve failed")
		}
		for i := 0; i < n; i++ {
			xt.SetVec(i, sol.AtVec(i))
		}
		for i := 0; i < m; i++ {
			nu := sol.AtVec(n + i)
			zt.SetVec(i, s.z.AtVec(i)+(nu-s.y.AtVec(i))/s.rho[i])
		}

		// relaxed updates with projection onto [l, u]
		for i := 0; i < n; i++ {
			s.x.SetVec(i, opts.Alpha*xt.AtVec(i)+(1-opts.Alpha)*s.x.AtVec(i))
		}
		for i := 0; i < m; i++ {
			t := opts.Alpha*zt.AtVec(i) + (1-opts.Alpha)*s.z.AtVec(i)
			zNew := t + s.y.AtVec(i)/s.rho[i]
			if zNew < prob.L[i] {
				zNew = prob.L[i]
			} else if zNew > prob.U[i] {
				zNew = prob.U[i]
			}
			s.y.SetVec(i, s.y.AtVec(i)+s.rho[i]*(t-zNew))
			s.z.SetVec(i, zNew)
		}

		if iters%opts.CheckInterval != 0 {
			continue
		}

		// primal residual: Ax - z
		ax.MulVec(s.prob.A, s.x)
		rPrim = 0
		for i := 0; i < m; i++ {
			if r := math.Abs(ax.AtVec(i) - s.z.AtVec(i)); r > rPrim {
				rPrim = r
			}
		}
		// dual residual: Px + q + Aᵀy
		grad.MulVec(s.prob.P, s.x)
		for i := 0; i < n; i++ {
			grad.SetVec(i, grad.AtVec(i)+prob.Q[i])
		}
		var aty mat.VecDense
		aty.MulVec(s.prob.A.T(), s.y)
		rDual = 0
		for i := 0; i < n; i++ {
			if r := math.Abs(grad.AtVec(i) + aty.AtVec(i)); r > rDual {
				rDual = r
			}
		}

		epsPrim := opts.EpsAbs + opts.EpsRel*vecInfNorm(ax)
		epsDual := opts.EpsAbs + opts.EpsRel*vecInfNorm(grad)
		if rPrim <= epsPrim && rDual <= epsDual {
			return s.result(iters, StatusSolved, rPrim, rDual), nil
		}
	}

	return s.result(iters, StatusMaxIterations, rPrim, rDual), nil
}

func (s *Solver) result(iters int, status Status, rPrim, rDual float64) *Result {
	x := make([]float64, s.n)
	for i := range x {
		x[i] = s.x.AtVec(i)
	}
	return &Result{
		X:              x,
		Iterations:     iters,
		Status:         status,
		PrimalResidual: rPrim,
		DualResidual:   rDual,
	}
}

func vecInfNorm(v *mat.VecDense) float64 {
	var norm float64
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > norm {
			norm = a
		}
	}
	return norm
}
