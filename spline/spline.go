// Package spline implements natural cubic spline interpolation, including an
// arc-length parameterized planar spline used for yaw, curvature, and offset
// position queries along a path.
package spline

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Spline1D is a natural cubic spline through (key, value) pairs with strictly
// increasing keys. Queries outside the key range are clamped to the ends.
type Spline1D struct {
	keys []float64
	// per-segment coefficients of a*ds^3 + b*ds^2 + c*ds + d
	a, b, c, d []float64
}

// NewSpline1D fits a natural cubic spline to the given base points.
func NewSpline1D(keys, values []float64) (*Spline1D, error) {
	if len(keys) != len(values) {
		return nil, errors.Errorf("keys and values have different sizes %d and %d", len(keys), len(values))
	}
	if len(keys) < 2 {
		return nil, errors.New("at least two base points are required")
	}
	for i := 0; i+1 < len(keys); i++ {
		if keys[i+1] <= keys[i] {
			return nil, errors.New("keys must be strictly increasing")
		}
	}

	n := len(keys)
	h := make([]float64, n-1)
	dv := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		h[i] = keys[i+1] - keys[i]
		dv[i] = values[i+1] - values[i]
	}

	// second derivatives at the base points, zero at both ends
	v := make([]float64, n)
	if n > 2 {
		td := newTridiagonal(n - 2)
		for i := 0; i < n-2; i++ {
			td.b[i] = 2 * (h[i] + h[i+1])
			if i != n-3 {
				td.a[i] = h[i+1]
				td.c[i] = h[i+1]
			}
			td.d[i] = 6 * (dv[i+1]/h[i+1] - dv[i]/h[i])
		}
		copy(v[1:n-1], td.solve())
	}

	sp := &Spline1D{
		keys: append([]float64{}, keys...),
		a:    make([]float64, n-1),
		b:    make([]float64, n-1),
		c:    make([]float64, n-1),
		d:    make([]float64, n-1),
	}
	for i := 0; i < n-1; i++ {
		sp.a[i] = (v[i+1] - v[i]) / 6 / h[i]
		sp.b[i] = v[i] / 2
		sp.c[i] = dv[i]/h[i] - h[i]*(2*v[i]+v[i+1])/6
		sp.d[i] = values[i]
	}
	return sp, nil
}

// segment returns the segment index bracketing the query and the offset into it.
func (sp *Spline1D) segment(query float64) (int, float64) {
	n := len(sp.keys)
	if query <= sp.keys[0] {
		return 0, query - sp.keys[0]
	}
	if query >= sp.keys[n-1] {
		return n - 2, sp.keys[n-1] - sp.keys[n-2]
	}
	// keys are ordered, binary search for the bracketing segment
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if sp.keys[mid] <= query {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, query - sp.keys[lo]
}

// Value evaluates the spline.
func (sp *Spline1D) Value(query float64) float64 {
	i, ds := sp.segment(query)
	return sp.a[i]*ds*ds*ds + sp.b[i]*ds*ds + sp.c[i]*ds + sp.d[i]
}

// Deriv evaluates the first derivative of the spline.
func (sp *Spline1D) Deriv(query float64) float64 {
	i, ds := sp.segment(query)
	return 3*sp.a[i]*ds*ds + 2*sp.b[i]*ds + sp.c[i]
}

// SecondDeriv evaluates the second derivative of the spline.
func (sp *Spline1D) SecondDeriv(query float64) float64 {
	i, ds := sp.segment(query)
	return 6*sp.a[i]*ds + 2*sp.b[i]
}

// Spline2D is a planar cubic spline parameterized by accumulated arc length
// over an ordered point sequence.
type Spline2D struct {
	s []float64
	x *Spline1D
	y *Spline1D
}

// NewSpline2D fits an arc-length parameterized spline through the points.
func NewSpline2D(points []r2.Point) (*Spline2D, error) {
	if len(points) < 2 {
		return nil, errors.New("at least two points are required")
	}
	s := make([]float64, len(points))
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		if i > 0 {
			ds := p.Sub(points[i-1]).Norm()
			if ds <= 0 {
				return nil, errors.New("points must not overlap")
			}
			s[i] = s[i-1] + ds
		}
		xs[i] = p.X
		ys[i] = p.Y
	}
	x, err := NewSpline1D(s, xs)
	if err != nil {
		return nil, err
	}
	y, err := NewSpline1D(s, ys)
	if err != nil {
		return nil, err
	}
	return &Spline2D{s: s, x: x, y: y}, nil
}

// Length returns the total accumulated arc length.
func (sp *Spline2D) Length() float64 {
	return sp.s[len(sp.s)-1]
}

// ArcLength returns the accumulated arc length at base point i.
func (sp *Spline2D) ArcLength(i int) float64 {
	return sp.s[i]
}

// Position evaluates the spline position at arc length s, clamped to the ends.
func (sp *Spline2D) Position(s float64) r2.Point {
	return r2.Point{X: sp.x.Value(s), Y: sp.y.Value(s)}
}

// Yaw evaluates the tangent heading at arc length s.
func (sp *Spline2D) Yaw(s float64) float64 {
	return math.Atan2(sp.y.Deriv(s), sp.x.Deriv(s))
}

// Curvature evaluates the signed curvature at arc length s.
func (sp *Spline2D) Curvature(s float64) float64 {
	dx := sp.x.Deriv(s)
	dy := sp.y.Deriv(s)
	ddx := sp.x.SecondDeriv(s)
	ddy := sp.y.SecondDeriv(s)
	den := math.Pow(dx*dx+dy*dy, 1.5)
	if den == 0 {
		return 0
	}
	return (dx*ddy - dy*ddx) / den
}

// PositionAt evaluates the position offset meters ahead of base point i.
func (sp *Spline2D) PositionAt(i int, offset float64) r2.Point {
	return sp.Position(sp.s[i] + offset)
}

// YawAt evaluates the tangent heading offset meters ahead of base point i.
func (sp *Spline2D) YawAt(i int, offset float64) float64 {
	return sp.Yaw(sp.s[i] + offset)
}

// Yaws estimates the tangent heading at every input point by fitting an
// arc-length spline through them.
func Yaws(points []r2.Point) ([]float64, error) {
	sp, err := NewSpline2D(points)
	if err != nil {
		return nil, err
	}
	yaws := make([]float64, len(points))
	for i := range points {
		yaws[i] = sp.Yaw(sp.s[i])
	}
	return yaws, nil
}

// tridiagonal holds the coefficients of a tridiagonal system
//
//	[b_0 c_0 ...                  ]
//	[a_0 b_1 c_1 ...              ]
//	[            ...              ]
//	[        ... a_N-3 b_N-2 c_N-2]
//	[              ... a_N-2 b_N-1]
type tridiagonal struct {
	a, b, c, d []float64
}

func newTridiagonal(numRow int) *tridiagonal {
	return &tridiagonal{
		a: make([]float64, numRow-1),
		b: make([]float64, numRow),
		c: make([]float64, numRow-1),
		d: make([]float64, numRow),
	}
}

// solve runs the Thomas algorithm and returns x solving Ax = d.
func (t *tridiagonal) solve() []float64 {
	n := len(t.b)
	x := make([]float64, n)
	if n == 1 {
		x[0] = t.d[0] / t.b[0]
		return x
	}

	p := make([]float64, n)
	q := make([]float64, n)
	p[0] = -t.c[0] / t.b[0]
	q[0] = t.d[0] / t.b[0]
	for i := 1; i < n; i++ {
		den := t.b[i] + t.a[i-1]*p[i-1]
		if i != n-1 {
			p[i] = -t.c[i] / den
		}
		q[i] = (t.d[i] - t.a[i-1]*q[i-1]) / den
	}

	x[n-1] = q[n-1]
	for i := n - 2; i >= 0; i-- {
		x[i] = p[i]*x[i+1] + q[i]
	}
	return x
}
