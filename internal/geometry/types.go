// Package geometry provides the point and transform types shared by the gesture
// engine, the document model and the renderer.
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a transform cannot be inverted or a
// correspondence system has no unique solution.
var ErrSingular = errors.New("singular transform")

// Point represents a 2D point with floating-point coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Add returns the sum of two points.
func (p Point) Add(other Point) Point {
	return Point{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of two points.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Similarity is a rotation + uniform scale + translation:
//
//	[Sc -Ss Tx]
//	[Ss  Sc Ty]
//	[0   0   1]
type Similarity struct {
	Sc float64 `json:"sc"`
	Ss float64 `json:"ss"`
	Tx float64 `json:"tx"`
	Ty float64 `json:"ty"`
}

// Identity returns the identity similarity.
func Identity() Similarity {
	return Similarity{Sc: 1}
}

// Det returns Sc²+Ss², the determinant of the linear part.
func (t Similarity) Det() float64 {
	return t.Sc*t.Sc + t.Ss*t.Ss
}

// Scale returns the uniform scale factor.
func (t Similarity) Scale() float64 {
	return math.Sqrt(t.Det())
}

// IsFinite reports whether every component is a finite number.
func (t Similarity) IsFinite() bool {
	for _, v := range [4]float64{t.Sc, t.Ss, t.Tx, t.Ty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Homogeneous returns the 3×3 homogeneous matrix of t.
func (t Similarity) Homogeneous() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		t.Sc, -t.Ss, t.Tx,
		t.Ss, t.Sc, t.Ty,
		0, 0, 1,
	})
}

// Apply maps p through t.
func (t Similarity) Apply(p Point) Point {
	var out mat.VecDense
	out.MulVec(t.Homogeneous(), mat.NewVecDense(3, []float64{p.X, p.Y, 1}))
	return Point{X: out.AtVec(0), Y: out.AtVec(1)}
}

// Invert maps p through the inverse of t.
func (t Similarity) Invert(p Point) (Point, error) {
	if t.Det() == 0 {
		return Point{}, ErrSingular
	}
	var out mat.VecDense
	if err := SolveError(out.SolveVec(t.Homogeneous(), mat.NewVecDense(3, []float64{p.X, p.Y, 1}))); err != nil {
		return Point{}, err
	}
	return Point{X: out.AtVec(0), Y: out.AtVec(1)}, nil
}

// ZoomAbout composes t with a uniform scaling by ratio centred on c, so that
// c is a fixed point of the result.
func (t Similarity) ZoomAbout(c Point, ratio float64) Similarity {
	return Similarity{
		Sc: t.Sc * ratio,
		Ss: t.Ss * ratio,
		Tx: t.Tx*ratio + c.X*(1-ratio),
		Ty: t.Ty*ratio + c.Y*(1-ratio),
	}
}

// Matrix returns t in CSS matrix(a, b, c, d, e, f) form.
func (t Similarity) Matrix() Matrix {
	return Matrix{t.Sc, t.Ss, -t.Ss, t.Sc, t.Tx, t.Ty}
}

// Matrix is a 2D affine transform in CSS matrix(a, b, c, d, e, f) order:
//
//	x' = a*x + c*y + e
//	y' = b*x + d*y + f
type Matrix [6]float64

// IdentityMatrix returns the identity transform in matrix form.
func IdentityMatrix() Matrix {
	return Matrix{1, 0, 0, 1, 0, 0}
}

// Apply maps p through m.
func (m Matrix) Apply(p Point) Point {
	return Point{
		X: m[0]*p.X + m[2]*p.Y + m[4],
		Y: m[1]*p.X + m[3]*p.Y + m[5],
	}
}

// Similarity recovers the 4-parameter form. ok is false when m has shear or
// non-uniform scale.
func (m Matrix) Similarity() (t Similarity, ok bool) {
	if m[2] != -m[1] || m[3] != m[0] {
		return Similarity{}, false
	}
	return Similarity{Sc: m[0], Ss: m[1], Tx: m[4], Ty: m[5]}, true
}

// Scale returns the uniform scale factor of the linear part.
func (m Matrix) Scale() float64 {
	return math.Sqrt(math.Abs(m[0]*m[3] - m[1]*m[2]))
}

// Prescale returns the matrix of a uniform scaling by s applied after m.
func (m Matrix) Prescale(s float64) Matrix {
	return Matrix{m[0] * s, m[1] * s, m[2] * s, m[3] * s, m[4] * s, m[5] * s}
}

// Equal compares two matrices component-wise with SameFloat.
func (m Matrix) Equal(other Matrix) bool {
	for i := range m {
		if !SameFloat(m[i], other[i]) {
			return false
		}
	}
	return true
}

// SameFloat is == except that NaN equals NaN, so a non-finite value compares
// equal to itself. 0 and -0 stay equal.
func SameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// SolveError normalises an error returned by a gonum solve. A finite
// condition-number warning still carries a usable result and is dropped; an
// infinite one (or any other failure) becomes ErrSingular.
func SolveError(err error) error {
	if err == nil {
		return nil
	}
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		return nil
	}
	return errors.Join(ErrSingular, err)
}
