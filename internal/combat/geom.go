package combat

import "math"

type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64         { return math.Sqrt(a.Dot(a)) }
func (a Vec3) Dist(b Vec3) float64  { return a.Sub(b).Len() }
func (a Vec3) IsZero() bool         { return a.X == 0 && a.Y == 0 && a.Z == 0 }
func (a Vec3) Flat() Vec3           { return Vec3{a.X, 0, a.Z} }
func (a Vec3) Slice() []float64     { return []float64{a.X, a.Y, a.Z} }
func (a Vec3) Equal(b Vec3, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

func (a Vec3) Norm() Vec3 {
	l := a.Len()
	if l == 0 {
		return Vec3{}
	}
	return Vec3{a.X / l, a.Y / l, a.Z / l}
}

// AngleTo returns the unsigned angle in degrees between a and b, in [0,180].
// A zero vector on either side yields 0.
func (a Vec3) AngleTo(b Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la == 0 || lb == 0 {
		return 0
	}
	c := a.Dot(b) / (la * lb)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c) * 180 / math.Pi
}

// Perpendicular returns a rotated by 90 degrees around the vertical axis.
// side > 0 turns left, otherwise right. Vertical motion is discarded.
func (a Vec3) Perpendicular(side float64) Vec3 {
	if side > 0 {
		return Vec3{X: -a.Z, Y: 0, Z: a.X}
	}
	return Vec3{X: a.Z, Y: 0, Z: -a.X}
}
