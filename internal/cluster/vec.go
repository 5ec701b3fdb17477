package cluster

import "math"

// Vec3 is a 3-component vector used for atom positions and displacements.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return v.X*w.X + v.Y*w.Y + v.Z*w.Z
}

// Cross returns the cross product of v and w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v.Y*w.Z - v.Z*w.Y,
		v.Z*w.X - v.X*w.Z,
		v.X*w.Y - v.Y*w.X,
	}
}

// NormSq returns the squared length of v.
func (v Vec3) NormSq() float64 {
	return v.Dot(v)
}

// Norm returns the length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.NormSq())
}

// Normalize returns v scaled to unit length. The zero vector maps to the
// unit x axis so callers never receive NaN components.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{X: 1}
	}
	return v.Scale(1 / n)
}

// IsNaN reports whether any component is NaN.
func (v Vec3) IsNaN() bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}

// RotateAbout rotates v around the unit axis by angle (Rodrigues formula).
func (v Vec3) RotateAbout(axis Vec3, angle float64) Vec3 {
	sin, cos := math.Sincos(angle)
	k := axis.Normalize()
	return v.Scale(cos).
		Add(k.Cross(v).Scale(sin)).
		Add(k.Scale(k.Dot(v) * (1 - cos)))
}

// DistanceSq returns the squared euclidean distance between two points.
func DistanceSq(a, b Vec3) float64 {
	return a.Sub(b).NormSq()
}

// RandomUnitVec draws a uniformly distributed unit vector using the
// provided uniform sampler (values in [0,1)).
func RandomUnitVec(uniform func() float64) Vec3 {
	// Rejection sampling inside the unit ball avoids pole clustering.
	for {
		v := Vec3{
			X: 2*uniform() - 1,
			Y: 2*uniform() - 1,
			Z: 2*uniform() - 1,
		}
		n := v.NormSq()
		if n > 1e-12 && n <= 1.0 {
			return v.Scale(1 / math.Sqrt(n))
		}
	}
}
