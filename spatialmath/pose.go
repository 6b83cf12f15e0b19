package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a point maps to orientation·p + point.
type Pose struct {
	point       r3.Vector
	orientation *RotationMatrix
}

// NewPose returns a pose with the given translation and orientation.
// A nil orientation is treated as no rotation.
func NewPose(point r3.Vector, orientation *RotationMatrix) *Pose {
	if orientation == nil {
		orientation = NewIdentityRotationMatrix()
	}
	return &Pose{point: point, orientation: orientation}
}

// NewZeroPose returns the identity pose.
func NewZeroPose() *Pose {
	return NewPose(r3.Vector{}, nil)
}

// Point returns the translation of the pose.
func (p *Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation of the pose.
func (p *Pose) Orientation() *RotationMatrix {
	return p.orientation
}

// Transform applies the pose to a point.
func (p *Pose) Transform(pt r3.Vector) r3.Vector {
	return p.orientation.Mul(pt).Add(p.point)
}

// dualQuaternion returns the pose as a unit dual quaternion: the real part is the rotation r and the
// dual part is t·r/2.
func (p *Pose) dualQuaternion() dualquat.Number {
	rot := p.orientation.Quaternion()
	t := quat.Number{Imag: p.point.X, Jmag: p.point.Y, Kmag: p.point.Z}
	return dualquat.Number{Real: rot, Dual: quat.Scale(0.5, quat.Mul(t, rot))}
}

// newPoseFromDualQuaternion is the inverse of dualQuaternion.
func newPoseFromDualQuaternion(dq dualquat.Number) *Pose {
	rot := quat.Scale(1/quat.Abs(dq.Real), dq.Real)
	t := quat.Scale(2, quat.Mul(dq.Dual, quat.Conj(rot)))
	return &Pose{
		point:       r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag},
		orientation: QuatToRotationMatrix(rot),
	}
}

// Compose returns the pose that applies b first, then a.
func Compose(a, b *Pose) *Pose {
	return newPoseFromDualQuaternion(dualquat.Mul(a.dualQuaternion(), b.dualQuaternion()))
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p *Pose) *Pose {
	return newPoseFromDualQuaternion(dualquat.Inv(p.dualQuaternion()))
}

// PoseAlmostEqual returns whether two poses have translations within epsilon of each other and
// orientations within epsilon radians of each other.
func PoseAlmostEqual(a, b *Pose, epsilon float64) bool {
	return a.point.Sub(b.point).Norm() < epsilon && RotationAngleBetween(a.orientation, b.orientation) < epsilon
}
