package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestNewRotationMatrix(t *testing.T) {
	rm, err := NewRotationMatrix([]float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rm.Det(), test.ShouldAlmostEqual, 1)
	v := rm.Mul(r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1)

	// reflection
	_, err = NewRotationMatrix([]float64{-1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldNotBeNil)
	// not orthonormal
	_, err = NewRotationMatrix([]float64{2, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewRotationMatrix([]float64{1, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewRotationMatrixFromDense(mat.NewDense(2, 2, nil))
	test.That(t, err, test.ShouldNotBeNil)
	fromDense, err := NewRotationMatrixFromDense(rm.Dense())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fromDense, test.ShouldResemble, rm)
}

func TestAxisAngleRoundTrip(t *testing.T) {
	for _, aa := range []*R4AA{
		{Theta: 0.3, RX: 0, RY: 1, RZ: 0},
		{Theta: 2.5, RX: 1, RY: 1, RZ: 0},
		{Theta: math.Pi - 0.01, RX: 0, RY: 0, RZ: 1},
		{Theta: 1, RX: -1, RY: 2, RZ: 3},
	} {
		rm := aa.RotationMatrix()
		test.That(t, rm.checkValid(), test.ShouldBeNil)
		back := rm.AxisAngles()
		test.That(t, back.Theta, test.ShouldAlmostEqual, aa.Theta)
		axis := r3.Vector{X: aa.RX, Y: aa.RY, Z: aa.RZ}.Normalize()
		test.That(t, back.RX, test.ShouldAlmostEqual, axis.X)
		test.That(t, back.RY, test.ShouldAlmostEqual, axis.Y)
		test.That(t, back.RZ, test.ShouldAlmostEqual, axis.Z)

		q := aa.ToQuat()
		test.That(t, QuatToR4AA(q).Theta, test.ShouldAlmostEqual, aa.Theta)
		test.That(t, RotationAngleBetween(QuatToRotationMatrix(q), rm), test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, RotationAngleBetween(QuatToRotationMatrix(rm.Quaternion()), rm), test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, back.ToR3().Norm(), test.ShouldAlmostEqual, aa.Theta)
	}
	test.That(t, NewIdentityRotationMatrix().AxisAngles(), test.ShouldResemble, NewR4AA())
}

func TestRotationAngleBetween(t *testing.T) {
	a := (&R4AA{Theta: 0.2, RZ: 1}).RotationMatrix()
	b := (&R4AA{Theta: 0.5, RZ: 1}).RotationMatrix()
	test.That(t, RotationAngleBetween(a, b), test.ShouldAlmostEqual, 0.3)
	test.That(t, RotationAngleBetween(a, a), test.ShouldAlmostEqual, 0)

	product := a.MatMul(a.Transpose())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			expected := 0.
			if i == j {
				expected = 1
			}
			test.That(t, product.At(i, j), test.ShouldAlmostEqual, expected)
		}
	}
}
