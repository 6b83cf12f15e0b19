package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EnforceEssentialConstraints projects m onto the set of essential matrices: rank 2 with two equal
// non-zero singular values. The result is scaled to have singular values (1, 1, 0).
func EnforceEssentialConstraints(m *mat.Dense) (*mat.Dense, error) {
	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("failed to factorize essential matrix")
	}
	S := eye(3)
	S.Set(2, 2, 0)

	var essMat mat.Dense
	essMat.Mul(mats.U, S)
	essMat.Mul(&essMat, mats.VT)
	return &essMat, nil
}

// DecomposeEssentialMatrix decomposes the Essential matrix into 2 possible 3D rotations and a 3D translation
// direction. The translation is only known up to sign; both rotations have determinant +1.
func DecomposeEssentialMatrix(essMat *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, error) {
	mats := performSVD(essMat)
	if mats == nil {
		return nil, nil, nil, errors.New("failed to factorize essential matrix")
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	W := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var R1, R2 mat.Dense
	// UWV^T
	R1.Mul(mats.U, W)
	R1.Mul(&R1, mats.VT)
	// UW^TV^T
	R2.Mul(mats.U, W.T())
	R2.Mul(&R2, mats.VT)
	U3 := mats.U.ColView(2)
	t := mat.NewDense(3, 1, []float64{U3.AtVec(0), U3.AtVec(1), U3.AtVec(2)})
	return &R1, &R2, t, nil
}

// SampsonDistance returns the squared first-order geometric error of the correspondence (p1, p2)
// with respect to the epipolar constraint p2ᵗ·E·p1 = 0.
func SampsonDistance(essMat *mat.Dense, p1, p2 r2.Point) float64 {
	e := essMat.RawMatrix()
	row := func(i int) r3.Vector {
		return r3.Vector{X: e.Data[i*e.Stride], Y: e.Data[i*e.Stride+1], Z: e.Data[i*e.Stride+2]}
	}
	x1 := r3.Vector{X: p1.X, Y: p1.Y, Z: 1}
	x2 := r3.Vector{X: p2.X, Y: p2.Y, Z: 1}
	ex1 := r3.Vector{X: row(0).Dot(x1), Y: row(1).Dot(x1), Z: row(2).Dot(x1)}
	etx2 := row(0).Mul(x2.X).Add(row(1).Mul(x2.Y)).Add(row(2).Mul(x2.Z))
	num := x2.Dot(ex1)
	den := ex1.X*ex1.X + ex1.Y*ex1.Y + etx2.X*etx2.X + etx2.Y*etx2.Y
	if num == 0 {
		return 0
	}
	if den < math.SmallestNonzeroFloat64 {
		return math.Inf(1)
	}
	return num * num / den
}

// Convert2DPointsToHomogeneousPoints converts float64 image coordinates to homogeneous float64 coordinates.
func Convert2DPointsToHomogeneousPoints(pts []r2.Point) []r3.Vector {
	ptsHomogeneous := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		ptsHomogeneous[i] = r3.Vector{
			X: pt.X,
			Y: pt.Y,
			Z: 1,
		}
	}
	return ptsHomogeneous
}

// ComputeEssentialMatrixAllPoints fits an essential matrix to normalized correspondences in the
// least-squares sense with the 8 point algorithm, then enforces the essential constraints.
func ComputeEssentialMatrixAllPoints(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 8 {
		return nil, errors.New("sets of points must have at least 8 elements")
	}
	nPoints := len(pts1)

	points1, T1 := normalizePoints(pts1)
	points2, T2 := normalizePoints(pts2)

	m := mat.NewDense(nPoints, 9, nil)
	for i := range points1 {
		m.SetRow(i, epipolarRow(points1[i], points2[i]))
	}

	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("failed to factorize the epipolar system")
	}
	lastColV := mats.V.ColView(8)
	lastColVdata := make([]float64, 9)
	for i := range lastColVdata {
		lastColVdata[i] = lastColV.AtVec(i)
	}
	F := mat.NewDense(3, 3, lastColVdata)

	// undo the normalization: T2^T @ F @ T1
	F.Mul(T2.T(), F)
	F.Mul(F, T1)
	if norm := mat.Norm(F, 2); norm > 0 {
		F.Scale(1/norm, F)
	}
	return EnforceEssentialConstraints(F)
}

// epipolarRow returns the coefficients of the row-major entries of E in p2ᵗ·E·p1.
func epipolarRow(p1, p2 r2.Point) []float64 {
	return []float64{
		p2.X * p1.X, p2.X * p1.Y, p2.X,
		p2.Y * p1.X, p2.Y * p1.Y, p2.Y,
		p1.X, p1.Y, 1,
	}
}

// helpers
// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{X: 0, Y: 0}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  []float64
}

// performSVD performs a full SVD on inputMatrix. Singular values are sorted in decreasing order.
// It returns nil if the factorization failed.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	return &matsSVD{u, v, vt, svd.Values(nil)}
}
