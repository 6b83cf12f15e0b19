package transform

import (
	"context"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/spatialmath"
)

// closeUpToSign reports whether a and b are equal up to a global sign, within tol per entry.
func closeUpToSign(a, b *mat.Dense, tol float64) bool {
	var neg mat.Dense
	neg.Scale(-1, b)
	return mat.EqualApprox(a, b, tol) || mat.EqualApprox(a, &neg, tol)
}

func checkEssentialSingularValues(t *testing.T, essMat *mat.Dense) {
	t.Helper()
	var svd mat.SVD
	test.That(t, svd.Factorize(essMat, mat.SVDNone), test.ShouldBeTrue)
	values := svd.Values(nil)
	test.That(t, values[0], test.ShouldAlmostEqual, values[1], 1e-9)
	test.That(t, values[2], test.ShouldAlmostEqual, 0, 1e-9)
}

func TestRefineEssentialMatrix(t *testing.T) {
	rot0 := (&spatialmath.R4AA{Theta: 0.1, RX: 0, RY: 1, RZ: 0}).RotationMatrix()
	tr0 := r3.Vector{X: 1, Y: 0, Z: 0.3}.Normalize()
	pts1, pts2 := normalizedCorrespondences(rot0, tr0, testScene)
	thresholdSq := 1 / (800.0 * 800.0)

	off := (&spatialmath.R4AA{Theta: 0.03, RX: 1, RY: 1, RZ: 0}).RotationMatrix()
	start := essentialFromMotion(rot0.MatMul(off), tr0.Add(r3.Vector{Y: 0.05}).Normalize())
	var worst float64
	for i := range pts1 {
		worst = max(worst, SampsonDistance(start, pts1[i], pts2[i]))
	}
	test.That(t, worst, test.ShouldBeGreaterThan, 1e-3*thresholdSq)

	refined, err := refineEssentialMatrix(start, pts1, pts2, thresholdSq)
	test.That(t, err, test.ShouldBeNil)
	checkEssentialSingularValues(t, refined)
	for i := range pts1 {
		test.That(t, SampsonDistance(refined, pts1[i], pts2[i]), test.ShouldBeLessThan, 1e-3*thresholdSq)
	}
	var unit mat.Dense
	unit.Scale(1/mat.Norm(refined, 2), refined)
	test.That(t, closeUpToSign(&unit, essentialFromMotion(rot0, tr0), 1e-3), test.ShouldBeTrue)
}

func TestFindEssentialMatrixPlanarForwardMotion(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pix1, pix2 := radialExpansion()
	pts1 := make([]r2.Point, len(pix1))
	pts2 := make([]r2.Point, len(pix2))
	for i := range pix1 {
		pts1[i] = testIntrinsics.PixelToNormalized(pix1[i])
		pts2[i] = testIntrinsics.PixelToNormalized(pix2[i])
	}
	thresholdSq := 1 / (800.0 * 800.0)
	// forward motion: E = [t]x with t along the optical axis
	expected := essentialFromMotion(spatialmath.NewIdentityRotationMatrix(), r3.Vector{Z: 1})

	cfg := NewDefaultEssentialRANSACConfig()
	for seed := int64(0); seed < 10; seed++ {
		//nolint:gosec
		rnd := rand.New(rand.NewSource(seed))
		essMat, inliers, err := FindEssentialMatrix(context.Background(), pts1, pts2, thresholdSq, cfg, rnd, logger)
		test.That(t, err, test.ShouldBeNil)
		checkEssentialSingularValues(t, essMat)
		var unit mat.Dense
		unit.Scale(1/mat.Norm(essMat, 2), essMat)
		test.That(t, closeUpToSign(&unit, expected, 1e-3), test.ShouldBeTrue)
		test.That(t, inliers, test.ShouldHaveLength, len(pts1))
	}
}

func TestFindEssentialMatrixExpiredBudget(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pts1, pts2 := normalizedCorrespondences(spatialmath.NewIdentityRotationMatrix(), r3.Vector{X: 1}, testScene)
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	//nolint:gosec
	rnd := rand.New(rand.NewSource(1))
	essMat, inliers, err := FindEssentialMatrix(ctx, pts1, pts2, 1e-6, NewDefaultEssentialRANSACConfig(), rnd, logger)
	test.That(t, essMat, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldBeNil)
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}
