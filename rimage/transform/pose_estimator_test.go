package transform

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/spatialmath"
)

var testIntrinsics = &PinholeCameraIntrinsics{Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}

// syntheticCorrespondences projects random points in front of the first camera into both cameras,
// the second one being related to the first by X2 = rot·X1 + tr. The first nOutliers second-view
// pixels are replaced by random ones.
func syntheticCorrespondences(
	rot *spatialmath.RotationMatrix, tr r3.Vector, nPoints, nOutliers int, seed int64,
) ([]r2.Point, []r2.Point) {
	//nolint:gosec
	rnd := rand.New(rand.NewSource(seed))
	pts1 := make([]r2.Point, 0, nPoints)
	pts2 := make([]r2.Point, 0, nPoints)
	for len(pts1) < nPoints {
		x1 := r3.Vector{X: 6*rnd.Float64() - 3, Y: 4*rnd.Float64() - 2, Z: 4 + 6*rnd.Float64()}
		x2 := rot.Mul(x1).Add(tr)
		if x2.Z <= 0.5 {
			continue
		}
		u1, v1 := testIntrinsics.PointToPixel(x1.X, x1.Y, x1.Z)
		u2, v2 := testIntrinsics.PointToPixel(x2.X, x2.Y, x2.Z)
		pts1 = append(pts1, r2.Point{X: u1, Y: v1})
		pts2 = append(pts2, r2.Point{X: u2, Y: v2})
	}
	for i := 0; i < nOutliers; i++ {
		pts2[i] = r2.Point{X: 640 * rnd.Float64(), Y: 480 * rnd.Float64()}
	}
	return pts1, pts2
}

func checkValidEstimate(t *testing.T, estimate *PoseEstimate, nPoints int) {
	t.Helper()
	test.That(t, estimate, test.ShouldNotBeNil)
	var rrt mat.Dense
	rrt.Mul(estimate.Rotation, estimate.Rotation.T())
	test.That(t, mat.EqualApprox(&rrt, eye(3), 1e-6), test.ShouldBeTrue)
	test.That(t, mat.Det(estimate.Rotation), test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, mat.Norm(estimate.Translation, 2), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, estimate.InlierMask, test.ShouldHaveLength, nPoints)
}

// radialExpansion returns pixel correspondences expanding away from the principal point by a factor
// 1.1, as seen by a camera moving forward towards a fronto-parallel scene.
func radialExpansion() ([]r2.Point, []r2.Point) {
	pts1 := []r2.Point{
		{X: 320, Y: 240}, {X: 330, Y: 240}, {X: 320, Y: 250}, {X: 310, Y: 240}, {X: 320, Y: 230},
		{X: 400, Y: 300}, {X: 250, Y: 180}, {X: 450, Y: 200}, {X: 200, Y: 400}, {X: 350, Y: 350},
	}
	pp := r2.Point{X: 320, Y: 240}
	pts2 := make([]r2.Point, len(pts1))
	for i, pt := range pts1 {
		pts2[i] = pt.Add(pt.Sub(pp).Mul(0.1))
	}
	return pts1, pts2
}

func checkForwardMotion(t *testing.T, estimate *PoseEstimate) {
	t.Helper()
	checkValidEstimate(t, estimate, 10)
	rot, err := spatialmath.NewRotationMatrixFromDense(estimate.Rotation)
	test.That(t, err, test.ShouldBeNil)
	angle := spatialmath.RotationAngleBetween(rot, spatialmath.NewIdentityRotationMatrix())
	test.That(t, angle, test.ShouldBeLessThan, 1e-3)
	// the scene comes closer: the camera moved forward
	test.That(t, estimate.Translation.At(2, 0), test.ShouldBeLessThan, -0.999)
	test.That(t, estimate.NumInliers(), test.ShouldBeGreaterThanOrEqualTo, 8)
}

func TestEstimatePoseRadialExpansion(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pts1, pts2 := radialExpansion()

	estimator, err := NewPoseEstimator(testIntrinsics, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	estimate, err := estimator.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	checkForwardMotion(t, estimate)

	// every point sits at the same depth, so many rank 2 matrices fit the data exactly and only
	// one of them is an essential matrix; the result must not depend on which sample came first
	for seed := int64(0); seed < 20; seed++ {
		estimator, err := NewPoseEstimator(testIntrinsics, &EssentialRANSACConfig{Seed: seed}, logger)
		test.That(t, err, test.ShouldBeNil)
		estimate, err := estimator.EstimatePose(context.Background(), pts1, pts2)
		test.That(t, err, test.ShouldBeNil)
		checkForwardMotion(t, estimate)
	}
}

func TestEstimatePoseSynthetic(t *testing.T) {
	logger := logging.NewTestLogger(t)
	estimator, err := NewPoseEstimator(testIntrinsics, &EssentialRANSACConfig{Seed: 42}, logger)
	test.That(t, err, test.ShouldBeNil)

	rot0 := (&spatialmath.R4AA{Theta: 0.1, RX: 0.2, RY: 1, RZ: 0.1}).RotationMatrix()
	tr0 := r3.Vector{X: 0.4, Y: -0.1, Z: -1}
	nPoints, nOutliers := 80, 16
	pts1, pts2 := syntheticCorrespondences(rot0, tr0, nPoints, nOutliers, 7)

	estimate, err := estimator.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	checkValidEstimate(t, estimate, nPoints)

	rot, err := spatialmath.NewRotationMatrixFromDense(estimate.Rotation)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.RotationAngleBetween(rot, rot0), test.ShouldBeLessThan, 1e-3)
	tr := r3.Vector{X: estimate.Translation.At(0, 0), Y: estimate.Translation.At(1, 0), Z: estimate.Translation.At(2, 0)}
	test.That(t, tr.Dot(tr0.Normalize()), test.ShouldBeGreaterThan, 0.9999)

	for i := nOutliers; i < nPoints; i++ {
		test.That(t, estimate.InlierMask[i], test.ShouldBeTrue)
	}
	nOutlierAccepted := 0
	for i := 0; i < nOutliers; i++ {
		if estimate.InlierMask[i] {
			nOutlierAccepted++
		}
	}
	test.That(t, nOutlierAccepted, test.ShouldBeLessThanOrEqualTo, 2)

	pose, err := estimate.Pose()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().Norm(), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestEstimatePoseDeterministic(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := &EssentialRANSACConfig{Seed: 3}
	rot0 := (&spatialmath.R4AA{Theta: 0.05, RX: 1, RY: 0, RZ: 0}).RotationMatrix()
	pts1, pts2 := syntheticCorrespondences(rot0, r3.Vector{X: 1, Y: 0, Z: -0.2}, 50, 10, 11)

	estimator, err := NewPoseEstimator(testIntrinsics, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	first, err := estimator.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	second, err := estimator.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Rotation, test.ShouldResemble, first.Rotation)
	test.That(t, second.Translation, test.ShouldResemble, first.Translation)
	test.That(t, second.InlierMask, test.ShouldResemble, first.InlierMask)

	other, err := NewPoseEstimator(testIntrinsics, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	third, err := other.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, third.Rotation, test.ShouldResemble, first.Rotation)
	test.That(t, third.Translation, test.ShouldResemble, first.Translation)
}

func TestEstimatePoseTimeBudget(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rot0 := (&spatialmath.R4AA{Theta: 0.05, RX: 1, RY: 0, RZ: 0}).RotationMatrix()
	pts1, pts2 := syntheticCorrespondences(rot0, r3.Vector{X: 1, Y: 0, Z: -0.2}, 50, 10, 11)

	unbounded, err := NewPoseEstimator(testIntrinsics, &EssentialRANSACConfig{Seed: 3}, logger)
	test.That(t, err, test.ShouldBeNil)
	expected, err := unbounded.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)

	// the mock clock never moves, so the budget does not change the result
	clk := clock.NewMock()
	bounded, err := NewPoseEstimatorWithClock(testIntrinsics, &EssentialRANSACConfig{Seed: 3, TimeBudgetMs: 10}, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	estimate, err := bounded.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate.Rotation, test.ShouldResemble, expected.Rotation)
	test.That(t, estimate.Translation, test.ShouldResemble, expected.Translation)
	test.That(t, estimate.InlierMask, test.ShouldResemble, expected.InlierMask)

	// a budget spent before the first sample leaves no model to return
	spentCfg := &EssentialRANSACConfig{Seed: 3, TimeBudgetMs: 10}
	spent, err := NewPoseEstimatorWithClock(testIntrinsics, spentCfg, spentBudgetClock{clk}, logger)
	test.That(t, err, test.ShouldBeNil)
	estimate, err = spent.EstimatePose(context.Background(), pts1, pts2)
	test.That(t, estimate, test.ShouldBeNil)
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)

	_, err = NewPoseEstimatorWithClock(testIntrinsics, &EssentialRANSACConfig{TimeBudgetMs: -1}, clk, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

// spentBudgetClock is a mock clock whose timeouts have already expired when they are handed out.
type spentBudgetClock struct {
	*clock.Mock
}

func (c spentBudgetClock) WithTimeout(parent context.Context, _ time.Duration) (context.Context, context.CancelFunc) {
	// the mock starts at the unix epoch, long before the wall clock
	return context.WithDeadline(parent, c.Now())
}

func TestEstimatePoseNoEstimate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	estimator, err := NewPoseEstimator(testIntrinsics, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()

	t.Run("fewer than 5 correspondences", func(t *testing.T) {
		for n := 0; n < 5; n++ {
			pts := make([]r2.Point, n)
			for i := range pts {
				pts[i] = r2.Point{X: float64(10 * i), Y: float64(20 * i)}
			}
			estimate, err := estimator.EstimatePose(ctx, pts, pts)
			test.That(t, estimate, test.ShouldBeNil)
			test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)
		}
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		pts1 := make([]r2.Point, 6)
		pts2 := make([]r2.Point, 7)
		estimate, err := estimator.EstimatePose(ctx, pts1, pts2)
		test.That(t, estimate, test.ShouldBeNil)
		test.That(t, err, test.ShouldBeError, ErrMismatchedCorrespondences)
	})

	t.Run("coincident points", func(t *testing.T) {
		pts1 := make([]r2.Point, 10)
		pts2 := make([]r2.Point, 10)
		for i := range pts1 {
			pts1[i] = r2.Point{X: 100, Y: 100}
			pts2[i] = r2.Point{X: 110, Y: 105}
		}
		estimate, err := estimator.EstimatePose(ctx, pts1, pts2)
		test.That(t, estimate, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)
	})

	t.Run("canceled context", func(t *testing.T) {
		rot0 := spatialmath.NewIdentityRotationMatrix()
		pts1, pts2 := syntheticCorrespondences(rot0, r3.Vector{Z: -1}, 30, 0, 5)
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()
		estimate, err := estimator.EstimatePose(cancelCtx, pts1, pts2)
		test.That(t, estimate, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}

func TestNewPoseEstimator(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewPoseEstimator(nil, nil, logger)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	_, err = NewPoseEstimator(testIntrinsics, &EssentialRANSACConfig{Confidence: 1.5}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg := &EssentialRANSACConfig{Seed: 9}
	estimator, err := NewPoseEstimator(testIntrinsics, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	// defaults are applied to a copy
	test.That(t, cfg.Threshold, test.ShouldEqual, 0.0)
	test.That(t, estimator.cfg.Threshold, test.ShouldEqual, DefaultRANSACThreshold)
	test.That(t, estimator.cfg.Confidence, test.ShouldEqual, DefaultRANSACConfidence)
	test.That(t, estimator.cfg.Seed, test.ShouldEqual, int64(9))
	test.That(t, estimator.Intrinsics(), test.ShouldResemble, *testIntrinsics)
	test.That(t, estimator.CameraMatrix().At(0, 2), test.ShouldEqual, 320.0)
}

func TestPoseEstimateCamPose(t *testing.T) {
	estimate := &PoseEstimate{
		Rotation:    eye(3),
		Translation: mat.NewDense(3, 1, []float64{0, 0, -1}),
		InlierMask:  []bool{true, false, true},
	}
	test.That(t, estimate.NumInliers(), test.ShouldEqual, 2)
	camPose := estimate.CamPose()
	r, c := camPose.PoseMat.Dims()
	test.That(t, r, test.ShouldEqual, 3)
	test.That(t, c, test.ShouldEqual, 4)
	test.That(t, camPose.PoseMat.At(2, 3), test.ShouldEqual, -1.0)
	pose, err := estimate.Pose()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().Z, test.ShouldEqual, -1.0)
	test.That(t, math.Abs(pose.Orientation().Det()-1), test.ShouldBeLessThan, 1e-12)
}
