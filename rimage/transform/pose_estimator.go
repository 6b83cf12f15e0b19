package transform

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/spatialmath"
)

var (
	// ErrInsufficientCorrespondences is returned when fewer than 5 correspondences are given.
	ErrInsufficientCorrespondences = errors.New("at least 5 correspondences are needed to estimate an essential matrix")
	// ErrDegenerateConfiguration is returned when no essential matrix with enough support could be found,
	// e.g. the points are collinear or coincident, there is no parallax, or too few inliers.
	ErrDegenerateConfiguration = errors.New("degenerate configuration, no valid essential matrix")
	// ErrMismatchedCorrespondences is returned when the two point sets are not index aligned.
	ErrMismatchedCorrespondences = errors.New("the 2 sets of points don't have the same number of elements")
)

// PoseEstimate is the relative motion between two frames. A point X1 in the first camera frame is
// X2 = Rotation·X1 + Translation in the second. Translation has unit norm, the scale of monocular
// motion being unknown. InlierMask is parallel to the input correspondences.
type PoseEstimate struct {
	Rotation    *mat.Dense
	Translation *mat.Dense
	InlierMask  []bool
}

// NumInliers returns the number of correspondences consistent with the estimate.
func (pe *PoseEstimate) NumInliers() int {
	return lo.Count(pe.InlierMask, true)
}

// CamPose returns the estimate as a 3x4 camera pose.
func (pe *PoseEstimate) CamPose() *CamPose {
	var poseMat mat.Dense
	poseMat.Augment(pe.Rotation, pe.Translation)
	return NewCamPoseFromMat(&poseMat)
}

// Pose returns the estimate as a spatialmath.Pose.
func (pe *PoseEstimate) Pose() (*spatialmath.Pose, error) {
	return pe.CamPose().Pose()
}

// PoseEstimator recovers the relative pose of a calibrated camera between two frames from 2D-2D
// correspondences. It holds no state between calls besides its immutable parameters.
type PoseEstimator struct {
	intrinsics PinholeCameraIntrinsics
	cfg        EssentialRANSACConfig
	clock      clock.Clock
	logger     logging.Logger
}

// NewPoseEstimator returns a PoseEstimator for a camera with the given intrinsics. A nil cfg uses the
// default parameters; unset fields of cfg are defaulted.
func NewPoseEstimator(intrinsics *PinholeCameraIntrinsics, cfg *EssentialRANSACConfig, logger logging.Logger) (*PoseEstimator, error) {
	return NewPoseEstimatorWithClock(intrinsics, cfg, clock.New(), logger)
}

// NewPoseEstimatorWithClock is like NewPoseEstimator, with the clock measuring the time budget.
func NewPoseEstimatorWithClock(
	intrinsics *PinholeCameraIntrinsics,
	cfg *EssentialRANSACConfig,
	clk clock.Clock,
	logger logging.Logger,
) (*PoseEstimator, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewDefaultEssentialRANSACConfig()
	}
	cfgCopy := *cfg
	cfgCopy.ApplyDefaults()
	if err := cfgCopy.Validate(); err != nil {
		return nil, err
	}
	return &PoseEstimator{
		intrinsics: *intrinsics,
		cfg:        cfgCopy,
		clock:      clk,
		logger:     logger,
	}, nil
}

// Intrinsics returns a copy of the camera intrinsics.
func (pe *PoseEstimator) Intrinsics() PinholeCameraIntrinsics {
	return pe.intrinsics
}

// CameraMatrix returns the 3x3 intrinsic matrix K.
func (pe *PoseEstimator) CameraMatrix() *mat.Dense {
	return pe.intrinsics.GetCameraMatrix()
}

// EstimatePose estimates the motion of the camera between the frame of pts1 and the frame of pts2,
// which are matching pixel coordinates. On failure no estimate is returned and the error is one of
// ErrMismatchedCorrespondences, ErrInsufficientCorrespondences or ErrDegenerateConfiguration.
func (pe *PoseEstimator) EstimatePose(ctx context.Context, pts1, pts2 []r2.Point) (*PoseEstimate, error) {
	if len(pts1) != len(pts2) {
		return nil, ErrMismatchedCorrespondences
	}
	if len(pts1) < minimalSampleSize {
		return nil, ErrInsufficientCorrespondences
	}

	norm1 := make([]r2.Point, len(pts1))
	norm2 := make([]r2.Point, len(pts2))
	for i := range pts1 {
		norm1[i] = pe.intrinsics.PixelToNormalized(pts1[i])
		norm2[i] = pe.intrinsics.PixelToNormalized(pts2[i])
	}
	threshold := pe.cfg.Threshold / pe.intrinsics.MeanFocalLength()

	start := pe.clock.Now()
	sampleCtx := ctx
	if pe.cfg.TimeBudgetMs > 0 {
		var cancel context.CancelFunc
		sampleCtx, cancel = pe.clock.WithTimeout(ctx, time.Duration(pe.cfg.TimeBudgetMs)*time.Millisecond)
		defer cancel()
	}
	//nolint:gosec
	rnd := rand.New(rand.NewSource(pe.cfg.Seed))
	essMat, ransacInliers, err := FindEssentialMatrix(sampleCtx, norm1, norm2, threshold*threshold, &pe.cfg, rnd, pe.logger)
	if err != nil {
		return nil, err
	}
	essMat, err = EnforceEssentialConstraints(essMat)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateConfiguration, err.Error())
	}
	poses, err := GetPossibleCameraPoses(essMat)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateConfiguration, err.Error())
	}

	inlierIdx := make([]int, 0, len(ransacInliers))
	for i, ok := range ransacInliers {
		if ok {
			inlierIdx = append(inlierIdx, i)
		}
	}
	in1 := make([]r2.Point, len(inlierIdx))
	in2 := make([]r2.Point, len(inlierIdx))
	for j, i := range inlierIdx {
		in1[j] = norm1[i]
		in2[j] = norm2[i]
	}
	pose, depthMask, err := GetCorrectCameraPose(
		poses,
		Convert2DPointsToHomogeneousPoints(in1),
		Convert2DPointsToHomogeneousPoints(in2),
		pe.cfg.MaxDepth,
	)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateConfiguration, err.Error())
	}

	mask := make([]bool, len(pts1))
	for j, i := range inlierIdx {
		mask[i] = depthMask[j]
	}
	nInliers := lo.Count(mask, true)
	if nInliers == 0 {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "no point in front of both cameras")
	}

	camPose := NewCamPoseFromMat(pose)
	translation := camPose.Translation
	if norm := mat.Norm(translation, 2); norm > 0 {
		translation.Scale(1/norm, translation)
	}
	pe.logger.Debugw("relative pose estimated",
		"correspondences", len(pts1),
		"epipolar_inliers", len(inlierIdx),
		"inliers", nInliers,
		"elapsed", pe.clock.Since(start),
	)
	return &PoseEstimate{
		Rotation:    camPose.Rotation,
		Translation: translation,
		InlierMask:  mask,
	}, nil
}
