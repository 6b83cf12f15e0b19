package odometry

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/rimage/transform"
	"go.viam.com/vo/spatialmath"
	"go.viam.com/vo/vision/odometry/trajectory"
)

// Estimator estimates the motion of the camera between two frames. MotionEstimator implements it.
type Estimator interface {
	EstimateMotion(ctx context.Context, frame1, frame2 *Frame) (*Motion3D, error)
}

// Tracker chains frame to frame motions into the pose of the camera in the world, the world being
// the frame of the first camera.
type Tracker struct {
	mu        sync.Mutex
	estimator Estimator
	sink      trajectory.Sink
	logger    logging.Logger

	prevFrame *Frame
	pose      *spatialmath.Pose
	nPairs    int
	nSkipped  int
}

// NewTracker returns a Tracker starting at the origin. The first frame pushes the origin to sink,
// which may be nil, and every processed pair of frames then pushes the camera position.
func NewTracker(estimator Estimator, sink trajectory.Sink, logger logging.Logger) *Tracker {
	return &Tracker{
		estimator: estimator,
		sink:      sink,
		logger:    logger,
		pose:      spatialmath.NewZeroPose(),
	}
}

// isNoEstimate reports whether err means that the pair of frames carries no usable motion.
func isNoEstimate(err error) bool {
	return errors.Is(err, transform.ErrInsufficientCorrespondences) ||
		errors.Is(err, transform.ErrDegenerateConfiguration)
}

// ProcessFrame estimates the motion from the previous frame to frame and updates the camera pose.
// The first frame only initializes the tracker, records the starting position and returns a nil
// motion. When no motion can be
// estimated for the pair, the previous pose is held, the same position is pushed again and a nil
// motion is returned without error. Other errors leave the tracker unchanged.
func (tr *Tracker) ProcessFrame(ctx context.Context, frame *Frame) (*Motion3D, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if tr.prevFrame == nil {
		tr.prevFrame = frame
		tr.push()
		return nil, nil
	}

	motion, err := tr.estimator.EstimateMotion(ctx, tr.prevFrame, frame)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		if !isNoEstimate(err) {
			return nil, err
		}
		tr.nPairs++
		tr.nSkipped++
		tr.prevFrame = frame
		tr.logger.Warnw("no motion estimated, holding previous pose", "pair", tr.nPairs, "error", err)
		tr.push()
		return nil, nil
	}

	motionPose, err := motion.Pose()
	if err != nil {
		return nil, err
	}
	tr.nPairs++
	tr.prevFrame = frame
	// the motion maps points of the previous camera to the new one: the new camera sits at the
	// inverse motion in the previous camera frame
	tr.pose = spatialmath.Compose(tr.pose, spatialmath.PoseInverse(motionPose))
	tr.logger.Debugw("motion estimated",
		"pair", tr.nPairs,
		"matches", motion.NumMatches,
		"inliers", motion.NumInliers,
	)
	tr.push()
	return motion, nil
}

func (tr *Tracker) push() {
	if tr.sink == nil {
		return
	}
	pt := tr.pose.Point()
	tr.sink.PushPoint(pt.X, pt.Y, pt.Z)
}

// Pose returns the current pose of the camera in the world.
func (tr *Tracker) Pose() *spatialmath.Pose {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.pose
}

// Stats returns the number of processed pairs of frames and how many of them were skipped.
func (tr *Tracker) Stats() (int, int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.nPairs, tr.nSkipped
}
