// Package odometry estimates the motion of a monocular camera from one video frame to the next.
package odometry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/rimage/transform"
	"go.viam.com/vo/spatialmath"
	"go.viam.com/vo/vision/keypoints"
)

// MotionEstimationConfig contains the parameters needed for motion estimation between two video frames.
type MotionEstimationConfig struct {
	MatchingCfg   *keypoints.MatchingConfig          `json:"matching"`
	CamIntrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	RANSACCfg     *transform.EssentialRANSACConfig   `json:"ransac"`
	// MinParallaxPx is the smallest median displacement of matched keypoints, in pixels, for which
	// a motion is estimated. 0 disables the check.
	MinParallaxPx float64 `json:"min_parallax_px"`
	// StepScale is the length given to the unit translation of each step.
	StepScale float64 `json:"step_scale"`
}

// LoadMotionEstimationConfig loads a motion estimation configuration from a json file.
func LoadMotionEstimationConfig(path string) (*MotionEstimationConfig, error) {
	var config MotionEstimationConfig
	//nolint:gosec
	configFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "cannot decode motion estimation config %q", path)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// NewMotionEstimationConfigFromAttributes builds a configuration from a generic attribute map, such
// as a section of a larger configuration file.
func NewMotionEstimationConfigFromAttributes(attributes map[string]interface{}) (*MotionEstimationConfig, error) {
	var config MotionEstimationConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &config,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode motion estimation attributes")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills the unset parameters. The intrinsics have no default.
func (config *MotionEstimationConfig) ApplyDefaults() {
	if config.MatchingCfg == nil {
		config.MatchingCfg = keypoints.NewDefaultMatchingConfig()
	}
	config.MatchingCfg.ApplyDefaults()
	if config.RANSACCfg == nil {
		config.RANSACCfg = transform.NewDefaultEssentialRANSACConfig()
	}
	config.RANSACCfg.ApplyDefaults()
	if config.StepScale == 0 {
		config.StepScale = 1
	}
}

// Validate checks the whole configuration and reports every problem found.
func (config *MotionEstimationConfig) Validate() error {
	var errs error
	errs = multierr.Append(errs, errors.Wrap(config.MatchingCfg.Validate(), "matching"))
	errs = multierr.Append(errs, errors.Wrap(config.CamIntrinsics.CheckValid(), "intrinsic_parameters"))
	errs = multierr.Append(errs, errors.Wrap(config.RANSACCfg.Validate(), "ransac"))
	if config.MinParallaxPx < 0 {
		errs = multierr.Append(errs, errors.Errorf("min_parallax_px must not be negative, got %v", config.MinParallaxPx))
	}
	if config.StepScale <= 0 {
		errs = multierr.Append(errs, errors.Errorf("step_scale must be positive, got %v", config.StepScale))
	}
	return errs
}

// Motion3D contains the estimated 3D rotation and translation from 2 frames: a point X1 in the
// first camera frame is X2 = Rotation·X1 + Translation in the second.
type Motion3D struct {
	Rotation    *mat.Dense
	Translation *mat.Dense
	NumMatches  int
	NumInliers  int
}

// NewMotion3DFromRotationTranslation returns a new pointer to Motion3D from a rotation and a translation matrix.
func NewMotion3DFromRotationTranslation(rotation, translation *mat.Dense) *Motion3D {
	return &Motion3D{
		Rotation:    rotation,
		Translation: translation,
	}
}

// Pose returns the motion as the pose of the first camera in the frame of the second.
func (m *Motion3D) Pose() (*spatialmath.Pose, error) {
	var poseMat mat.Dense
	poseMat.Augment(m.Rotation, m.Translation)
	return transform.NewCamPoseFromMat(&poseMat).Pose()
}

// MotionEstimator chains descriptor matching and relative pose estimation for pairs of frames.
type MotionEstimator struct {
	cfg       *MotionEstimationConfig
	estimator *transform.PoseEstimator
	logger    logging.Logger
}

// NewMotionEstimator returns a MotionEstimator. The configuration must have been validated.
func NewMotionEstimator(cfg *MotionEstimationConfig, logger logging.Logger) (*MotionEstimator, error) {
	estimator, err := transform.NewPoseEstimator(cfg.CamIntrinsics, cfg.RANSACCfg, logger.Sublogger("pose"))
	if err != nil {
		return nil, err
	}
	return &MotionEstimator{cfg: cfg, estimator: estimator, logger: logger}, nil
}

// medianParallax returns the median pixel displacement of matched keypoints.
func medianParallax(kps1, kps2 keypoints.KeyPoints) (float64, error) {
	displacements := make(stats.Float64Data, len(kps1))
	for i := range kps1 {
		displacements[i] = kps2[i].Sub(kps1[i]).Norm()
	}
	return displacements.Median()
}

// EstimateMotion estimates the 3D motion of the camera between frame1 and frame2. When no motion
// can be estimated the error wraps transform.ErrInsufficientCorrespondences or
// transform.ErrDegenerateConfiguration.
func (me *MotionEstimator) EstimateMotion(ctx context.Context, frame1, frame2 *Frame) (*Motion3D, error) {
	if err := multierr.Combine(frame1.Validate(), frame2.Validate()); err != nil {
		return nil, err
	}
	matches, err := keypoints.MatchDescriptors(ctx, frame1.Descriptors, frame2.Descriptors, me.cfg.MatchingCfg, me.logger)
	if err != nil {
		return nil, err
	}
	matchedKps1, matchedKps2, err := keypoints.GetMatchingKeyPoints(matches, frame1.KeyPoints, frame2.KeyPoints)
	if err != nil {
		return nil, err
	}
	if len(matches) < 5 {
		return nil, errors.Wrapf(transform.ErrInsufficientCorrespondences, "%d matches", len(matches))
	}

	if me.cfg.MinParallaxPx > 0 {
		parallax, err := medianParallax(matchedKps1, matchedKps2)
		if err != nil {
			return nil, err
		}
		if parallax < me.cfg.MinParallaxPx {
			return nil, errors.Wrapf(transform.ErrDegenerateConfiguration,
				"median parallax of %.3f px is below %.3f px", parallax, me.cfg.MinParallaxPx)
		}
	}

	estimate, err := me.estimator.EstimatePose(ctx, matchedKps1, matchedKps2)
	if err != nil {
		return nil, err
	}
	var translation mat.Dense
	translation.Scale(me.cfg.StepScale, estimate.Translation)
	return &Motion3D{
		Rotation:    estimate.Rotation,
		Translation: &translation,
		NumMatches:  len(matches),
		NumInliers:  estimate.NumInliers(),
	}, nil
}
