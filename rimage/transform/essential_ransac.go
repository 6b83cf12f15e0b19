package transform

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/utils"
)

const (
	// DefaultRANSACThreshold is the maximum epipolar (Sampson) distance in pixels of an inlier.
	DefaultRANSACThreshold = 1.0
	// DefaultRANSACConfidence is the probability that at least one sample drawn is outlier free.
	DefaultRANSACConfidence = 0.9999
	// DefaultRANSACMaxIterations caps the number of minimal samples drawn.
	DefaultRANSACMaxIterations = 1000
	// DefaultMaxDepth is the largest depth, in units of the baseline, a triangulated point may have
	// and still count as in front of the cameras. Farther points carry no information on the motion.
	DefaultMaxDepth = 50.0

	// minRANSACIterations is the number of samples drawn before the adaptive count may stop the
	// loop, so that hypotheses with the same consensus get compared.
	minRANSACIterations = 50
)

// EssentialRANSACConfig contains the parameters of the robust essential matrix fit.
type EssentialRANSACConfig struct {
	Threshold     float64 `json:"threshold_px"`
	Confidence    float64 `json:"confidence"`
	MaxIterations int     `json:"max_iterations"`
	MaxDepth      float64 `json:"max_depth"`
	Seed          int64   `json:"seed"`
	// TimeBudgetMs bounds the duration of the sampling loop. When it runs out the best model found so
	// far is kept. 0 means no bound besides MaxIterations.
	TimeBudgetMs int `json:"time_budget_ms"`
}

// NewDefaultEssentialRANSACConfig returns the configuration used when none is given.
func NewDefaultEssentialRANSACConfig() *EssentialRANSACConfig {
	return &EssentialRANSACConfig{
		Threshold:     DefaultRANSACThreshold,
		Confidence:    DefaultRANSACConfidence,
		MaxIterations: DefaultRANSACMaxIterations,
		MaxDepth:      DefaultMaxDepth,
	}
}

// ApplyDefaults fills unset (zero) fields with their default values.
func (cfg *EssentialRANSACConfig) ApplyDefaults() {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultRANSACThreshold
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = DefaultRANSACConfidence
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultRANSACMaxIterations
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
}

// Validate checks that every parameter is in range.
func (cfg *EssentialRANSACConfig) Validate() error {
	if cfg == nil {
		return errors.New("essential matrix RANSAC config is nil")
	}
	var errs error
	if cfg.Threshold <= 0 {
		errs = multierr.Append(errs, errors.Errorf("threshold_px must be positive, got %v", cfg.Threshold))
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		errs = multierr.Append(errs, errors.Errorf("confidence must be in (0, 1), got %v", cfg.Confidence))
	}
	if cfg.MaxIterations <= 0 {
		errs = multierr.Append(errs, errors.Errorf("max_iterations must be positive, got %d", cfg.MaxIterations))
	}
	if cfg.MaxDepth <= 0 {
		errs = multierr.Append(errs, errors.Errorf("max_depth must be positive, got %v", cfg.MaxDepth))
	}
	if cfg.TimeBudgetMs < 0 {
		errs = multierr.Append(errs, errors.Errorf("time_budget_ms must not be negative, got %d", cfg.TimeBudgetMs))
	}
	return errs
}

// essentialModel is a candidate essential matrix along with its consensus on the correspondences.
type essentialModel struct {
	essMat   *mat.Dense
	inliers  []bool
	nInliers int
	score    float64
}

// scoreEssentialMatrix evaluates essMat on all correspondences with a truncated quadratic loss: an
// inlier with squared Sampson error e contributes 1 - e/thresholdSq, an outlier contributes nothing.
func scoreEssentialMatrix(essMat *mat.Dense, pts1, pts2 []r2.Point, thresholdSq float64) *essentialModel {
	model := &essentialModel{essMat: essMat, inliers: make([]bool, len(pts1))}
	for i := range pts1 {
		err := SampsonDistance(essMat, pts1[i], pts2[i])
		if err < thresholdSq {
			model.inliers[i] = true
			model.score += 1 - err/thresholdSq
		}
	}
	model.nInliers = lo.Count(model.inliers, true)
	return model
}

// ransacNumIterations returns the number of samples needed to draw an outlier free sample with the
// given confidence when a fraction inlierRatio of the data are inliers.
func ransacNumIterations(confidence, inlierRatio float64, sampleSize, maxIterations int) int {
	num := math.Max(1-confidence, math.SmallestNonzeroFloat64)
	denom := 1 - math.Pow(inlierRatio, float64(sampleSize))
	if denom < math.SmallestNonzeroFloat64 {
		return 0
	}
	num = math.Log(num)
	denom = math.Log(denom)
	if denom >= 0 || -num >= float64(maxIterations)*(-denom) {
		return maxIterations
	}
	return int(math.Round(num / denom))
}

// FindEssentialMatrix robustly fits an essential matrix to normalized correspondences. Minimal
// samples of 5 correspondences are drawn from rnd until the adaptive iteration count or the
// configured maximum is reached, or ctx is done. Every hypothesis is projected onto the essential
// matrices before being scored, and the best one is refined on its consensus set. thresholdSq is
// the squared inlier threshold in normalized units. It returns the best model's matrix and inlier
// mask.
func FindEssentialMatrix(
	ctx context.Context,
	pts1, pts2 []r2.Point,
	thresholdSq float64,
	cfg *EssentialRANSACConfig,
	rnd *rand.Rand,
	logger logging.Logger,
) (*mat.Dense, []bool, error) {
	nPoints := len(pts1)
	if nPoints < minimalSampleSize {
		return nil, nil, ErrInsufficientCorrespondences
	}

	var best *essentialModel
	sample := make([]int, minimalSampleSize)
	s1 := make([]r2.Point, minimalSampleSize)
	s2 := make([]r2.Point, minimalSampleSize)
	minIterations := utils.MinInt(minRANSACIterations, cfg.MaxIterations)
	nIterations := cfg.MaxIterations
	iter := 0
	for ; iter < nIterations; iter++ {
		if ctx.Err() != nil {
			break
		}
		utils.SampleDistinctInts(sample, nPoints, rnd)
		for i, idx := range sample {
			s1[i] = pts1[idx]
			s2[i] = pts2[idx]
		}
		for _, candidate := range FivePointEssentialMatrices(s1, s2) {
			essMat, err := EnforceEssentialConstraints(candidate)
			if err != nil {
				continue
			}
			model := scoreEssentialMatrix(essMat, pts1, pts2, thresholdSq)
			if best == nil || model.score > best.score {
				best = model
				inlierRatio := float64(best.nInliers) / float64(nPoints)
				nIterations = utils.MinInt(nIterations, ransacNumIterations(cfg.Confidence, inlierRatio, minimalSampleSize, cfg.MaxIterations))
				nIterations = max(nIterations, minIterations)
			}
		}
	}

	if best == nil || best.nInliers < minimalSampleSize {
		if ctx.Err() != nil {
			return nil, nil, multierr.Combine(ErrDegenerateConfiguration, ctx.Err())
		}
		return nil, nil, ErrDegenerateConfiguration
	}

	// refinements on the consensus set, each kept only if it scores better
	in1 := lo.Filter(pts1, func(_ r2.Point, i int) bool { return best.inliers[i] })
	in2 := lo.Filter(pts2, func(_ r2.Point, i int) bool { return best.inliers[i] })
	if best.nInliers >= 8 {
		if refined, err := ComputeEssentialMatrixAllPoints(in1, in2); err == nil {
			if model := scoreEssentialMatrix(refined, pts1, pts2, thresholdSq); model.score > best.score {
				best = model
			}
		}
	}
	if refined, err := refineEssentialMatrix(best.essMat, in1, in2, thresholdSq); err == nil {
		if model := scoreEssentialMatrix(refined, pts1, pts2, thresholdSq); model.score > best.score {
			best = model
		}
	} else {
		logger.Debugw("essential matrix refinement failed", "error", err)
	}

	logger.Debugw("essential matrix fit",
		"iterations", iter,
		"correspondences", nPoints,
		"inliers", best.nInliers,
		"score", best.score,
	)
	return best.essMat, best.inliers, nil
}
