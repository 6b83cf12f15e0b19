package keypoints

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/utils"
)

// DefaultRatioThreshold is the largest ratio between the nearest and second nearest distance of an
// accepted match.
const DefaultRatioThreshold = 0.8

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	RatioThreshold float64 `json:"ratio_threshold"`
	Parallel       bool    `json:"parallel"`
}

// NewDefaultMatchingConfig returns the configuration used when none is given.
func NewDefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{RatioThreshold: DefaultRatioThreshold}
}

// ApplyDefaults fills unset fields with their default values.
func (cfg *MatchingConfig) ApplyDefaults() {
	if cfg.RatioThreshold == 0 {
		cfg.RatioThreshold = DefaultRatioThreshold
	}
}

// Validate checks the matching parameters.
func (cfg *MatchingConfig) Validate() error {
	if cfg == nil {
		return errors.New("matching config is nil")
	}
	if cfg.RatioThreshold <= 0 || cfg.RatioThreshold > 1 {
		return errors.Errorf("ratio_threshold must be in (0, 1], got %v", cfg.RatioThreshold)
	}
	return nil
}

// DescriptorMatch contains the index of a match in the first and second set of descriptors, and
// the distance between the two descriptors.
type DescriptorMatch struct {
	Idx1     int
	Idx2     int
	Distance float64
}

// twoNearestNeighbors returns the index of the descriptor of train closest to query, along with
// the distances to the closest and second closest descriptors. Ties keep the lower index.
func twoNearestNeighbors(query Descriptor, train Descriptors) (int, float64, float64) {
	best := -1
	bestDist, secondDist := math.Inf(1), math.Inf(1)
	for j, desc := range train {
		d := floats.Distance(query, desc, 2)
		switch {
		case d < bestDist:
			best, bestDist, secondDist = j, d, bestDist
		case d < secondDist:
			secondDist = d
		}
	}
	return best, bestDist, secondDist
}

// MatchDescriptors finds for each descriptor of desc1 its nearest neighbor in desc2 under the
// euclidean distance, and keeps the match only if it is clearly better than the second nearest
// neighbor: d1 < RatioThreshold * d2. Matches are returned in the order of desc1. A descriptor of
// desc2 may be matched by several descriptors of desc1. If desc2 has fewer than 2 descriptors no
// match can be validated and the result is empty.
func MatchDescriptors(
	ctx context.Context,
	desc1, desc2 Descriptors,
	cfg *MatchingConfig,
	logger logging.Logger,
) ([]DescriptorMatch, error) {
	if cfg == nil {
		cfg = NewDefaultMatchingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := checkDescriptorsLength(desc1, desc2); err != nil {
		return nil, err
	}
	if len(desc1) == 0 || len(desc2) < 2 {
		return []DescriptorMatch{}, nil
	}

	candidates := make([]DescriptorMatch, len(desc1))
	accepted := make([]bool, len(desc1))
	matchOne := func(i int) {
		j, d1, d2 := twoNearestNeighbors(desc1[i], desc2)
		if d1 < cfg.RatioThreshold*d2 {
			candidates[i] = DescriptorMatch{Idx1: i, Idx2: j, Distance: d1}
			accepted[i] = true
		}
	}

	if cfg.Parallel {
		// each query writes its own slot, so groups need no merge stage
		err := utils.GroupWorkParallel(ctx, len(desc1), nil,
			func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
				return func(memberNum, workNum int) { matchOne(workNum) }, nil
			})
		if err != nil {
			return nil, err
		}
	} else {
		for i := range desc1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			matchOne(i)
		}
	}

	matches := lo.Filter(candidates, func(_ DescriptorMatch, i int) bool { return accepted[i] })
	logger.Debugw("descriptors matched", "queries", len(desc1), "train", len(desc2), "matches", len(matches))
	return matches, nil
}

// GetMatchingKeyPoints takes the matches and the keypoints and returns the corresponding keypoints
// that are matched, index aligned.
func GetMatchingKeyPoints(matches []DescriptorMatch, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	matchedKps1 := make(KeyPoints, len(matches))
	matchedKps2 := make(KeyPoints, len(matches))
	for i, match := range matches {
		if match.Idx1 < 0 || match.Idx1 >= len(kps1) {
			return nil, nil, errors.Errorf("match %d refers to keypoint %d of the first set, which has %d keypoints",
				i, match.Idx1, len(kps1))
		}
		if match.Idx2 < 0 || match.Idx2 >= len(kps2) {
			return nil, nil, errors.Errorf("match %d refers to keypoint %d of the second set, which has %d keypoints",
				i, match.Idx2, len(kps2))
		}
		matchedKps1[i] = kps1[match.Idx1]
		matchedKps2[i] = kps2[match.Idx2]
	}
	return matchedKps1, matchedKps2, nil
}
