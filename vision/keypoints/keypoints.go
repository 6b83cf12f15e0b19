// Package keypoints contains the keypoint and descriptor types shared by the visual odometry
// pipeline, and the matching of descriptors between two frames.
package keypoints

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

type (
	// KeyPoints is a slice of keypoint pixel coordinates.
	KeyPoints []r2.Point
	// Descriptor is the feature vector of a keypoint.
	Descriptor []float64
	// Descriptors is a set of descriptors, indexed like the keypoints they describe.
	Descriptors []Descriptor
)

// checkDescriptorsLength returns the common length of all descriptors in the sets, or an error if
// they differ. Empty sets are ignored.
func checkDescriptorsLength(sets ...Descriptors) (int, error) {
	length := -1
	for _, set := range sets {
		for i, desc := range set {
			if length < 0 {
				length = len(desc)
				continue
			}
			if len(desc) != length {
				return 0, errors.Errorf("descriptor %d has length %d, expected %d", i, len(desc), length)
			}
		}
	}
	return length, nil
}
