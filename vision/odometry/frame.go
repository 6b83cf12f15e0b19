package odometry

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/vo/vision/keypoints"
)

// Frame holds the keypoints detected in an image and their descriptors, index aligned.
type Frame struct {
	KeyPoints   keypoints.KeyPoints
	Descriptors keypoints.Descriptors
}

// Validate checks that every keypoint has a descriptor.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("frame is nil")
	}
	if len(f.KeyPoints) != len(f.Descriptors) {
		return errors.Errorf("frame has %d keypoints and %d descriptors", len(f.KeyPoints), len(f.Descriptors))
	}
	return nil
}

// frameJSON is the on disk representation of a Frame; keypoints are [x, y] pairs.
type frameJSON struct {
	KeyPoints   [][2]float64          `json:"keypoints"`
	Descriptors keypoints.Descriptors `json:"descriptors"`
}

// MarshalJSON encodes the frame with keypoints as [x, y] pairs.
func (f *Frame) MarshalJSON() ([]byte, error) {
	out := frameJSON{KeyPoints: make([][2]float64, len(f.KeyPoints)), Descriptors: f.Descriptors}
	for i, kp := range f.KeyPoints {
		out.KeyPoints[i] = [2]float64{kp.X, kp.Y}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a frame written by MarshalJSON.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var in frameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.KeyPoints = make(keypoints.KeyPoints, len(in.KeyPoints))
	for i, kp := range in.KeyPoints {
		f.KeyPoints[i] = r2.Point{X: kp[0], Y: kp[1]}
	}
	f.Descriptors = in.Descriptors
	return nil
}

// LoadFrames reads a json list of frames.
func LoadFrames(path string) ([]*Frame, error) {
	//nolint:gosec
	framesFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(framesFile.Close)
	var frames []*Frame
	if err := json.NewDecoder(framesFile).Decode(&frames); err != nil {
		return nil, errors.Wrapf(err, "cannot decode frames %q", path)
	}
	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
	}
	return frames, nil
}
