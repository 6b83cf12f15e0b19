package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vo/spatialmath"
)

// CamPose stores the 3x4 pose matrix as well as the 3D Rotation and Translation matrices.
// A point X1 in the first camera frame is X2 = Rotation·X1 + Translation in the second.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	t := mat.DenseCopyOf(pose.Slice(0, 3, 3, 4))
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// Pose creates a spatialmath.Pose from a CamPose.
func (cp *CamPose) Pose() (*spatialmath.Pose, error) {
	translation := r3.Vector{X: cp.Translation.At(0, 0), Y: cp.Translation.At(1, 0), Z: cp.Translation.At(2, 0)}
	rotation, err := spatialmath.NewRotationMatrixFromDense(cp.Rotation)
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPose(translation, rotation), nil
}

// adjustPoseSign flips the sign of a pose whose rotation block has a negative determinant.
func adjustPoseSign(pose *mat.Dense) *mat.Dense {
	if mat.Det(pose.Slice(0, 3, 0, 3)) < 0 {
		pose.Scale(-1, pose)
	}
	return pose
}

// GetPossibleCameraPoses computes all 4 possible poses [R|t] from the essential matrix, in the order
// (R1, t), (R1, -t), (R2, t), (R2, -t).
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*mat.Dense, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	var tOpp mat.Dense
	tOpp.Scale(-1, t)
	poses := make([]mat.Dense, 4)
	poses[0].Augment(R1, t)
	poses[1].Augment(R1, &tOpp)
	poses[2].Augment(R2, t)
	poses[3].Augment(R2, &tOpp)
	posesOut := make([]*mat.Dense, 4)
	for i := range poses {
		posesOut[i] = mat.DenseCopyOf(adjustPoseSign(&poses[i]))
	}
	return posesOut, nil
}

// getCrossProductMatFromPoint returns the cross product with point p matrix.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// GetLinearTriangulatedPoints computes triangulated 3D points in the first camera frame with the
// linear (DLT) method, the first camera being [I|0] and the second `pose`. Points whose homogeneous
// coordinate vanishes lie at infinity and are reported as not finite.
func GetLinearTriangulatedPoints(pose *mat.Dense, pts1, pts2 []r3.Vector) ([]r3.Vector, []bool, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	P := eye(4).Slice(0, 3, 0, 4)
	nPoints := len(pts1)
	pts3d := make([]r3.Vector, nPoints)
	finite := make([]bool, nPoints)
	for i := range pts1 {
		var p1CrossP, p2CrossPdash mat.Dense
		p1CrossP.Mul(getCrossProductMatFromPoint(pts1[i]), P)
		p2CrossPdash.Mul(getCrossProductMatFromPoint(pts2[i]), pose)
		var A mat.Dense
		A.Stack(&p1CrossP, &p2CrossPdash)
		mats := performSVD(&A)
		if mats == nil {
			return nil, nil, errors.New("failed to factorize triangulation system")
		}
		pt3d := mats.V.ColView(3)
		w := pt3d.AtVec(3)
		if math.Abs(w) < 1e-12 {
			continue
		}
		pts3d[i] = r3.Vector{
			X: pt3d.AtVec(0) / w,
			Y: pt3d.AtVec(1) / w,
			Z: pt3d.AtVec(2) / w,
		}
		finite[i] = true
	}
	return pts3d, finite, nil
}

// GetPositiveDepthMask triangulates every correspondence and reports which points lie in front of
// both cameras, closer than maxDepth in each.
func GetPositiveDepthMask(pose *mat.Dense, pts1, pts2 []r3.Vector, maxDepth float64) ([]bool, error) {
	pts3D, finite, err := GetLinearTriangulatedPoints(pose, pts1, pts2)
	if err != nil {
		return nil, err
	}
	rot3 := r3.Vector{X: pose.At(2, 0), Y: pose.At(2, 1), Z: pose.At(2, 2)}
	t3 := pose.At(2, 3)
	mask := make([]bool, len(pts3D))
	for i, pt := range pts3D {
		if !finite[i] {
			continue
		}
		depth1 := pt.Z
		depth2 := rot3.Dot(pt) + t3
		mask[i] = depth1 > 0 && depth2 > 0 && depth1 < maxDepth && depth2 < maxDepth
	}
	return mask, nil
}

// GetCorrectCameraPose returns the pose with the most points in front of both cameras, along with the
// positive depth mask under that pose. Ties keep the earlier pose.
func GetCorrectCameraPose(poses []*mat.Dense, pts1, pts2 []r3.Vector, maxDepth float64) (*mat.Dense, []bool, error) {
	if len(poses) == 0 {
		return nil, nil, errors.New("no candidate poses")
	}
	maxNumPosDepth := -1
	var correctPose *mat.Dense
	var correctMask []bool
	for _, pose := range poses {
		mask, err := GetPositiveDepthMask(pose, pts1, pts2, maxDepth)
		if err != nil {
			return nil, nil, err
		}
		if nPosDepth := lo.Count(mask, true); nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = mat.DenseCopyOf(pose)
			correctMask = mask
		}
	}
	return correctPose, correctMask, nil
}
