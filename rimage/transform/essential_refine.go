package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/vo/spatialmath"
)

// refineMaxIterations caps the simplex iterations of the essential matrix refinement.
const refineMaxIterations = 2000

// refineEssentialMatrix minimizes the truncated Sampson error of the correspondences over essential
// matrices E = [t]x·R, starting from essMat. The rotation is perturbed by an axis angle vector and
// the unit translation moves in its tangent plane, so every point of the search is an essential
// matrix.
func refineEssentialMatrix(essMat *mat.Dense, pts1, pts2 []r2.Point, thresholdSq float64) (*mat.Dense, error) {
	rot0, _, tMat, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	t0 := r3.Vector{X: tMat.At(0, 0), Y: tMat.At(1, 0), Z: tMat.At(2, 0)}.Normalize()
	b1 := t0.Ortho()
	b2 := t0.Cross(b1).Normalize()

	essFromParams := func(x []float64) *mat.Dense {
		w := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
		rw := (&spatialmath.R4AA{Theta: w.Norm(), RX: w.X, RY: w.Y, RZ: w.Z}).RotationMatrix()
		t := t0.Add(b1.Mul(x[3])).Add(b2.Mul(x[4])).Normalize()
		var e mat.Dense
		e.Mul(getCrossProductMatFromPoint(t), rot0)
		e.Mul(&e, rw.Dense())
		return &e
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			e := essFromParams(x)
			var cost float64
			for i := range pts1 {
				cost += math.Min(SampsonDistance(e, pts1[i], pts2[i]), thresholdSq)
			}
			return cost / thresholdSq
		},
	}
	settings := &optimize.Settings{
		MajorIterations: refineMaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-10,
			Iterations: 50,
		},
	}
	// hitting an iteration limit still leaves the best simplex vertex, which the caller rescores
	result, err := optimize.Minimize(problem, make([]float64, 5), settings, &optimize.NelderMead{})
	if result == nil || len(result.X) != 5 {
		if err == nil {
			err = errors.New("no refined essential matrix")
		}
		return nil, err
	}
	return essFromParams(result.X), nil
}
