package transform

import (
	"math"
	"math/cmplx"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// minimalSampleSize is the number of correspondences that determine a finite set of essential matrices.
const minimalSampleSize = 5

// poly3 is a polynomial of total degree at most 3 in (x, y, z).
// p[a][b][c] is the coefficient of x^a y^b z^c.
type poly3 [4][4][4]float64

func linearPoly(cx, cy, cz, c1 float64) poly3 {
	var p poly3
	p[1][0][0] = cx
	p[0][1][0] = cy
	p[0][0][1] = cz
	p[0][0][0] = c1
	return p
}

func (p poly3) plus(q poly3) poly3 {
	for a := 0; a < 4; a++ {
		for b := 0; b < 4-a; b++ {
			for c := 0; c < 4-a-b; c++ {
				p[a][b][c] += q[a][b][c]
			}
		}
	}
	return p
}

func (p poly3) scaled(s float64) poly3 {
	for a := 0; a < 4; a++ {
		for b := 0; b < 4-a; b++ {
			for c := 0; c < 4-a-b; c++ {
				p[a][b][c] *= s
			}
		}
	}
	return p
}

// times multiplies two polynomials. Terms of the product above degree 3 are dropped, so the caller
// must only multiply polynomials whose degrees sum to at most 3.
func (p poly3) times(q poly3) poly3 {
	var out poly3
	for a := 0; a < 4; a++ {
		for b := 0; b < 4-a; b++ {
			for c := 0; c < 4-a-b; c++ {
				if p[a][b][c] == 0 {
					continue
				}
				for d := 0; d < 4-a-b-c; d++ {
					for e := 0; e < 4-a-b-c-d; e++ {
						for f := 0; f < 4-a-b-c-d-e; f++ {
							out[a+d][b+e][c+f] += p[a][b][c] * q[d][e][f]
						}
					}
				}
			}
		}
	}
	return out
}

// monomials orders the 20 monomials of degree <= 3. The ten cubic monomials come first and are
// eliminated; the remaining ten form the basis of the quotient ring the action matrix acts on.
var monomials = [20][3]int{
	{3, 0, 0}, {2, 1, 0}, {2, 0, 1}, {1, 2, 0}, {1, 1, 1}, {1, 0, 2}, {0, 3, 0}, {0, 2, 1}, {0, 1, 2}, {0, 0, 3},
	{2, 0, 0}, {1, 1, 0}, {1, 0, 1}, {0, 2, 0}, {0, 1, 1}, {0, 0, 2}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0, 0, 0},
}

const (
	numCubic      = 10
	basisX        = 6
	basisY        = 7
	basisZ        = 8
	basisOne      = 9
	imagTolerance = 1e-4
)

// multiplyByX maps each basis monomial b to x·b. Entries below numCubic index a cubic monomial
// (its row in the eliminated system); entries from numCubic on index a basis monomial.
var multiplyByX = [10]int{
	0,                 // x*x^2 = x^3
	1,                 // x*xy = x^2y
	2,                 // x*xz = x^2z
	3,                 // x*y^2 = xy^2
	4,                 // x*yz = xyz
	5,                 // x*z^2 = xz^2
	numCubic + 0,      // x*x = x^2
	numCubic + 1,      // x*y = xy
	numCubic + 2,      // x*z = xz
	numCubic + basisX, // x*1 = x
}

// FivePointEssentialMatrices returns the essential matrices (up to 10) compatible with exactly five
// normalized correspondences. The null space of the epipolar constraints is spanned by X, Y, Z, W
// and E = x·X + y·Y + z·Z + W; the cubic trace and determinant constraints on E are solved as an
// eigenvalue problem of the multiplication-by-x action matrix.
func FivePointEssentialMatrices(pts1, pts2 []r2.Point) []*mat.Dense {
	if len(pts1) != minimalSampleSize || len(pts2) != minimalSampleSize {
		return nil
	}
	// pad to a square system so that the full SVD exposes the 4 dimensional null space
	A := mat.NewDense(9, 9, nil)
	for i := range pts1 {
		A.SetRow(i, epipolarRow(pts1[i], pts2[i]))
	}
	mats := performSVD(A)
	if mats == nil {
		return nil
	}
	// rank below 5 means repeated or collinear sample points
	if mats.S[0] == 0 || mats.S[4]/mats.S[0] < 1e-10 {
		return nil
	}
	var basis [4][9]float64
	for k := 0; k < 4; k++ {
		for i := 0; i < 9; i++ {
			basis[k][i] = mats.V.At(i, 5+k)
		}
	}

	var E [3][3]poly3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			idx := 3*i + j
			E[i][j] = linearPoly(basis[0][idx], basis[1][idx], basis[2][idx], basis[3][idx])
		}
	}

	constraints := make([]poly3, 0, 10)
	// 2·E·Eᵗ·E - trace(E·Eᵗ)·E = 0
	var EEt [3][3]poly3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				EEt[i][j] = EEt[i][j].plus(E[i][k].times(E[j][k]))
			}
		}
	}
	trace := EEt[0][0].plus(EEt[1][1]).plus(EEt[2][2])
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var c poly3
			for k := 0; k < 3; k++ {
				c = c.plus(EEt[i][k].times(E[k][j]).scaled(2))
			}
			constraints = append(constraints, c.plus(trace.times(E[i][j]).scaled(-1)))
		}
	}
	// det(E) = 0
	minor := func(a, b, c, d poly3) poly3 { return a.times(b).plus(c.times(d).scaled(-1)) }
	det := E[0][0].times(minor(E[1][1], E[2][2], E[1][2], E[2][1])).
		plus(E[0][1].times(minor(E[1][0], E[2][2], E[1][2], E[2][0])).scaled(-1)).
		plus(E[0][2].times(minor(E[1][0], E[2][1], E[1][1], E[2][0])))
	constraints = append(constraints, det)

	cubic := mat.NewDense(10, numCubic, nil)
	rest := mat.NewDense(10, 10, nil)
	for r, c := range constraints {
		for k, m := range monomials {
			coeff := c[m[0]][m[1]][m[2]]
			if k < numCubic {
				cubic.Set(r, k, coeff)
			} else {
				rest.Set(r, k-numCubic, coeff)
			}
		}
	}
	// cubic monomials = -G · basis monomials
	var G mat.Dense
	if err := G.Solve(cubic, rest); err != nil {
		return nil
	}

	action := mat.NewDense(10, 10, nil)
	for row, target := range multiplyByX {
		if target < numCubic {
			for col := 0; col < 10; col++ {
				action.Set(row, col, -G.At(target, col))
			}
		} else {
			action.Set(row, target-numCubic, 1)
		}
	}

	var eig mat.Eigen
	if ok := eig.Factorize(action, mat.EigenRight); !ok {
		return nil
	}
	values := eig.Values(nil)
	var vectors mat.CDense
	eig.VectorsTo(&vectors)

	solutions := make([]*mat.Dense, 0, len(values))
	for k, value := range values {
		// A double root, such as motion along the normal of a planar scene, can come back as a
		// complex pair with a small imaginary part.
		if math.Abs(imag(value)) > imagTolerance*(1+cmplx.Abs(value)) {
			continue
		}
		// ratios are taken in the complex plane so that the arbitrary phase of the eigenvector cancels
		w := vectors.At(basisOne, k)
		if cmplx.Abs(w) < 1e-12 {
			continue
		}
		x := real(vectors.At(basisX, k) / w)
		y := real(vectors.At(basisY, k) / w)
		z := real(vectors.At(basisZ, k) / w)
		data := make([]float64, 9)
		for i := range data {
			data[i] = x*basis[0][i] + y*basis[1][i] + z*basis[2][i] + basis[3][i]
		}
		essMat := mat.NewDense(3, 3, data)
		norm := mat.Norm(essMat, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			continue
		}
		essMat.Scale(1/norm, essMat)
		solutions = append(solutions, essMat)
	}
	return solutions
}
