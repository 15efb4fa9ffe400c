package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// rotation is a row major 3x3 rotation matrix.
type rotation [3][3]float64

func identityRotation() rotation {
	return rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// rodrigues converts an axis angle vector (axis scaled by angle) to a rotation matrix.
func rodrigues(v r3.Vector) rotation {
	theta := v.Norm()
	if theta < 1e-12 {
		return rotation{
			{1, -v.Z, v.Y},
			{v.Z, 1, -v.X},
			{-v.Y, v.X, 1},
		}
	}

	k := v.Mul(1 / theta)
	c := math.Cos(theta)
	s := math.Sin(theta)
	t := 1 - c

	return rotation{
		{c + t*k.X*k.X, t*k.X*k.Y - s*k.Z, t*k.X*k.Z + s*k.Y},
		{t*k.Y*k.X + s*k.Z, c + t*k.Y*k.Y, t*k.Y*k.Z - s*k.X},
		{t*k.Z*k.X - s*k.Y, t*k.Z*k.Y + s*k.X, c + t*k.Z*k.Z},
	}
}

// vector is the inverse of rodrigues.
func (r rotation) vector() r3.Vector {
	cosTheta := (r[0][0] + r[1][1] + r[2][2] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	skew := r3.Vector{
		X: (r[2][1] - r[1][2]) / 2,
		Y: (r[0][2] - r[2][0]) / 2,
		Z: (r[1][0] - r[0][1]) / 2,
	}

	if theta < 1e-9 {
		return skew
	}

	if math.Pi-theta < 1e-6 {
		// r = 2kk^T - I near a half turn, take the best conditioned column of (r+I)/2
		best := 0
		for i := 1; i < 3; i++ {
			if r[i][i] > r[best][best] {
				best = i
			}
		}
		col := r3.Vector{X: r[0][best], Y: r[1][best], Z: r[2][best]}
		switch best {
		case 0:
			col.X += 1
		case 1:
			col.Y += 1
		case 2:
			col.Z += 1
		}
		k := col.Normalize()
		if k.Dot(skew) < 0 {
			k = k.Mul(-1)
		}
		return k.Mul(theta)
	}

	return skew.Mul(theta / math.Sin(theta))
}

func (r rotation) apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z,
	}
}

func (r rotation) mul(o rotation) rotation {
	var out rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += r[i][k] * o[k][j]
			}
		}
	}
	return out
}

func (r rotation) transpose() rotation {
	var out rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[j][i]
		}
	}
	return out
}

func (r rotation) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})
}

// nearestRotation projects an approximately orthonormal matrix onto SO(3).
func nearestRotation(m *mat.Dense) (rotation, bool) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return rotation{}, false
	}
	var u, v, out mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	out.Mul(&u, v.T())
	if mat.Det(&out) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		out.Mul(&u, v.T())
	}

	var r rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = out.At(i, j)
		}
	}
	return r, true
}
