package calibration

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// planeFrame is an orthonormal frame with its first two axes in a fitted plane.
type planeFrame struct {
	origin r3.Vector
	axes   rotation // columns are the in plane axes and the normal
}

// toPlane returns coordinates in the frame, z is the distance off the plane.
func (pf planeFrame) toPlane(p r3.Vector) r3.Vector {
	return pf.axes.transpose().apply(p.Sub(pf.origin))
}

func fitPlane(pts []r3.Vector) (planeFrame, error) {
	if len(pts) < 3 {
		return planeFrame{}, fmt.Errorf("need at least 3 points to fit a plane, have %d", len(pts))
	}

	centroid := r3.Vector{}
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))

	centered := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := p.Sub(centroid)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return planeFrame{}, fmt.Errorf("plane fit svd failed")
	}
	values := svd.Values(nil)
	if values[1] < 1e-9*math.Max(values[0], 1) {
		return planeFrame{}, fmt.Errorf("points are collinear")
	}

	var v mat.Dense
	svd.VTo(&v)
	e1 := r3.Vector{X: v.At(0, 0), Y: v.At(1, 0), Z: v.At(2, 0)}
	e2 := r3.Vector{X: v.At(0, 1), Y: v.At(1, 1), Z: v.At(2, 1)}
	e3 := e1.Cross(e2).Normalize()
	e2 = e3.Cross(e1).Normalize()

	return planeFrame{
		origin: centroid,
		axes: rotation{
			{e1.X, e2.X, e3.X},
			{e1.Y, e2.Y, e3.Y},
			{e1.Z, e2.Z, e3.Z},
		},
	}, nil
}

// normalizePoints moves the centroid to the origin and scales the mean distance to sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / float64(len(pts)))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(len(pts))
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt2 / d
	}

	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
}

// estimateHomography finds H with dst ~ H * src using the normalized direct linear transform.
func estimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("homography needs matching point sets, have %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, fmt.Errorf("homography needs at least 4 points, have %d", len(src))
	}

	srcN, srcT := normalizePoints(src)
	dstN, dstT := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, fmt.Errorf("homography svd failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	var dstInv mat.Dense
	if err := dstInv.Inverse(dstT); err != nil {
		return nil, err
	}

	var h mat.Dense
	h.Product(&dstInv, hn, srcT)

	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return nil, fmt.Errorf("degenerate homography")
	}
	h.Scale(1/scale, &h)
	return &h, nil
}

// initFocalLengths estimates fx and fy from one homography per view with the principal
// point held at pp. It needs views that are not all parallel to the image plane.
func initFocalLengths(homographies []*mat.Dense, pp r2.Point) (float64, float64, error) {
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)

	for i, hIn := range homographies {
		var h mat.Dense
		h.CloneFrom(hIn)
		for k := 0; k < 3; k++ {
			h.Set(0, k, h.At(0, k)-h.At(2, k)*pp.X)
			h.Set(1, k, h.At(1, k)-h.At(2, k)*pp.Y)
		}

		var hv, vv, d1, d2 [3]float64
		var n [4]float64
		for j := 0; j < 3; j++ {
			t0 := h.At(j, 0)
			t1 := h.At(j, 1)
			hv[j] = t0
			vv[j] = t1
			d1[j] = (t0 + t1) / 2
			d2[j] = (t0 - t1) / 2
			n[0] += t0 * t0
			n[1] += t1 * t1
			n[2] += d1[j] * d1[j]
			n[3] += d2[j] * d2[j]
		}
		for k := range n {
			n[k] = 1 / math.Sqrt(n[k])
		}
		for j := 0; j < 3; j++ {
			hv[j] *= n[0]
			vv[j] *= n[1]
			d1[j] *= n[2]
			d2[j] *= n[3]
		}

		a.SetRow(2*i, []float64{hv[0] * vv[0], hv[1] * vv[1]})
		b.SetVec(2*i, -hv[2]*vv[2])
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}

	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return 0, 0, err
	}

	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	if !isFinite(fx) || !isFinite(fy) || fx <= 0 || fy <= 0 {
		return 0, 0, fmt.Errorf("could not estimate focal lengths (%v, %v)", fx, fy)
	}
	return fx, fy, nil
}

// poseFromHomography recovers the plane to camera pose from H ~ K [r1 r2 t].
func poseFromHomography(h *mat.Dense, fx, fy, cx, cy float64) (rotation, r3.Vector, error) {
	kInv := mat.NewDense(3, 3, []float64{
		1 / fx, 0, -cx / fx,
		0, 1 / fy, -cy / fy,
		0, 0, 1,
	})
	var m mat.Dense
	m.Mul(kInv, h)

	col := func(j int) r3.Vector {
		return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
	}
	h1, h2, h3 := col(0), col(1), col(2)

	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < 1e-12 {
		return rotation{}, r3.Vector{}, fmt.Errorf("degenerate homography")
	}
	lambda := 1 / norm
	if h3.Z < 0 {
		lambda = -lambda
	}

	c1 := h1.Mul(lambda)
	c2 := h2.Mul(lambda)
	c3 := c1.Cross(c2)
	t := h3.Mul(lambda)

	approx := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	rot, ok := nearestRotation(approx)
	if !ok {
		return rotation{}, r3.Vector{}, fmt.Errorf("could not orthogonalize rotation")
	}
	return rot, t, nil
}

// initialPose estimates where the camera sees one observation from given intrinsics.
func initialPose(obs Observation, fx, fy, cx, cy float64) (rotation, r3.Vector, error) {
	pf, h, err := viewHomography(obs)
	if err != nil {
		return rotation{}, r3.Vector{}, err
	}
	rPlane, tPlane, err := poseFromHomography(h, fx, fy, cx, cy)
	if err != nil {
		return rotation{}, r3.Vector{}, err
	}
	// X_cam = rPlane * axes^T * (p - origin) + tPlane
	rot := rPlane.mul(pf.axes.transpose())
	t := tPlane.Sub(rot.apply(pf.origin))
	return rot, t, nil
}

// viewHomography fits a plane to the object points and maps the in plane coordinates to the grid.
func viewHomography(obs Observation) (planeFrame, *mat.Dense, error) {
	pf, err := fitPlane(obs.ObjectPoints)
	if err != nil {
		return planeFrame{}, nil, err
	}
	src := make([]r2.Point, len(obs.ObjectPoints))
	dst := make([]r2.Point, len(obs.GridCoords))
	for i, p := range obs.ObjectPoints {
		q := pf.toPlane(p)
		src[i] = r2.Point{X: q.X, Y: q.Y}
		dst[i] = obs.GridCoords[i].Point()
	}
	h, err := estimateHomography(src, dst)
	if err != nil {
		return planeFrame{}, nil, err
	}
	return pf, h, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
