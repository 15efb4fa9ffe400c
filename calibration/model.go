package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/rdk/rimage/transform"
)

// Parameter vector layout: the intrinsics block followed by a rotation and translation per view.
const (
	paramFx = iota
	paramFy
	paramCx
	paramCy
	paramK1
	paramK2
	paramP1
	paramP2
	paramK3
	numIntrinsicParams
)

const paramsPerView = 6

type cameraModel struct {
	fx, fy, cx, cy float64
	distortion     transform.BrownConrady
}

func modelFromParams(x []float64) cameraModel {
	return cameraModel{
		fx: x[paramFx],
		fy: x[paramFy],
		cx: x[paramCx],
		cy: x[paramCy],
		distortion: transform.BrownConrady{
			RadialK1:     x[paramK1],
			RadialK2:     x[paramK2],
			RadialK3:     x[paramK3],
			TangentialP1: x[paramP1],
			TangentialP2: x[paramP2],
		},
	}
}

// project maps a point already in the camera frame to the grid plane.
func (m *cameraModel) project(p r3.Vector) r2.Point {
	x := p.X / p.Z
	y := p.Y / p.Z
	x, y = m.distortion.Transform(x, y)
	return r2.Point{X: m.fx*x + m.cx, Y: m.fy*y + m.cy}
}

func viewParams(x []float64, view int) (r3.Vector, r3.Vector) {
	o := numIntrinsicParams + view*paramsPerView
	return r3.Vector{X: x[o], Y: x[o+1], Z: x[o+2]}, r3.Vector{X: x[o+3], Y: x[o+4], Z: x[o+5]}
}

func setViewParams(x []float64, view int, rvec, tvec r3.Vector) {
	o := numIntrinsicParams + view*paramsPerView
	copy(x[o:o+paramsPerView], []float64{rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z})
}

// reprojectionResiduals writes predicted minus observed grid coordinates, two per point.
func reprojectionResiduals(dst, x []float64, session Session) {
	m := modelFromParams(x)
	i := 0
	for v, obs := range session {
		rvec, tvec := viewParams(x, v)
		rot := rodrigues(rvec)
		for j, p := range obs.ObjectPoints {
			uv := m.project(rot.apply(p).Add(tvec))
			gc := obs.GridCoords[j]
			dst[i] = uv.X - float64(gc.X)
			dst[i+1] = uv.Y - float64(gc.Y)
			i += 2
		}
	}
}

func countPoints(session Session) int {
	n := 0
	for _, obs := range session {
		n += len(obs.ObjectPoints)
	}
	return n
}
