package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

type syntheticCamera struct {
	fx, fy, cx, cy float64
}

type syntheticPose struct {
	rvec r3.Vector
	t    r3.Vector
}

var testPoses = []syntheticPose{
	{r3.Vector{X: 0.35, Y: 0.05, Z: 0.02}, r3.Vector{X: -20, Y: 15, Z: 1000}},
	{r3.Vector{X: -0.1, Y: 0.4, Z: -0.05}, r3.Vector{X: 30, Y: -10, Z: 1100}},
	{r3.Vector{X: 0.25, Y: -0.3, Z: 0.1}, r3.Vector{X: 0, Y: 25, Z: 950}},
	{r3.Vector{X: -0.3, Y: -0.2, Z: 0.2}, r3.Vector{X: -15, Y: -20, Z: 1050}},
}

// syntheticObservation finds the points on the plane z=0 of the board frame that the camera
// sees exactly at the grid coordinates.
func syntheticObservation(cam syntheticCamera, pose syntheticPose, g BoardGeometry) Observation {
	rot := rodrigues(pose.rvec)
	normal := rot.apply(r3.Vector{Z: 1})
	d := normal.Dot(pose.t)

	obs := Observation{}
	for i := 0; i < g.Corners(); i++ {
		gc := g.GridCoord(i)
		ray := r3.Vector{
			X: (float64(gc.X) - cam.cx) / cam.fx,
			Y: (float64(gc.Y) - cam.cy) / cam.fy,
			Z: 1,
		}
		xCam := ray.Mul(d / normal.Dot(ray))
		obs.ObjectPoints = append(obs.ObjectPoints, rot.transpose().apply(xCam.Sub(pose.t)))
		obs.GridCoords = append(obs.GridCoords, gc)
	}
	return obs
}

func syntheticSession(cam syntheticCamera, g BoardGeometry, views int) Session {
	s := Session{}
	for i := 0; i < views; i++ {
		s = append(s, syntheticObservation(cam, testPoses[i%len(testPoses)], g))
	}
	return s
}

// gridFrame lays out an observation so that corner i sits on pixel i of a cols x rows cloud.
func gridFrame(obs Observation, g BoardGeometry) (CornerDetection, PointCloudFrame) {
	det := CornerDetection{}
	for i := 0; i < g.Corners(); i++ {
		gc := g.GridCoord(i)
		det = append(det, r2.Point{X: float64(gc.X) + 0.2, Y: float64(gc.Y) - 0.3})
	}
	return det, PointCloudFrame{
		Width:  g.Cols,
		Height: g.Rows,
		Points: append([]r3.Vector(nil), obs.ObjectPoints...),
	}
}

func partialDetection(n int) CornerDetection {
	det := CornerDetection{}
	for i := 0; i < n; i++ {
		det = append(det, r2.Point{X: float64(i % 9), Y: float64(i / 9)})
	}
	return det
}
