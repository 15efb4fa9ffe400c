package calibration

import (
	"fmt"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
)

// Extrinsic is the pose of one view: Rotation is an axis angle vector scaled by the angle
// in radians, Translation is in millimeters.
type Extrinsic struct {
	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

func (e Extrinsic) Pose() spatialmath.Pose {
	theta := e.Rotation.Norm()
	if theta < 1e-12 {
		return spatialmath.NewPose(e.Translation, spatialmath.NewR4AA())
	}
	axis := e.Rotation.Mul(1 / theta)
	return spatialmath.NewPose(e.Translation, &spatialmath.R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z})
}

// Result is a solved camera model. It is not modified after Solve returns it.
type Result struct {
	Geometry   BoardGeometry                     `json:"geometry"`
	Intrinsics transform.PinholeCameraIntrinsics `json:"intrinsics"`
	Distortion transform.BrownConrady            `json:"distortion"`
	Extrinsics []Extrinsic                       `json:"extrinsics"`

	RMS        float64   `json:"rms"`
	Iterations int       `json:"iterations"`
	Views      int       `json:"views"`
	SolvedAt   time.Time `json:"solved_at"`
}

// CameraMatrix returns a new 3x3 intrinsic matrix.
func (r *Result) CameraMatrix() *mat.Dense {
	intr := r.Intrinsics
	return intr.GetCameraMatrix()
}

// DistortionCoefficients are in k1, k2, p1, p2, k3 order.
func (r *Result) DistortionCoefficients() []float64 {
	d := r.Distortion
	return []float64{d.RadialK1, d.RadialK2, d.TangentialP1, d.TangentialP2, d.RadialK3}
}

// Project maps a point through the pose of the given view and the camera model.
func (r *Result) Project(view int, p r3.Vector) (r2.Point, error) {
	if view < 0 || view >= len(r.Extrinsics) {
		return r2.Point{}, fmt.Errorf("no view %d, have %d", view, len(r.Extrinsics))
	}
	e := r.Extrinsics[view]
	m := r.model()
	return m.project(rodrigues(e.Rotation).apply(p).Add(e.Translation)), nil
}

// Residuals returns projected minus observed grid coordinates for every point of the session
// the result was solved from.
func (r *Result) Residuals(session Session) ([][]r2.Point, error) {
	if len(session) != len(r.Extrinsics) {
		return nil, fmt.Errorf("result has %d views, session has %d", len(r.Extrinsics), len(session))
	}
	out := make([][]r2.Point, len(session))
	for v, obs := range session {
		out[v] = make([]r2.Point, len(obs.ObjectPoints))
		for i, p := range obs.ObjectPoints {
			uv, err := r.Project(v, p)
			if err != nil {
				return nil, err
			}
			out[v][i] = uv.Sub(obs.GridCoords[i].Point())
		}
	}
	return out, nil
}

func (r *Result) model() cameraModel {
	return cameraModel{
		fx:         r.Intrinsics.Fx,
		fy:         r.Intrinsics.Fy,
		cx:         r.Intrinsics.Ppx,
		cy:         r.Intrinsics.Ppy,
		distortion: r.Distortion,
	}
}
