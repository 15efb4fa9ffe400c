package calibrator

import (
	"fmt"
	"image"
	"image/color"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/projcal/calibration"
)

// DeprojectPixel returns the camera space point seen at a pixel with the given depth,
// removing Brown-Conrady lens distortion when the properties carry it.
func DeprojectPixel(properties camera.Properties, pixelX, pixelY, depth float64) r3.Vector {
	intrin := properties.IntrinsicParams

	x := (pixelX - intrin.Ppx) / intrin.Fx
	y := (pixelY - intrin.Ppy) / intrin.Fy

	brown, ok := properties.DistortionParams.(*transform.BrownConrady)
	if ok {
		xo := x
		yo := y
		for i := 0; i < 20; i++ {
			r2 := x*x + y*y
			icdist := 1 / (1 + ((brown.RadialK3*r2+brown.RadialK2)*r2+brown.RadialK1)*r2)
			deltaX := 2*brown.TangentialP1*x*y + brown.TangentialP2*(r2+2*x*x)
			deltaY := brown.TangentialP1*(r2+2*y*y) + 2*brown.TangentialP2*x*y
			x = (xo - deltaX) * icdist
			y = (yo - deltaY) * icdist
		}
	} else if properties.DistortionParams != nil {
		x, y = properties.DistortionParams.Transform(x, y)
	}

	return r3.Vector{X: depth * x, Y: depth * y, Z: depth}
}

// DepthToCloud turns a millimeter depth image into a point array aligned with its pixels.
// Pixels without depth become the zero vector.
func DepthToCloud(depth image.Image, properties camera.Properties) (calibration.PointCloudFrame, error) {
	if properties.IntrinsicParams == nil {
		return calibration.PointCloudFrame{}, fmt.Errorf("camera has no intrinsics, cannot deproject depth")
	}

	b := depth.Bounds()
	pc := calibration.PointCloudFrame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Points: make([]r3.Vector, b.Dx()*b.Dy()),
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := color.Gray16Model.Convert(depth.At(x, y)).(color.Gray16).Y
			if d == 0 {
				continue
			}
			idx := (y-b.Min.Y)*pc.Width + (x - b.Min.X)
			pc.Points[idx] = DeprojectPixel(properties, float64(x-b.Min.X), float64(y-b.Min.Y), float64(d))
		}
	}
	return pc, nil
}
