package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ProjectToWorld returns the 3D point behind a pixel of the color frame.
// It is a nearest pixel lookup: subpixel coordinates are rounded, so the result can be off
// by up to half a pixel's real world footprint. Coordinates outside the frame are clamped
// to the edge. The cloud must be aligned with the frame the pixel came from.
func ProjectToWorld(pixel r2.Point, cloud PointCloudFrame) r3.Vector {
	x := clampIndex(int(math.Round(pixel.X)), cloud.Width)
	y := clampIndex(int(math.Round(pixel.Y)), cloud.Height)
	return cloud.Points[cloud.Width*y+x]
}

// ProjectDetection projects every corner of a detection.
func ProjectDetection(detection CornerDetection, cloud PointCloudFrame) []r3.Vector {
	pts := make([]r3.Vector, len(detection))
	for i, p := range detection {
		pts[i] = ProjectToWorld(p, cloud)
	}
	return pts
}

func clampIndex(v, size int) int {
	if v < 0 {
		return 0
	}
	if v >= size {
		return size - 1
	}
	return v
}
