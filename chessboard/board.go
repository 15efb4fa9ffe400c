package chessboard

import (
	"image"
	"image/color"

	"github.com/golang/geo/r2"

	"github.com/erh/projcal/calibration"
)

// Render draws a printable board with the given number of inner corners.
// The quiet zone around the squares is margin pixels wide.
func Render(geometry calibration.BoardGeometry, square, margin int) *image.Gray {
	w := (geometry.Cols+1)*square + 2*margin
	h := (geometry.Rows+1)*square + 2*margin
	img := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.Gray{Y: 255}
			sx := x - margin
			sy := y - margin
			if sx >= 0 && sy >= 0 && sx < (geometry.Cols+1)*square && sy < (geometry.Rows+1)*square {
				if (sx/square+sy/square)%2 == 0 {
					c = color.Gray{Y: 0}
				}
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}

// RenderedCorners are the inner corner positions of a board drawn by Render, in raster order.
func RenderedCorners(geometry calibration.BoardGeometry, square, margin int) calibration.CornerDetection {
	det := calibration.CornerDetection{}
	for i := 0; i < geometry.Corners(); i++ {
		gc := geometry.GridCoord(i)
		det = append(det, r2.Point{
			X: float64(margin+(gc.X+1)*square) - 0.5,
			Y: float64(margin+(gc.Y+1)*square) - 0.5,
		})
	}
	return det
}
