package imgutils

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/geo/r2"
)

var (
	firstCornerColor = color.RGBA{255, 0, 0, 255}
	cornerColor      = color.RGBA{0, 255, 0, 255}
	incompleteColor  = color.RGBA{255, 255, 0, 255}
)

// DrawCorners copies img and marks each corner with a small cross. The first corner is red
// so the board orientation is visible, complete selects green or yellow for the rest.
func DrawCorners(img image.Image, corners []r2.Point, complete bool) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	c := incompleteColor
	if complete {
		c = cornerColor
	}

	for idx, p := range corners {
		cc := c
		if idx == 0 {
			cc = firstCornerColor
		}
		drawCross(out, image.Pt(int(p.X+.5), int(p.Y+.5)), 3, cc)
	}
	return out
}

func drawCross(img *image.RGBA, center image.Point, size int, c color.Color) {
	for d := -size; d <= size; d++ {
		for _, pt := range []image.Point{center.Add(image.Pt(d, 0)), center.Add(image.Pt(0, d))} {
			if pt.In(img.Bounds()) {
				img.Set(pt.X, pt.Y, c)
			}
		}
	}
}
