package main

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/erh/projcal/calibration"
)

var viewColors = []color.RGBA{
	{R: 228, G: 26, B: 28, A: 255},
	{R: 55, G: 126, B: 184, A: 255},
	{R: 77, G: 175, B: 74, A: 255},
	{R: 152, G: 78, B: 163, A: 255},
	{R: 255, G: 127, B: 0, A: 255},
	{R: 166, G: 86, B: 40, A: 255},
}

// plotResiduals writes a scatter of the reprojection residuals, one color per view.
func plotResiduals(res *calibration.Result, session calibration.Session, fn string) error {
	residuals, err := res.Residuals(session)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("reprojection residuals, rms %0.4f", res.RMS)
	p.X.Label.Text = "dx (grid units)"
	p.Y.Label.Text = "dy (grid units)"
	p.Add(plotter.NewGrid())

	for v, rs := range residuals {
		pts := make(plotter.XYs, len(rs))
		for i, r := range rs {
			pts[i] = plotter.XY{X: r.X, Y: r.Y}
		}

		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("view %d: %w", v, err)
		}
		s.GlyphStyle.Color = viewColors[v%len(viewColors)]
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("view %d", v), s)
	}

	return p.Save(6*vg.Inch, 6*vg.Inch, fn)
}
