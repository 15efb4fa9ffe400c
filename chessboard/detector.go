// Package chessboard finds chessboard calibration targets in color images using OpenCV.
package chessboard

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"go.viam.com/rdk/logging"

	"github.com/erh/projcal/calibration"
)

const (
	defaultSubPixWindow = 11
	subPixIterations    = 30
	subPixEpsilon       = 0.001
)

type Detector struct {
	// SubPixWindow is the half size of the corner refinement search window in pixels.
	SubPixWindow int
	// FastCheck rejects images without a board quickly, at some cost in recall.
	FastCheck bool

	logger logging.Logger
}

func NewDetector(logger logging.Logger) *Detector {
	return &Detector{SubPixWindow: defaultSubPixWindow, logger: logger}
}

// Detect returns the subpixel inner corners in OpenCV's raster order, or an empty detection
// when no board of the given size is visible. Corners are relative to the image origin,
// matching the indexing of the aligned point array.
func (d *Detector) Detect(img image.Image, geometry calibration.BoardGeometry) (calibration.CornerDetection, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)

	m, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, gray.Pix)
	if err != nil {
		return nil, fmt.Errorf("cannot convert image: %w", err)
	}
	defer m.Close()

	corners := gocv.NewMat()
	defer corners.Close()

	flags := gocv.CalibCBAdaptiveThresh + gocv.CalibCBNormalizeImage
	if d.FastCheck {
		flags += gocv.CalibCBFastCheck
	}

	found := gocv.FindChessboardCorners(m, image.Pt(geometry.Cols, geometry.Rows), &corners, flags)
	if !found || corners.Rows() != geometry.Corners() {
		d.logger.Debugf("no %dx%d board found (%d corners)", geometry.Rows, geometry.Cols, corners.Rows())
		return calibration.CornerDetection{}, nil
	}

	win := d.SubPixWindow
	if win <= 0 {
		win = defaultSubPixWindow
	}
	criteria := gocv.NewTermCriteria(gocv.EPS+gocv.MaxIter, subPixIterations, subPixEpsilon)
	gocv.CornerSubPix(m, &corners, image.Pt(win, win), image.Pt(-1, -1), criteria)

	detection := make(calibration.CornerDetection, corners.Rows())
	for i := range detection {
		v := corners.GetVecfAt(i, 0)
		detection[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
	}
	return detection, nil
}
