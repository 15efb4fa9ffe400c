package calibration

import "image"

// Detector finds the inner corners of a chessboard in a color image.
// Not finding the board is not an error: it returns a detection that is not Complete.
type Detector interface {
	Detect(img image.Image, geometry BoardGeometry) (CornerDetection, error)
}

// DetectorFunc adapts a function to a Detector.
type DetectorFunc func(img image.Image, geometry BoardGeometry) (CornerDetection, error)

func (f DetectorFunc) Detect(img image.Image, geometry BoardGeometry) (CornerDetection, error) {
	return f(img, geometry)
}
