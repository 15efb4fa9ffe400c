package chessboard

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/erh/projcal/calibration"
)

func matchCorners(t *testing.T, det, expected calibration.CornerDetection) {
	t.Helper()
	// ordering depends on the board pose, so match by position
	used := map[int]bool{}
	for _, p := range det {
		match := -1
		for i, e := range expected {
			if p.Sub(e).Norm() < 1 {
				match = i
				break
			}
		}
		test.That(t, match, test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, used[match], test.ShouldBeFalse)
		used[match] = true
	}
}

func TestDetectRenderedBoard(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g := calibration.BoardGeometry{Rows: 6, Cols: 9}

	img := Render(g, 40, 40)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 480)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 360)

	det, err := NewDetector(logger).Detect(img, g)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.Complete(g), test.ShouldBeTrue)
	matchCorners(t, det, RenderedCorners(g, 40, 40))
}

func TestDetectOffsetImage(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g := calibration.BoardGeometry{Rows: 6, Cols: 9}

	full := Render(g, 40, 60)
	sub := full.SubImage(image.Rect(20, 10, full.Bounds().Dx(), full.Bounds().Dy()))
	test.That(t, sub.Bounds().Min, test.ShouldResemble, image.Pt(20, 10))

	det, err := NewDetector(logger).Detect(sub, g)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.Complete(g), test.ShouldBeTrue)

	expected := RenderedCorners(g, 40, 60)
	for i := range expected {
		expected[i] = expected[i].Sub(r2.Point{X: 20, Y: 10})
	}
	matchCorners(t, det, expected)
}

func TestDetectWrongGeometry(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img := Render(calibration.BoardGeometry{Rows: 6, Cols: 9}, 40, 40)

	det, err := NewDetector(logger).Detect(img, calibration.BoardGeometry{Rows: 7, Cols: 9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det, test.ShouldHaveLength, 0)
}

func TestDetectNoBoard(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g := calibration.BoardGeometry{Rows: 6, Cols: 9}

	det, err := NewDetector(logger).Detect(image.NewGray(image.Rect(0, 0, 320, 240)), g)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.Complete(g), test.ShouldBeFalse)

	_, err = NewDetector(logger).Detect(image.NewGray(image.Rect(0, 0, 0, 0)), g)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewDetector(logger).Detect(image.NewGray(image.Rect(0, 0, 10, 10)), calibration.BoardGeometry{})
	test.That(t, err, test.ShouldNotBeNil)
}
