package calibrator

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"go.viam.com/rdk/components/camera"

	"github.com/erh/projcal/calibration"
)

// FrameSource supplies aligned color and depth frames and the time they were captured.
type FrameSource interface {
	NextFrame(ctx context.Context) (calibration.Frame, time.Time, error)
}

// CameraSource reads frames from a camera that returns a color and a depth image,
// for example a Kinect or a realsense with depth aligned to color.
type CameraSource struct {
	cam         camera.Camera
	colorSource string
	depthSource string

	propsLock sync.Mutex
	props     *camera.Properties
}

// NewCameraSource reads color and depth from the named sources of one camera.
func NewCameraSource(cam camera.Camera, colorSource, depthSource string) *CameraSource {
	return &CameraSource{cam: cam, colorSource: colorSource, depthSource: depthSource}
}

func (cs *CameraSource) properties(ctx context.Context) (camera.Properties, error) {
	cs.propsLock.Lock()
	defer cs.propsLock.Unlock()

	if cs.props == nil {
		p, err := cs.cam.Properties(ctx)
		if err != nil {
			return camera.Properties{}, err
		}
		cs.props = &p
	}
	return *cs.props, nil
}

func (cs *CameraSource) NextFrame(ctx context.Context) (calibration.Frame, time.Time, error) {
	props, err := cs.properties(ctx)
	if err != nil {
		return calibration.Frame{}, time.Time{}, err
	}

	imgs, meta, err := cs.cam.Images(ctx, nil, nil)
	if err != nil {
		return calibration.Frame{}, time.Time{}, err
	}

	colorImg, depthImg, err := pickImages(ctx, imgs, cs.colorSource, cs.depthSource)
	if err != nil {
		return calibration.Frame{}, time.Time{}, err
	}

	if colorImg.Bounds().Size() != depthImg.Bounds().Size() {
		return calibration.Frame{}, time.Time{}, fmt.Errorf("color (%v) and depth (%v) are not aligned",
			colorImg.Bounds().Size(), depthImg.Bounds().Size())
	}

	cloud, err := DepthToCloud(depthImg, props)
	if err != nil {
		return calibration.Frame{}, time.Time{}, err
	}

	capturedAt := meta.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return calibration.Frame{Color: colorImg, Cloud: cloud}, capturedAt, nil
}

// pickImages finds the color and depth images by source name. Without names, the first
// 16 bit grayscale image is the depth and the first other one is the color.
func pickImages(ctx context.Context, imgs []camera.NamedImage, colorSource, depthSource string) (image.Image, image.Image, error) {
	var colorImg, depthImg image.Image

	for _, ni := range imgs {
		wantColor := colorImg == nil && (colorSource == "" || ni.SourceName == colorSource)
		wantDepth := depthImg == nil && (depthSource == "" || ni.SourceName == depthSource)
		if !wantColor && !wantDepth {
			continue
		}

		img, err := ni.Image(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot decode image %s: %w", ni.SourceName, err)
		}

		isDepth := img.ColorModel() == color.Gray16Model
		switch {
		case wantDepth && (depthSource != "" || isDepth):
			depthImg = img
		case wantColor && (colorSource != "" || !isDepth):
			colorImg = img
		}
	}

	if colorImg == nil {
		return nil, nil, fmt.Errorf("no color image (source %q) in %d images", colorSource, len(imgs))
	}
	if depthImg == nil {
		return nil, nil, fmt.Errorf("no depth image (source %q) in %d images", depthSource, len(imgs))
	}
	return colorImg, depthImg, nil
}
