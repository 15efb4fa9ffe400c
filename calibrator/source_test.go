package calibrator

import (
	"context"
	"image"
	"testing"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/test"
)

func namedImage(t *testing.T, img image.Image, name string) camera.NamedImage {
	t.Helper()
	ni, err := camera.NamedImageFromImage(img, name, "image/png", data.Annotations{})
	test.That(t, err, test.ShouldBeNil)
	return ni
}

func TestPickImages(t *testing.T) {
	ctx := context.Background()
	colorImg := image.NewRGBA(image.Rect(0, 0, 4, 3))
	depthImg := image.NewGray16(image.Rect(0, 0, 4, 3))
	otherImg := image.NewRGBA(image.Rect(0, 0, 8, 6))

	imgs := []camera.NamedImage{
		namedImage(t, depthImg, "depth"),
		namedImage(t, colorImg, "color"),
		namedImage(t, otherImg, "ir"),
	}

	c, d, err := pickImages(ctx, imgs, "", "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, colorImg)
	test.That(t, d, test.ShouldEqual, depthImg)

	c, d, err = pickImages(ctx, imgs, "ir", "depth")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, otherImg)
	test.That(t, d, test.ShouldEqual, depthImg)

	_, _, err = pickImages(ctx, imgs[1:], "", "")
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = pickImages(ctx, imgs, "missing", "")
	test.That(t, err, test.ShouldNotBeNil)
}
