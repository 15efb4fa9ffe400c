package imgutils

import (
	"image"
	"image/color"
)

// ComputeGrayscaleAverage returns the mean luma of the image, 0 to 255.
// step > 1 samples every step-th pixel in each direction.
func ComputeGrayscaleAverage(img image.Image, step int) float64 {
	if step < 1 {
		step = 1
	}
	bounds := img.Bounds()

	totalValue := 0.0
	numPixels := 0.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			grayColor := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			totalValue += float64(grayColor.Y)
			numPixels++
		}
	}

	if numPixels == 0 {
		return 0
	}
	return totalValue / numPixels
}
