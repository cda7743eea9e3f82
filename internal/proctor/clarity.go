package proctor

import (
	"image"
	"image/color"
)

// VarianceClarity is the default clarity checker: grayscale variance
// below the threshold means the frame is too flat or blurry to trust.
type VarianceClarity struct {
	// Threshold is the minimum acceptable variance. Zero means the
	// default of 100.
	Threshold float64
}

// IsClear computes the variance of the grayscale pixel values.
func (v VarianceClarity) IsClear(img image.Image) (bool, error) {
	threshold := v.Threshold
	if threshold == 0 {
		threshold = 100
	}

	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return false, nil
	}

	var sum, sumSq float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			val := float64(g.Y)
			sum += val
			sumSq += val * val
		}
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	return variance >= threshold, nil
}
