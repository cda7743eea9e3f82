package proctor

import (
	"context"
	"image"
	"math/rand"
)

// NoiseCamera is a synthetic FrameSource producing random grayscale
// frames. It stands in for a real camera in the headless runner and the
// e2e suite, where no capture hardware exists; the noise carries enough
// variance to pass the clarity check.
type NoiseCamera struct {
	// Width and Height default to 320x240.
	Width  int
	Height int
}

// Capture returns one freshly generated noise frame.
func (n *NoiseCamera) Capture(ctx context.Context) (image.Image, error) {
	w, h := n.Width, n.Height
	if w == 0 {
		w = 320
	}
	if h == 0 {
		h = 240
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rand.Intn(256))
	}
	return img, nil
}

// StaticClassifier reports a fixed verdict for every pose. The headless
// runner uses an accepting one; a real deployment injects an actual
// pose model here.
type StaticClassifier struct {
	Match bool
}

// Classify returns the configured verdict regardless of input.
func (s StaticClassifier) Classify(img image.Image, expected Pose) (bool, error) {
	return s.Match, nil
}
