// Package detect defines the plate detector capability.
package detect

import (
	"context"
	"image"
)

// Detection is one detector output: a pixel-space box and a score in [0,1].
type Detection struct {
	Box        image.Rectangle
	Confidence float64
	Class      int
}

// Detector finds plate candidates in a frame. Results with a confidence
// below minConfidence should be dropped; order is not significant.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, minConfidence float64) ([]Detection, error)
	Close() error
}

// Strongest returns the highest-confidence detection at or above
// minConfidence whose box is not empty. On equal confidence the earlier
// entry wins.
func Strongest(dets []Detection, minConfidence float64) (Detection, bool) {
	var (
		best  Detection
		found bool
	)
	for _, d := range dets {
		if d.Confidence < minConfidence || d.Box.Empty() {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	return best, found
}
