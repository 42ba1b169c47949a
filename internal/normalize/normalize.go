// Package normalize prepares a detected plate region for OCR.
package normalize

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
)

var log = logger.For("Normalize")

const (
	// DefaultRotation compensates for the camera being mounted upside down.
	DefaultRotation = 180
	// DefaultBlurSigma lets OpenCV derive sigma from the 5x5 kernel.
	DefaultBlurSigma = 0
)

// Region is a normalized plate region.
type Region struct {
	// Upright is the tight, rotated color crop. It is what gets persisted.
	Upright image.Image
	// Binary is the thresholded and smoothed OCR input.
	Binary *image.Gray
}

// Normalizer runs crop, tight re-crop, rotation and binarization.
// The zero value rotates by 0 degrees and blurs with DefaultBlurSigma.
// A negative BlurSigma disables the blur.
type Normalizer struct {
	Rotation  int
	BlurSigma float64
}

// New returns a Normalizer with the given rotation and blur.
func New(rotation int, blurSigma float64) *Normalizer {
	return &Normalizer{Rotation: rotation, BlurSigma: blurSigma}
}

// Normalize never fails; every step falls back to its input.
func (n *Normalizer) Normalize(frame image.Image, box image.Rectangle) Region {
	roi := Crop(frame, box)
	roi = TightCrop(roi)
	roi = Rotate(roi, n.Rotation)
	return Region{
		Upright: roi,
		Binary:  Binarize(roi, n.BlurSigma),
	}
}

// Crop cuts box out of frame, clamped to the frame bounds. The result's
// bounds start at (0,0). A box that misses the frame entirely returns
// frame unchanged.
func Crop(frame image.Image, box image.Rectangle) image.Image {
	clamped := box.Canon().Intersect(frame.Bounds())
	if clamped.Empty() {
		return frame
	}
	return imaging.Crop(frame, clamped)
}

// TightCrop crops img to the bounding rectangle of the largest external
// contour of its Otsu mask. The first contour wins on equal area. With no
// contour, or if img cannot be converted, img is returned unchanged.
func TightCrop(img image.Image) image.Image {
	b := img.Bounds()
	if b.Empty() {
		return img
	}
	gray, err := grayMat(img)
	if err != nil {
		log.Debug("tight crop skipped: %v", err)
		return img
	}
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := -1
	var bestArea float64
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if area := gocv.ContourArea(c); best < 0 || area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return img
	}
	rect := gocv.BoundingRect(contours.At(best))
	return imaging.Crop(img, rect.Add(b.Min))
}

// Rotate turns img counter-clockwise by degrees. Right angles are
// lossless; other angles are filled with black.
func Rotate(img image.Image, degrees int) image.Image {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return imaging.Rotate(img, float64(degrees), color.Black)
	}
}

// Binarize converts img to a smoothed black/white image: grayscale and
// Otsu threshold, then a 5x5 Gaussian blur with the given sigma (0 lets
// OpenCV pick it from the kernel size, negative skips the blur).
func Binarize(img image.Image, sigma float64) *image.Gray {
	b := img.Bounds()
	if b.Empty() {
		return image.NewGray(image.Rectangle{})
	}
	gray, err := grayMat(img)
	if err != nil {
		log.Debug("binarize fell back to grayscale: %v", err)
		return toGray(img)
	}
	defer gray.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.Threshold(gray, &out, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	if sigma >= 0 {
		gocv.GaussianBlur(out, &out, image.Pt(5, 5), sigma, sigma, gocv.BorderDefault)
	}

	res, err := out.ToImage()
	if err != nil {
		log.Debug("binarize fell back to grayscale: %v", err)
		return toGray(img)
	}
	if g, ok := res.(*image.Gray); ok {
		return g
	}
	return toGray(res)
}

// grayMat converts img to a single channel 8-bit Mat. The caller closes it.
func grayMat(img image.Image) (gocv.Mat, error) {
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// toGray uses imaging's luma weights (0.299, 0.587, 0.114) and returns
// an image whose bounds start at (0,0).
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	src := imaging.Grayscale(img)
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = row[x*4]
		}
	}
	return out
}
