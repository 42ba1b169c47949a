package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
)

// textDetector is the slice of *rekognition.Client used here.
type textDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Rekognition reads plates through AWS Rekognition DetectText. It returns
// the LINE detection with the highest confidence, falling back to the
// best WORD when Rekognition reports no lines.
type Rekognition struct {
	client textDetector
	log    *logger.Module
}

// NewRekognition wraps a Rekognition client.
func NewRekognition(client *rekognition.Client) *Rekognition {
	return newRekognition(client)
}

func newRekognition(client textDetector) *Rekognition {
	return &Rekognition{client: client, log: logger.For("OCR")}
}

func (r *Rekognition) ReadText(ctx context.Context, img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encode plate: %w", err)
	}

	out, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: data},
	})
	if err != nil {
		return "", fmt.Errorf("rekognition detect text: %w", err)
	}

	text, conf := bestOf(out.TextDetections, types.TextTypesLine)
	if text == "" {
		text, conf = bestOf(out.TextDetections, types.TextTypesWord)
	}
	if text == "" {
		return "", ErrNoText
	}
	r.log.Debug("Rekognition read %q (%.1f%%) from %d blocks", text, conf, len(out.TextDetections))
	return text, nil
}

func bestOf(dets []types.TextDetection, kind types.TextTypes) (string, float32) {
	var (
		best string
		max  float32 = -1
	)
	for _, d := range dets {
		if d.Type != kind || d.DetectedText == nil {
			continue
		}
		conf := aws.ToFloat32(d.Confidence)
		if conf > max && strings.TrimSpace(*d.DetectedText) != "" {
			best, max = *d.DetectedText, conf
		}
	}
	return best, max
}

// Close is a no-op; the AWS client holds no per-reader resources.
func (r *Rekognition) Close() error { return nil }

var _ Reader = (*Rekognition)(nil)
