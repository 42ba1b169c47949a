// Package yolo runs a YOLOv8 plate model exported to ONNX through the
// OpenCV DNN module.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/detect"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
)

// ErrEmptyModel is returned when OpenCV could not build a network from the
// model file.
var ErrEmptyModel = errors.New("yolo: model could not be loaded")

// Options tune inference.
type Options struct {
	InputSize    int
	NMSThreshold float32
}

// Detector is a detect.Detector. The underlying gocv.Net is not safe for
// concurrent use, so Detect calls are serialized.
type Detector struct {
	mu   sync.Mutex
	net  gocv.Net
	size int
	nms  float32
}

// Load reads an ONNX model from path.
func Load(path string, opts Options) (*Detector, error) {
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptyModel, path)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = 0.45
	}
	logger.Info("Detector", "Loaded %s (input %d, nms %.2f)", path, opts.InputSize, opts.NMSThreshold)
	return &Detector{net: net, size: opts.InputSize, nms: opts.NMSThreshold}, nil
}

// Detect runs one forward pass over frame and returns boxes that survive
// confidence filtering and non-maximum suppression.
func (d *Detector) Detect(ctx context.Context, frame image.Image, minConfidence float64) ([]detect.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("frame to mat: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.size, d.size),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	return d.postProcess(out, frame.Bounds(), float32(minConfidence))
}

// postProcess decodes a [1, 4+classes, anchors] tensor. Each anchor holds
// cx, cy, w, h in input-pixel units followed by per-class scores.
func (d *Detector) postProcess(out gocv.Mat, bounds image.Rectangle, minConf float32) ([]detect.Detection, error) {
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", dims)
	}
	attrs, anchors := dims[1], dims[2]

	flat := out.Reshape(1, attrs)
	defer flat.Close()
	rows := gocv.NewMat()
	defer rows.Close()
	gocv.Transpose(flat, &rows)

	sx := float32(bounds.Dx()) / float32(d.size)
	sy := float32(bounds.Dy()) / float32(d.size)

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < anchors; i++ {
		best, class := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := rows.GetFloatAt(i, c); s > best {
				best, class = s, c-4
			}
		}
		if best < minConf {
			continue
		}
		cx, cy := rows.GetFloatAt(i, 0), rows.GetFloatAt(i, 1)
		w, h := rows.GetFloatAt(i, 2), rows.GetFloatAt(i, 3)

		left := int((cx - w/2) * sx)
		top := int((cy - h/2) * sy)
		box := image.Rect(left, top, left+int(w*sx), top+int(h*sy)).
			Add(bounds.Min).
			Intersect(bounds)
		if box.Empty() {
			continue
		}
		boxes = append(boxes, box)
		scores = append(scores, best)
		classes = append(classes, class)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, minConf, d.nms)
	dets := make([]detect.Detection, 0, len(keep))
	for _, idx := range keep {
		dets = append(dets, detect.Detection{
			Box:        boxes[idx],
			Confidence: float64(scores[idx]),
			Class:      classes[idx],
		})
	}
	return dets, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

var _ detect.Detector = (*Detector)(nil)
