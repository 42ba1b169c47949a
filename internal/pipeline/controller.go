// Package pipeline runs the detection cycle: capture, detect, normalize,
// read, resolve and dispatch.
package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/detect"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/metrics"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/normalize"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/ocr"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/plate"
)

// Outcome classifies one iteration.
type Outcome int

const (
	OutcomeCaptureFailed Outcome = iota
	OutcomeNoDetection
	OutcomeNoMatch
	OutcomeDispatched
	OutcomeDetectFailed
	OutcomeReadFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCaptureFailed:
		return "capture_failed"
	case OutcomeNoDetection:
		return "no_detection"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeDetectFailed:
		return "detect_failed"
	case OutcomeReadFailed:
		return "read_failed"
	default:
		return "unknown"
	}
}

// FrameSource is satisfied by *camera.Shared.
type FrameSource interface {
	Read() (image.Image, error)
}

// Options tune the loop.
type Options struct {
	MinConfidence float64
	RetryDelay    time.Duration
	CycleDelay    time.Duration
}

// DefaultOptions returns the loop defaults.
func DefaultOptions() Options {
	return Options{
		MinConfidence: 0.5,
		RetryDelay:    100 * time.Millisecond,
		CycleDelay:    100 * time.Millisecond,
	}
}

// Controller owns the detection loop.
type Controller struct {
	source     FrameSource
	detector   detect.Detector
	normalizer *normalize.Normalizer
	reader     ocr.Reader
	resolver   *plate.Resolver
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	opts       Options
	log        *logger.Module

	now func() time.Time
}

// NewController wires the collaborators. None may be nil.
func NewController(source FrameSource, detector detect.Detector, normalizer *normalize.Normalizer,
	reader ocr.Reader, resolver *plate.Resolver, dispatcher *Dispatcher, m *metrics.Metrics, opts Options) *Controller {
	return &Controller{
		source:     source,
		detector:   detector,
		normalizer: normalizer,
		reader:     reader,
		resolver:   resolver,
		dispatcher: dispatcher,
		metrics:    m,
		opts:       opts,
		log:        logger.For("Pipeline"),
		now:        time.Now,
	}
}

// RunOnce performs a single iteration. Errors from collaborators are
// returned alongside the outcome for logging; none of them is fatal.
//
// Cancelling ctx does not abort the iteration: inference and OCR run
// under a context detached from its cancellation.
func (c *Controller) RunOnce(ctx context.Context) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	start := c.now()
	defer c.metrics.ObserveCycle(start)

	frame, err := c.source.Read()
	if err != nil {
		c.metrics.ReadErrors.Add(1)
		return OutcomeCaptureFailed, err
	}
	c.metrics.FramesRead.Add(1)

	detStart := time.Now()
	dets, err := c.detector.Detect(ctx, frame, c.opts.MinConfidence)
	c.metrics.DetectLatencyMs.Store(uint64(time.Since(detStart).Milliseconds()))
	if err != nil {
		c.metrics.DetectErrors.Add(1)
		return OutcomeDetectFailed, err
	}

	best, ok := detect.Strongest(dets, c.opts.MinConfidence)
	if !ok {
		c.metrics.NoDetections.Add(1)
		return OutcomeNoDetection, nil
	}
	c.metrics.Detections.Add(1)

	region := c.normalizer.Normalize(frame, best.Box)

	ocrStart := time.Now()
	raw, err := c.reader.ReadText(ctx, region.Binary)
	c.metrics.OCRLatencyMs.Store(uint64(time.Since(ocrStart).Milliseconds()))
	if err != nil && !errors.Is(err, ocr.ErrNoText) {
		c.metrics.OCRErrors.Add(1)
		return OutcomeReadFailed, err
	}

	text := plate.Sanitize(raw)
	m := c.resolver.Resolve(text)
	c.metrics.ObserveRatio(m.Ratio)
	if !m.Matched {
		c.metrics.NoMatches.Add(1)
		c.log.Info("No match for %q (nearest %q, ratio %.2f)", text, m.Nearest, m.Ratio)
		return OutcomeNoMatch, nil
	}
	c.metrics.Matches.Add(1)

	c.dispatcher.Dispatch(ctx, Capture{
		Match:     m,
		Detection: best,
		Region:    region,
		Frame:     frame,
		Time:      c.now(),
	})
	return OutcomeDispatched, nil
}

// Run loops until ctx is cancelled. Cancellation is observed between
// iterations; an iteration in progress always completes.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("Detection loop started (min confidence %.2f, threshold %.2f)",
		c.opts.MinConfidence, c.resolver.Threshold())
	defer c.log.Info("Detection loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		outcome, err := c.RunOnce(ctx)
		switch outcome {
		case OutcomeCaptureFailed:
			c.log.Warn("Failed to grab frame: %v", err)
			if !sleep(ctx, c.opts.RetryDelay) {
				return nil
			}
		case OutcomeDetectFailed, OutcomeReadFailed:
			c.log.Error("Cycle %s: %v", outcome, err)
		}

		if !sleep(ctx, c.opts.CycleDelay) {
			return nil
		}
	}
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
