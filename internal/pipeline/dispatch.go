package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/binlog"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/detect"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/metrics"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/normalize"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/overlay"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/plate"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/snapshot"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/upload"
)

// Capture is everything known about one confident match.
type Capture struct {
	Match     plate.Match
	Detection detect.Detection
	Region    normalize.Region
	Frame     image.Image
	Time      time.Time
}

// DispatchOptions configure the side effects of a match.
type DispatchOptions struct {
	Folder     string
	Annotate   bool
	Async      bool
	QueueSize  int
	LogTimeout time.Duration
}

type job struct {
	platePath string
	entry     binlog.Entry
}

// Dispatcher persists, uploads and logs a match, then publishes it as the
// latest result. Only the snapshot and publish happen on the caller's
// goroutine when Async is set.
type Dispatcher struct {
	snapshots *snapshot.Store
	uploader  upload.Uploader
	sink      binlog.Sink
	latest    *latest.Store
	metrics   *metrics.Metrics
	opts      DispatchOptions
	log       *logger.Module

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// NewDispatcher starts the background worker when opts.Async is set.
func NewDispatcher(snapshots *snapshot.Store, uploader upload.Uploader, sink binlog.Sink,
	store *latest.Store, m *metrics.Metrics, opts DispatchOptions) *Dispatcher {
	if uploader == nil {
		uploader = upload.Nop{}
	}
	if sink == nil {
		sink = binlog.Discard{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.LogTimeout <= 0 {
		opts.LogTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		snapshots: snapshots,
		uploader:  uploader,
		sink:      sink,
		latest:    store,
		metrics:   m,
		opts:      opts,
		log:       logger.For("Dispatch"),
	}
	if opts.Async {
		d.jobs = make(chan job, opts.QueueSize)
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch handles one match and returns the published result. It never
// fails: side-effect errors are logged and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, c Capture) latest.Result {
	var platePath, imageName string
	if d.snapshots != nil {
		frame := c.Frame
		if d.opts.Annotate && frame != nil {
			frame = overlay.Annotate(frame, c.Detection.Box,
				fmt.Sprintf("%s %.2f", c.Match.Plate, c.Match.Ratio))
		}
		files, err := d.snapshots.Save(c.Time, c.Region.Upright, frame)
		if err != nil {
			d.metrics.SnapshotErrors.Add(1)
			d.log.Error("Snapshot %s failed: %v", snapshot.FileKey(c.Time), err)
		}
		if files.PlatePath != "" {
			platePath, imageName = files.PlatePath, files.PlateName()
		}
	}

	j := job{
		platePath: platePath,
		entry:     binlog.NewEntry(c.Match.Plate, c.Detection.Confidence, c.Match.Ratio, imageName, c.Time),
	}
	if d.opts.Async {
		d.enqueue(j)
	} else {
		d.run(ctx, j)
	}

	res := d.latest.Publish(c.Match.Plate, c.Match.Ratio, c.Time)
	d.log.Info("Matched %s (ratio %.2f, det %.2f) at %s", c.Match.Plate, c.Match.Ratio,
		c.Detection.Confidence, c.Time.Format(latest.TimestampLayout))
	return res
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.DispatchDropped.Add(1)
		return
	}
	select {
	case d.jobs <- j:
	default:
		d.metrics.DispatchDropped.Add(1)
		d.log.Warn("Queue full, dropping upload/log for %s", j.entry.BinID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.run(context.Background(), j)
	}
}

// run uploads and logs one job. Shutdown of the parent context does not
// abort an in-flight write; LogTimeout bounds it instead.
func (d *Dispatcher) run(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.opts.LogTimeout)
	defer cancel()

	if j.platePath != "" {
		if id, err := d.uploader.Upload(ctx, j.platePath, d.opts.Folder); err != nil {
			d.metrics.UploadErrors.Add(1)
			d.log.Error("Upload %s failed: %v", j.entry.ImageName, err)
		} else if id != "" {
			d.metrics.Uploads.Add(1)
			d.log.Debug("Uploaded %s as %s", j.entry.ImageName, id)
		}
	}

	if err := d.sink.Log(ctx, j.entry); err != nil {
		d.metrics.LogErrors.Add(1)
		d.log.Error("Bin log for %s failed: %v", j.entry.BinID, err)
		return
	}
	d.metrics.LogWrites.Add(1)
}

// Close drains queued jobs and waits for the worker. Later dispatches
// still publish but drop their side effects.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.jobs != nil {
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
