package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Camera reads made by the detection cycle
	FramesRead atomic.Uint64
	ReadErrors atomic.Uint64

	// Detection cycle
	Cycles          atomic.Uint64
	Detections      atomic.Uint64
	NoDetections    atomic.Uint64
	DetectErrors    atomic.Uint64
	OCRErrors       atomic.Uint64
	Matches         atomic.Uint64
	NoMatches       atomic.Uint64
	LastMatchRatio  atomic.Uint64 // ratio * 1000
	CycleLatencyMs  atomic.Uint64
	DetectLatencyMs atomic.Uint64
	OCRLatencyMs    atomic.Uint64

	// Dispatch side effects
	SnapshotErrors  atomic.Uint64
	Uploads         atomic.Uint64
	UploadErrors    atomic.Uint64
	LogWrites       atomic.Uint64
	LogErrors       atomic.Uint64
	DispatchDropped atomic.Uint64

	// Stream
	StreamReads      atomic.Uint64
	StreamReadErrors atomic.Uint64
	StreamClients    atomic.Uint64
	StreamFramesSent atomic.Uint64
	EncodeErrors     atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("plate_frames_read_total", "Frames read by the detection cycle", &m.FramesRead)
	m.gauge("plate_read_errors_total", "Failed camera reads in the detection cycle", &m.ReadErrors)

	m.gauge("plate_cycles_total", "Total detection cycles run", &m.Cycles)
	m.gauge("plate_detections_total", "Cycles with a detection above the confidence floor", &m.Detections)
	m.gauge("plate_no_detections_total", "Cycles without any detection", &m.NoDetections)
	m.gauge("plate_detect_errors_total", "Detector invocation errors", &m.DetectErrors)
	m.gauge("plate_ocr_errors_total", "OCR invocation errors", &m.OCRErrors)
	m.gauge("plate_matches_total", "Confident registry matches", &m.Matches)
	m.gauge("plate_no_matches_total", "Detections whose text matched no registry entry", &m.NoMatches)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "plate_last_match_ratio",
			Help: "Similarity ratio of the most recent resolution",
		},
		func() float64 { return float64(m.LastMatchRatio.Load()) / 1000 },
	))

	m.gauge("plate_cycle_latency_ms", "Duration of the last detection cycle in milliseconds", &m.CycleLatencyMs)
	m.gauge("plate_detect_latency_ms", "Duration of the last detector call in milliseconds", &m.DetectLatencyMs)
	m.gauge("plate_ocr_latency_ms", "Duration of the last OCR call in milliseconds", &m.OCRLatencyMs)

	m.gauge("plate_snapshot_errors_total", "Failed snapshot writes", &m.SnapshotErrors)
	m.gauge("plate_uploads_total", "Successful uploads", &m.Uploads)
	m.gauge("plate_upload_errors_total", "Failed uploads", &m.UploadErrors)
	m.gauge("plate_log_writes_total", "Successful bin log writes", &m.LogWrites)
	m.gauge("plate_log_errors_total", "Failed bin log writes", &m.LogErrors)
	m.gauge("plate_dispatch_dropped_total", "Side-effect jobs dropped because the queue was full", &m.DispatchDropped)

	m.gauge("plate_stream_reads_total", "Frames read for the MJPEG stream", &m.StreamReads)
	m.gauge("plate_stream_read_errors_total", "Failed camera reads for the MJPEG stream", &m.StreamReadErrors)
	m.gauge("plate_stream_clients", "Connected MJPEG clients", &m.StreamClients)
	m.gauge("plate_stream_frames_sent_total", "Frames fanned out to MJPEG clients", &m.StreamFramesSent)
	m.gauge("plate_encode_errors_total", "JPEG encode failures", &m.EncodeErrors)
}

// ObserveCycle records the duration of one detection cycle.
func (m *Metrics) ObserveCycle(start time.Time) {
	m.Cycles.Add(1)
	m.CycleLatencyMs.Store(uint64(time.Since(start).Milliseconds()))
}

// ObserveRatio stores the latest similarity ratio.
func (m *Metrics) ObserveRatio(ratio float64) {
	m.LastMatchRatio.Store(uint64(ratio * 1000))
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer builds the metrics HTTP server on its own mux.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
