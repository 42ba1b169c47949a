package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/metrics"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/overlay"
)

// FrameSource is satisfied by *camera.Shared.
type FrameSource interface {
	Read() (image.Image, error)
}

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
// The camera is only read while at least one client is subscribed.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	source    FrameSource
	latest    *latest.Store
	metrics   *metrics.Metrics
	interval  time.Duration
	quality   int
	stamp     bool
	stop      chan struct{}
	stopped   bool
	skipCount int
}

// NewFrameBroadcaster creates a broadcaster that reads frames from source and fans them out.
func NewFrameBroadcaster(source FrameSource, store *latest.Store, m *metrics.Metrics, cfg Config) *FrameBroadcaster {
	cfg = cfg.withDefaults()
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		source:   source,
		latest:   store,
		metrics:  m,
		interval: cfg.StreamInterval,
		quality:  cfg.JPEGQuality,
		stamp:    cfg.StampLatest,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch
	fb.metrics.StreamClients.Store(uint64(len(fb.clients)))

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		fb.metrics.StreamClients.Store(uint64(len(fb.clients)))
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - camera reads paused")
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Start begins the read and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run() {
	for {
		select {
		case <-fb.stop:
			return
		default:
		}

		if fb.ClientCount() == 0 {
			fb.skipCount++
			if fb.skipCount%100 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected, sleeping (idle for %d cycles)", fb.skipCount)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		fb.skipCount = 0

		if !fb.step() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		time.Sleep(fb.interval)
	}
}

// step reads, encodes and broadcasts one frame. It reports false when
// the camera or encoder failed.
func (fb *FrameBroadcaster) step() bool {
	frame, err := fb.source.Read()
	if err != nil {
		fb.metrics.StreamReadErrors.Add(1)
		logger.Debug("FrameBroadcaster", "Frame read failed: %v", err)
		return false
	}
	fb.metrics.StreamReads.Add(1)

	data, err := fb.encode(frame)
	if err != nil {
		fb.metrics.EncodeErrors.Add(1)
		logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
		return false
	}
	fb.broadcast(data)
	return true
}

func (fb *FrameBroadcaster) encode(frame image.Image) ([]byte, error) {
	if fb.stamp && fb.latest != nil {
		if r := fb.latest.Load(); !r.Empty() {
			canvas := overlay.Clone(frame)
			overlay.Stamp(canvas, fmt.Sprintf("%s  %.2f  %s", r.Plate, r.Confidence, r.Timestamp.Format(latest.TimestampLayout)))
			frame = canvas
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(fb.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
			fb.metrics.StreamFramesSent.Add(1)
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// ResultBroadcaster watches the latest-result store and fans out every new
// version to SSE clients and the websocket hub.
type ResultBroadcaster struct {
	mu          sync.Mutex
	clients     map[int]chan *SerializedEvent
	nextID      int
	latest      *latest.Store
	hub         *Hub
	interval    time.Duration
	stop        chan struct{}
	stopped     bool
	lastVersion uint64
	lastEvent   *SerializedEvent
}

// NewResultBroadcaster creates a broadcaster for latest-result events.
func NewResultBroadcaster(store *latest.Store, hub *Hub, interval time.Duration) *ResultBroadcaster {
	return &ResultBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		latest:   store,
		hub:      hub,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client. The most recent event, if any, is queued
// immediately so new clients do not wait for the next match.
func (rb *ResultBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	id := rb.nextID
	rb.nextID++
	ch := make(chan *SerializedEvent, 4)
	if rb.lastEvent != nil {
		ch <- rb.lastEvent
	}
	rb.clients[id] = ch

	logger.Debug("ResultBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(rb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (rb *ResultBroadcaster) Unsubscribe(id int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if ch, ok := rb.clients[id]; ok {
		close(ch)
		delete(rb.clients, id)
		logger.Debug("ResultBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(rb.clients))
	}
}

// ClientCount returns the number of SSE subscribers.
func (rb *ResultBroadcaster) ClientCount() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.clients)
}

// Start begins polling the store.
func (rb *ResultBroadcaster) Start() {
	go rb.run()
}

// Stop halts the broadcaster.
func (rb *ResultBroadcaster) Stop() {
	rb.mu.Lock()
	if !rb.stopped {
		close(rb.stop)
		rb.stopped = true
	}
	rb.mu.Unlock()
}

func (rb *ResultBroadcaster) run() {
	ticker := time.NewTicker(rb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rb.stop:
			return
		case <-ticker.C:
			rb.poll()
		}
	}
}

// poll publishes the current result if its version is new.
func (rb *ResultBroadcaster) poll() bool {
	r := rb.latest.Load()
	rb.mu.Lock()
	seen := rb.lastVersion
	rb.mu.Unlock()
	if r.Empty() || r.Version == seen {
		return false
	}

	event, err := serializeResult(newResultEvent(r))
	if err != nil {
		logger.Error("ResultBroadcaster", "Serialize error: %v", err)
		return false
	}

	rb.mu.Lock()
	rb.lastVersion = r.Version
	rb.lastEvent = event
	for _, ch := range rb.clients {
		select {
		case ch <- event:
		default:
		}
	}
	rb.mu.Unlock()

	if rb.hub != nil {
		rb.hub.Broadcast(event.JSONData)
	}
	return true
}

// serializeResult encodes e as JSON and as a base64 protobuf Struct.
func serializeResult(e ResultEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	st, err := structpb.NewStruct(e.asMap())
	if err != nil {
		return nil, fmt.Errorf("structpb: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
