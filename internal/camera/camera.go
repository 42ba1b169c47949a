// Package camera defines the frame source shared by the detection loop
// and the MJPEG stream.
package camera

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
)

var (
	// ErrNoFrame is returned when the device had no frame to give. It is
	// transient; callers retry after a short delay.
	ErrNoFrame = errors.New("camera: no frame available")
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("camera: closed")
)

// Source yields frames. Implementations need not be safe for concurrent
// use; wrap them in Shared when more than one goroutine reads.
type Source interface {
	Read() (image.Image, error)
	Close() error
}

// Shared serializes every Read on the wrapped source.
type Shared struct {
	mu     sync.Mutex
	src    Source
	closed bool

	reads  atomic.Uint64
	errors atomic.Uint64
}

// NewShared wraps src.
func NewShared(src Source) *Shared {
	return &Shared{src: src}
}

// Read performs exactly one read on the underlying source while holding
// the exclusive guard.
func (s *Shared) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	img, err := s.src.Read()
	if err != nil {
		s.errors.Add(1)
		return nil, err
	}
	s.reads.Add(1)
	return img, nil
}

// Close closes the underlying source once.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}

// Stats returns successful and failed read counts.
func (s *Shared) Stats() (reads, failures uint64) {
	return s.reads.Load(), s.errors.Load()
}
