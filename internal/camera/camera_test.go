package camera

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// exclusiveSource fails the test if two Reads overlap.
type exclusiveSource struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	failEven bool
	n        atomic.Int32
	closed   atomic.Int32
}

func (e *exclusiveSource) Read() (image.Image, error) {
	if e.inFlight.Add(1) > 1 {
		e.overlaps.Add(1)
	}
	defer e.inFlight.Add(-1)
	time.Sleep(50 * time.Microsecond)

	if e.failEven && e.n.Add(1)%2 == 0 {
		return nil, ErrNoFrame
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (e *exclusiveSource) Close() error {
	e.closed.Add(1)
	return nil
}

func TestSharedSerializesReads(t *testing.T) {
	src := &exclusiveSource{}
	shared := NewShared(src)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := shared.Read(); err != nil {
					t.Errorf("read: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if n := src.overlaps.Load(); n != 0 {
		t.Fatalf("%d overlapping reads reached the device", n)
	}
	if reads, failures := shared.Stats(); reads != 400 || failures != 0 {
		t.Fatalf("stats = %d/%d, want 400/0", reads, failures)
	}
}

func TestSharedCountsFailures(t *testing.T) {
	shared := NewShared(&exclusiveSource{failEven: true})
	var failed int
	for i := 0; i < 10; i++ {
		if _, err := shared.Read(); errors.Is(err, ErrNoFrame) {
			failed++
		}
	}
	if failed != 5 {
		t.Fatalf("failed reads = %d, want 5", failed)
	}
	if _, failures := shared.Stats(); failures != 5 {
		t.Fatalf("failure stat = %d, want 5", failures)
	}
}

func TestSharedCloseOnce(t *testing.T) {
	src := &exclusiveSource{}
	shared := NewShared(src)
	_ = shared.Close()
	_ = shared.Close()
	if src.closed.Load() != 1 {
		t.Fatalf("underlying Close called %d times", src.closed.Load())
	}
	if _, err := shared.Read(); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close err = %v", err)
	}
}
