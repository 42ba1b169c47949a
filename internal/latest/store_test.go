package latest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreStartsEmpty(t *testing.T) {
	s := NewStore()
	r := s.Load()
	assert.True(t, r.Empty())
	assert.Equal(t, "", r.Plate)
	assert.Zero(t, r.Confidence)
	assert.True(t, r.Timestamp.IsZero())
}

func TestPublishOverwrites(t *testing.T) {
	s := NewStore()
	t1 := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	first := s.Publish("BAM 9267", 1.0, t1)
	second := s.Publish("AAA 4444", 0.875, t2)

	require.Equal(t, uint64(1), first.Version)
	require.Equal(t, uint64(2), second.Version)
	assert.Equal(t, second, s.Load())
	assert.Equal(t, "2025-06-01 08:31:00", s.Load().Timestamp.Format(TimestampLayout))
}

// Every published record encodes its index in all three fields; a reader
// that sees fields from two different writes fails the consistency check.
func TestConcurrentReadersSeeWholeRecords(t *testing.T) {
	s := NewStore()
	base := time.Unix(1_700_000_000, 0)
	const writes = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 8)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := s.Load()
				if res.Empty() {
					continue
				}
				n := res.Timestamp.Sub(base) / time.Second
				if res.Plate != fmt.Sprintf("P%d", n) || res.Confidence != float64(n) || res.Version != uint64(n) {
					select {
					case errs <- fmt.Sprintf("mixed record %+v", res):
					default:
					}
					return
				}
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		s.Publish(fmt.Sprintf("P%d", i), float64(i), base.Add(time.Duration(i)*time.Second))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Fatal(e)
	}
	assert.Equal(t, uint64(writes), s.Load().Version)
}
