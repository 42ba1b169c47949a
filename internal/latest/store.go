// Package latest holds the most recent confident plate match.
package latest

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimestampLayout is how timestamps are rendered to API clients.
const TimestampLayout = "2006-01-02 15:04:05"

// Result is an immutable snapshot. A zero Result means nothing has
// matched yet.
type Result struct {
	Plate      string
	Confidence float64
	Timestamp  time.Time
	Version    uint64
}

// Empty reports whether no match has been published.
func (r Result) Empty() bool { return r.Version == 0 }

// Store is a single-slot holder. Publish swaps in a whole new Result so
// readers never see fields from two different matches.
type Store struct {
	writeMu sync.Mutex
	current atomic.Pointer[Result]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Result{})
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() Result {
	return *s.current.Load()
}

// Publish replaces the stored result and returns the new snapshot.
func (s *Store) Publish(plate string, confidence float64, ts time.Time) Result {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := &Result{
		Plate:      plate,
		Confidence: confidence,
		Timestamp:  ts,
		Version:    s.current.Load().Version + 1,
	}
	s.current.Store(next)
	return *next
}
