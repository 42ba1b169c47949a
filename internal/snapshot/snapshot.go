package snapshot

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// KeyLayout formats the capture time into a file key.
const KeyLayout = "20060102_150405"

// ErrNoImage is returned when Save is given a nil plate image.
var ErrNoImage = errors.New("snapshot: nil plate image")

// Files describes one saved capture
type Files struct {
	Key       string
	PlatePath string
	FramePath string
}

// PlateName returns the base name of the plate image
func (f Files) PlateName() string {
	return filepath.Base(f.PlatePath)
}

// Store writes plate and full-frame JPEGs into a directory
type Store struct {
	mu       sync.RWMutex
	basePath string
	quality  int

	saved        uint64
	bytesWritten uint64
	lastKey      string
	lastSaved    time.Time
}

// NewStore creates the directory if needed
func NewStore(basePath string, quality int) (*Store, error) {
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &Store{basePath: basePath, quality: quality}, nil
}

// FileKey derives the file key from the capture time
func FileKey(ts time.Time) string {
	return ts.Format(KeyLayout)
}

// Save writes plate_<key>.jpg and, when frame is non-nil, full_<key>.jpg.
// Two captures in the same second share a key and the later one wins.
// If only the frame write fails, the returned Files still carry PlatePath
// alongside the error.
func (s *Store) Save(ts time.Time, plate, frame image.Image) (Files, error) {
	if plate == nil {
		return Files{}, ErrNoImage
	}

	key := FileKey(ts)
	files := Files{
		Key:       key,
		PlatePath: filepath.Join(s.basePath, fmt.Sprintf("plate_%s.jpg", key)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.write(files.PlatePath, plate)
	if err != nil {
		return Files{}, err
	}
	defer func() {
		s.saved++
		s.bytesWritten += n
		s.lastKey = key
		s.lastSaved = time.Now()
	}()

	if frame != nil {
		framePath := filepath.Join(s.basePath, fmt.Sprintf("full_%s.jpg", key))
		m, err := s.write(framePath, frame)
		if err != nil {
			// the plate is on disk and stays usable
			return files, err
		}
		files.FramePath = framePath
		n += m
	}
	return files, nil
}

func (s *Store) write(path string, img image.Image) (uint64, error) {
	if err := imaging.Save(img, path, imaging.JPEGQuality(s.quality)); err != nil {
		return 0, fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, nil
	}
	return uint64(info.Size()), nil
}

// Dir returns the output directory
func (s *Store) Dir() string {
	return s.basePath
}

// GetStatus returns save counters
func (s *Store) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Saved:        s.saved,
		BytesWritten: s.bytesWritten,
		LastKey:      s.lastKey,
		LastSaved:    s.lastSaved,
	}
}

// Status holds the snapshot counters
type Status struct {
	Saved        uint64    `json:"saved"`
	BytesWritten uint64    `json:"bytes_written"`
	LastKey      string    `json:"last_key"`
	LastSaved    time.Time `json:"last_saved"`
}
