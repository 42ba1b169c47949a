// Package upload pushes saved snapshots to cloud storage.
package upload

import (
	"context"
	"errors"
)

// ErrMissingFolder is returned when a backend needs a destination that
// was not configured.
var ErrMissingFolder = errors.New("upload: destination folder not configured")

// Uploader copies the local file at path into folder and returns the
// remote object identifier.
type Uploader interface {
	Upload(ctx context.Context, path, folder string) (string, error)
}

// Nop is used when no upload backend is configured.
type Nop struct{}

func (Nop) Upload(context.Context, string, string) (string, error) { return "", nil }
