// Package ocr turns a normalized plate image into raw text.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// ErrNoText is returned when the engine ran but produced nothing usable.
// Callers treat it the same as an empty read.
var ErrNoText = errors.New("ocr: no text detected")

// Reader recognizes text in img. The result is raw engine output and may
// contain punctuation or stray whitespace.
type Reader interface {
	ReadText(ctx context.Context, img image.Image) (string, error)
	Close() error
}

// EncodePNG serializes img for engines that take encoded bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
