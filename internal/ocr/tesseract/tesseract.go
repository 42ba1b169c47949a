// Package tesseract reads plate text with a local Tesseract install.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/ocr"
)

// Options configure the engine.
type Options struct {
	Language    string
	PageSegMode int
	Whitelist   string
}

// Reader is an ocr.Reader. A gosseract client holds one image at a time,
// so calls are serialized.
type Reader struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New builds a client configured with opts.
func New(opts Options) (*Reader, error) {
	client := gosseract.NewClient()

	lang := opts.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract language %q: %w", lang, err)
	}

	psm := gosseract.PSM_SINGLE_WORD
	if opts.PageSegMode > 0 {
		psm = gosseract.PageSegMode(opts.PageSegMode)
	}
	if err := client.SetPageSegMode(psm); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract psm %d: %w", psm, err)
	}

	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract whitelist: %w", err)
		}
	}
	return &Reader{client: client}, nil
}

func (r *Reader) ReadText(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := ocr.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encode plate: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("tesseract set image: %w", err)
	}
	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ocr.ErrNoText
	}
	return text, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}

var _ ocr.Reader = (*Reader)(nil)
