// Package ocr reads short single-line labels (hero names) from cropped
// screen regions.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"unicode"

	"github.com/otiai10/gosseract/v2"
)

// ErrDisabled is returned by Nop.
var ErrDisabled = errors.New("ocr: disabled")

// Recognizer turns a small image holding one line of latin text into text.
// An empty string means nothing readable was found.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Config holds Tesseract settings.
type Config struct {
	Language  string
	Whitelist string
}

// Tesseract is a Recognizer backed by libtesseract through gosseract.
//
// Thread Safety:
//   - A tesseract handle is not reentrant; calls are serialised.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a client configured for single-line recognition.
func NewTesseract(cfg Config) (*Tesseract, error) {
	client := gosseract.NewClient()
	if cfg.Language != "" {
		if err := client.SetLanguage(cfg.Language); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting language: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting whitelist: %w", err)
		}
	}
	return &Tesseract{client: client}, nil
}

// Recognize implements Recognizer.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding region: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("loading region: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognising text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases the tesseract handle.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

// Nop is used when OCR is disabled; every call fails with ErrDisabled.
type Nop struct{}

// Recognize implements Recognizer.
func (Nop) Recognize(context.Context, image.Image) (string, error) {
	return "", ErrDisabled
}

// Normalize turns raw OCR output into a template key: letters only,
// words joined by underscores, lower case. "Fire  Mage\n" becomes
// "fire_mage". Returns "" when nothing usable remains.
func Normalize(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	key := strings.Join(words, "_")
	if len(key) < 2 {
		return ""
	}
	return key
}
