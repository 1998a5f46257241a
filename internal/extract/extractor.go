// Package extract turns policy documents in various formats into plain text.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes bounds the size of a single source document.
const DefaultMaxBytes int64 = 32 << 20

// ErrTooLarge is returned for documents above the extractor's size limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// Extractor extracts plain text from document files.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes sets the per-document size limit; n <= 0 disables it.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on its extension (with leading dot).
// Unknown extensions are read as plain text. Decoder panics on malformed input become errors.
func (e *Extractor) ExtractBytes(content []byte, ext string) (text string, err error) {
	ext = strings.ToLower(ext)
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("decode %s: malformed document: %v", strings.TrimPrefix(ext, "."), r)
		}
	}()
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractOpenDocument(content, ext)
	case ".xlsx":
		return extractExcel(content)
	case ".md", ".markdown":
		return extractMarkdown(content), nil
	default:
		return decodeText(content), nil
	}
}
