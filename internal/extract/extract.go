// Package extract turns uploaded file bytes into plain text for the
// ingestion pipeline. Rich formats (PDF, office documents) are out of scope;
// the service accepts text-bearing files only and rejects everything else
// before any pipeline work happens.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/corpusworks/corpusd/internal/model"
)

// allowedSuffixes are the file extensions the plain-text extractor accepts.
var allowedSuffixes = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".log":      true,
	".csv":      true,
	".json":     true,
}

// Extractor produces plain text from an uploaded file. Implementations must
// be safe to call from multiple goroutines.
type Extractor interface {
	// Extract returns the text content of data. Unsupported or binary input
	// is a validation error; other failures are upstream errors.
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// SupportedSuffix reports whether the filename carries an extension the
// plain-text extractor accepts. Handlers use it to reject uploads before
// storing anything.
func SupportedSuffix(filename string) bool {
	return allowedSuffixes[strings.ToLower(filepath.Ext(filename))]
}

// PlainText extracts text-bearing files as-is, dropping invalid UTF-8
// sequences. It rejects PDF magic and NUL-bearing binary content.
type PlainText struct{}

// NewPlainText returns the stock extractor.
func NewPlainText() *PlainText { return &PlainText{} }

// Extract implements Extractor.
func (*PlainText) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if !SupportedSuffix(filename) {
		return "", fmt.Errorf("extract: unsupported file type %q: %w", filepath.Ext(filename), model.ErrValidation)
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("extract: PDF content is not supported: %w", model.ErrValidation)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("extract: binary content in %q: %w", filename, model.ErrValidation)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
