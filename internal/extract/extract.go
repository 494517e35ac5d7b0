package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
)

// ErrTimeout reports that text extraction exceeded its deadline. Malformed or
// image-heavy PDFs can hang the renderer, so extraction is never run unbounded.
var ErrTimeout = errors.New("text extraction timed out")

// Extractor pulls plain text out of a stored document file.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// PDFExtractor extracts text from PDFs via mupdf, bounded by a timeout.
type PDFExtractor struct {
	Timeout time.Duration
}

// NewPDFExtractor creates an extractor with the given per-document timeout.
func NewPDFExtractor(timeout time.Duration) *PDFExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PDFExtractor{Timeout: timeout}
}

// ExtractText reads every page of the PDF at path and joins page texts with
// blank lines. Returns ErrTimeout (wrapped with the configured duration) if
// extraction does not finish in time.
func (e *PDFExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	return runWithTimeout(ctx, e.Timeout, func() (string, error) {
		return extractAllPages(path)
	})
}

func extractAllPages(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var parts []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err == nil && strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

type extractResult struct {
	text string
	err  error
}

// runWithTimeout runs fn on its own goroutine and abandons it past the
// deadline. The page renderer is CPU-bound C code and cannot be cancelled,
// so the goroutine is left to finish on its own.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func() (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan extractResult, 1)
	go func() {
		text, err := fn()
		done <- extractResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s; the document may be image-based or structurally complex", ErrTimeout, timeout)
		}
		return "", ctx.Err()
	}
}
