package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"pdfrag/types"
)

// Page is the extracted text of one page of a document.
type Page struct {
	Number int // 1-based
	Text   string
}

// DocumentReader turns raw document bytes into a lazy sequence of pages.
// The returned sequence is single-pass.
type DocumentReader interface {
	Read(ctx context.Context, name string, r io.ReaderAt, size int64) (iter.Seq2[Page, error], error)
}

// Readers selects a DocumentReader by file extension.
type Readers map[string]DocumentReader

// DefaultReaders handles PDFs plus plain-text and markdown files.
func DefaultReaders() Readers {
	text := NewTextReader()
	return Readers{
		".pdf": NewPDFReader(),
		".txt": text,
		".md":  text,
	}
}

var errUnsupportedFormat = errors.New("unsupported document format")

// Read dispatches to the reader registered for the extension of name.
func (rs Readers) Read(ctx context.Context, name string, r io.ReaderAt, size int64) (iter.Seq2[Page, error], error) {
	ext := strings.ToLower(filepath.Ext(name))
	reader, ok := rs[ext]
	if !ok {
		return nil, &types.UnreadableSourceError{Path: name, Err: fmt.Errorf("%w: %q", errUnsupportedFormat, ext)}
	}
	return reader.Read(ctx, name, r, size)
}

// Supports reports whether a reader is registered for the extension of name.
func (rs Readers) Supports(name string) bool {
	_, ok := rs[strings.ToLower(filepath.Ext(name))]
	return ok
}

// CollectPages drains a page sequence, keeping pages that contain text.
func CollectPages(seq iter.Seq2[Page, error]) ([]Page, error) {
	var pages []Page
	for page, err := range seq {
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}
