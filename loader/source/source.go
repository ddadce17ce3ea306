// Package source enumerates the documents to ingest and opens them for reading.
package source

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Entry describes one document offered by a source.
type Entry struct {
	Path    string // slash-separated, relative to the source root
	Version string // changes whenever the content changes
	Size    int64
	ModTime time.Time
}

// Object is an opened document.
type Object interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Source lists documents and opens them by path.
type Source interface {
	// ID namespaces document ids; it must be stable across runs.
	ID() string
	List(ctx context.Context) ([]Entry, error)
	Open(ctx context.Context, path string) (Object, error)
}

// DefaultPatterns selects PDF files.
var DefaultPatterns = []string{"*.pdf"}

// Matches reports whether the base name of path matches one of patterns,
// ignoring case.
func Matches(path string, patterns []string) bool {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	name := strings.ToLower(filepath.Base(filepath.FromSlash(path)))
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), name); ok {
			return true
		}
	}
	return false
}

// memObject serves a fully downloaded document.
type memObject struct {
	*bytes.Reader
}

func (memObject) Close() error { return nil }
