package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyQuery is returned when a search is issued without query text.
	ErrEmptyQuery = errors.New("empty query")

	// ErrDimensionMismatch is returned when an embedding has an unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// UnreadableSourceError reports a document that could not be opened or parsed.
// The document is skipped; other documents are unaffected.
type UnreadableSourceError struct {
	Path string
	Err  error
}

func (e *UnreadableSourceError) Error() string {
	return fmt.Sprintf("unreadable source %q: %v", e.Path, e.Err)
}

func (e *UnreadableSourceError) Unwrap() error { return e.Err }

// EmbeddingUnavailableError reports that the embedding service could not produce vectors.
type EmbeddingUnavailableError struct {
	Model string
	Err   error
}

func (e *EmbeddingUnavailableError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding service unavailable: %v", e.Err)
	}
	return fmt.Sprintf("embedding service unavailable (%s): %v", e.Model, e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }

// StoreWriteError reports a failed persistence operation.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StoreReadError reports a failed read from the store.
type StoreReadError struct {
	Op  string
	Err error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("store read %s: %v", e.Op, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// SourceError reports that a source could not be enumerated or opened.
type SourceError struct {
	SourceID string
	Op       string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsEmbeddingUnavailable reports whether err carries an EmbeddingUnavailableError.
func IsEmbeddingUnavailable(err error) bool {
	var target *EmbeddingUnavailableError
	return errors.As(err, &target)
}

// IsUnreadable reports whether err carries an UnreadableSourceError.
func IsUnreadable(err error) bool {
	var target *UnreadableSourceError
	return errors.As(err, &target)
}
