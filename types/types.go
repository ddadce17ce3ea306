package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IngestedDocument is the stored record for one source file.
type IngestedDocument struct {
	ID         uuid.UUID `json:"id"`
	SourceID   string    `json:"source_id"` // origin of the document (directory, bucket, ...)
	Path       string    `json:"path"`      // path relative to the source root
	Title      string    `json:"title"`
	Version    string    `json:"version"`     // content fingerprint reported by the source
	IngestedAt time.Time `json:"ingested_at"` // last successful commit
}

// IngestedChunk is one retrievable passage of a document.
type IngestedChunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"doc_id"`
	Page       int       `json:"page"`  // 1-based page number
	Index      int       `json:"index"` // position of the chunk within its page
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// SearchResult is a single hit returned by semantic search.
type SearchResult struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"doc_id"`
	SourceID   string    `json:"source_id"`
	Path       string    `json:"path"`
	Title      string    `json:"title"`
	Page       int       `json:"page"`
	Index      int       `json:"index"`
	Text       string    `json:"chunk_text"`
	Score      float64   `json:"score"`
}

// documentNamespace prefixes the names hashed into document ids so that
// ids from different sources never collide.
const documentNamespace = "rag:"

// DocumentID derives the stable id of a document from its source and path.
func DocumentID(sourceID, path string) uuid.UUID {
	name := documentNamespace + sourceID + ":" + filepath.ToSlash(path)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}

// ChunkID derives the stable id of a chunk from its document, page and position.
func ChunkID(docID uuid.UUID, page, index int) uuid.UUID {
	return uuid.NewSHA1(docID, []byte(fmt.Sprintf("page:%d/chunk:%d", page, index)))
}

// GenerateTitle turns a file name into a readable title.
func GenerateTitle(path string) string {
	fileName := filepath.Base(filepath.FromSlash(path))
	fileName = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	fileName = strings.ReplaceAll(fileName, "_", " ")
	fileName = strings.ReplaceAll(fileName, "-", " ")
	return strings.TrimSpace(fileName)
}
