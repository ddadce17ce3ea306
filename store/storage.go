package store

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"pdfrag/config"
	"pdfrag/types"
)

// DBStorer persists documents and chunks and answers nearest-neighbour queries.
type DBStorer interface {
	// Init creates the schema. It is safe to call more than once.
	Init(ctx context.Context) error

	ListDocuments(ctx context.Context, sourceID string) ([]types.IngestedDocument, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.IngestedDocument, error)
	ListChunks(ctx context.Context, docID uuid.UUID) ([]types.IngestedChunk, error)

	// CommitDocument applies one document's changes atomically.
	CommitDocument(ctx context.Context, c DocumentCommit) error
	// DeleteDocument removes a document together with its chunks.
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	// Search returns up to limit chunks ordered by descending cosine similarity.
	Search(ctx context.Context, vec []float32, filter SearchFilter, limit int) ([]types.SearchResult, error)

	Close() error
}

// DocumentCommit is the unit of work for one changed document. Stale chunks
// are removed, then chunks are upserted, then the document record is written.
type DocumentCommit struct {
	Document types.IngestedDocument
	Upsert   []types.IngestedChunk
	Delete   []uuid.UUID
}

// SearchFilter restricts a search. Zero values match everything.
type SearchFilter struct {
	SourceID   string
	DocumentID uuid.UUID
}

func (f SearchFilter) match(sourceID string, docID uuid.UUID) bool {
	if f.SourceID != "" && f.SourceID != sourceID {
		return false
	}
	if f.DocumentID != uuid.Nil && f.DocumentID != docID {
		return false
	}
	return true
}

// Open creates the store selected by cfg and initialises its schema.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (DBStorer, error) {
	var (
		s   DBStorer
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.PostgresDSN, cfg.Dimensions)
	case "sqlite":
		s, err = NewSQLiteStore(cfg.SQLitePath)
	case "memory":
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("store ready", "driver", cfg.Driver)
	return s, nil
}

// ranked keeps the best k results seen so far.
type ranked struct {
	k    int
	hits []types.SearchResult
}

func newRanked(k int) *ranked {
	return &ranked{k: k, hits: make([]types.SearchResult, 0, max(0, min(k, 256)))}
}

// worse reports whether a ranks below b: lower score, then larger chunk id.
func worse(a, b types.SearchResult) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ChunkID.String() > b.ChunkID.String()
}

func (r *ranked) Len() int           { return len(r.hits) }
func (r *ranked) Less(i, j int) bool { return worse(r.hits[i], r.hits[j]) }
func (r *ranked) Swap(i, j int)      { r.hits[i], r.hits[j] = r.hits[j], r.hits[i] }
func (r *ranked) Push(x any)         { r.hits = append(r.hits, x.(types.SearchResult)) }
func (r *ranked) Pop() any {
	last := r.hits[len(r.hits)-1]
	r.hits = r.hits[:len(r.hits)-1]
	return last
}

func (r *ranked) offer(hit types.SearchResult) {
	if r.k <= 0 {
		return
	}
	if len(r.hits) < r.k {
		heap.Push(r, hit)
		return
	}
	if worse(r.hits[0], hit) {
		r.hits[0] = hit
		heap.Fix(r, 0)
	}
}

// sortResults orders hits best first, breaking score ties by chunk id.
func sortResults(hits []types.SearchResult) {
	sort.Slice(hits, func(i, j int) bool { return worse(hits[j], hits[i]) })
}

// results drains the heap best-first.
func (r *ranked) results() []types.SearchResult {
	out := make([]types.SearchResult, len(r.hits))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(r).(types.SearchResult)
	}
	return out
}
