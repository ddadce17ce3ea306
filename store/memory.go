package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"pdfrag/types"
)

// MemoryStore keeps everything in process memory. Useful for tests and
// one-shot CLI runs.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[uuid.UUID]types.IngestedDocument
	chunks map[uuid.UUID]types.IngestedChunk
	byDoc  map[uuid.UUID]map[uuid.UUID]struct{}
	stats  Stats
}

// Stats counts mutations applied to a MemoryStore.
type Stats struct {
	Commits       int
	ChunkUpserts  int
	ChunkDeletes  int
	DocumentDrops int
}

// Writes is the total number of write operations.
func (s Stats) Writes() int {
	return s.Commits + s.ChunkUpserts + s.ChunkDeletes + s.DocumentDrops
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[uuid.UUID]types.IngestedDocument),
		chunks: make(map[uuid.UUID]types.IngestedChunk),
		byDoc:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (m *MemoryStore) Init(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Stats returns a snapshot of the write counters.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *MemoryStore) ListDocuments(_ context.Context, sourceID string) ([]types.IngestedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.IngestedDocument
	for _, d := range m.docs {
		if sourceID == "" || d.SourceID == sourceID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryStore) GetDocumentByID(_ context.Context, id uuid.UUID) (*types.IngestedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) ListChunks(_ context.Context, docID uuid.UUID) ([]types.IngestedChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.IngestedChunk, 0, len(m.byDoc[docID]))
	for id := range m.byDoc[docID] {
		c := m.chunks[id]
		c.Embedding = append([]float32(nil), c.Embedding...)
		out = append(out, c)
	}
	sortChunks(out)
	return out, nil
}

func (m *MemoryStore) CommitDocument(_ context.Context, c DocumentCommit) error {
	docID := c.Document.ID
	for _, ch := range c.Upsert {
		if ch.DocumentID != docID {
			return &types.StoreWriteError{Op: "commit", Err: fmt.Errorf("chunk %s belongs to document %s, not %s", ch.ID, ch.DocumentID, docID)}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.byDoc[docID]
	if owned == nil {
		owned = make(map[uuid.UUID]struct{})
		m.byDoc[docID] = owned
	}

	for _, id := range c.Delete {
		if _, ok := owned[id]; !ok {
			continue
		}
		delete(owned, id)
		delete(m.chunks, id)
		m.stats.ChunkDeletes++
	}
	for _, ch := range c.Upsert {
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		m.chunks[ch.ID] = ch
		owned[ch.ID] = struct{}{}
		m.stats.ChunkUpserts++
	}
	m.docs[docID] = c.Document
	m.stats.Commits++
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return nil
	}
	for cid := range m.byDoc[id] {
		delete(m.chunks, cid)
	}
	delete(m.byDoc, id)
	delete(m.docs, id)
	m.stats.DocumentDrops++
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, vec []float32, filter SearchFilter, limit int) ([]types.SearchResult, error) {
	if len(vec) == 0 {
		return nil, &types.StoreReadError{Op: "search", Err: fmt.Errorf("empty query vector")}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	top := newRanked(limit)
	for docID, ids := range m.byDoc {
		doc, ok := m.docs[docID]
		if !ok || !filter.match(doc.SourceID, docID) {
			continue
		}
		for id := range ids {
			ch := m.chunks[id]
			if len(ch.Embedding) != len(vec) {
				continue
			}
			top.offer(newResult(doc, ch, types.Cosine(vec, ch.Embedding)))
		}
	}
	return top.results(), nil
}

func newResult(doc types.IngestedDocument, ch types.IngestedChunk, score float64) types.SearchResult {
	return types.SearchResult{
		ChunkID:    ch.ID,
		DocumentID: doc.ID,
		SourceID:   doc.SourceID,
		Path:       doc.Path,
		Title:      doc.Title,
		Page:       ch.Page,
		Index:      ch.Index,
		Text:       ch.Text,
		Score:      score,
	}
}

func sortChunks(chunks []types.IngestedChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Page != chunks[j].Page {
			return chunks[i].Page < chunks[j].Page
		}
		return chunks[i].Index < chunks[j].Index
	})
}
