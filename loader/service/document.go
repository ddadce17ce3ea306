package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pdfrag/loader/internal"
	"pdfrag/loader/source"
	"pdfrag/store"
	"pdfrag/types"
)

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeAdded
	outcomeUpdated
	outcomeDeleted
)

type result struct {
	outcome  outcome
	embedded int
	reused   int
	deleted  int
}

// process re-reads a changed document and commits its new chunk set.
func (s *Service) process(ctx context.Context, src source.Source, item PlanItem) (result, error) {
	unlock := s.locks.lock(item.ID)
	defer unlock()

	if s.docTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.docTimeout)
		defer cancel()
	}

	// another run may have committed this version while we waited for the lock
	current, err := s.store.GetDocumentByID(ctx, item.ID)
	switch {
	case err == nil:
		if current.Version == item.Entry.Version {
			return result{outcome: outcomeUnchanged}, nil
		}
	case errors.Is(err, types.ErrNotFound):
		current = nil
	default:
		return result{}, readError("get document", err)
	}

	pages, err := s.read(ctx, src, item.Path)
	if err != nil {
		return result{}, err
	}
	fresh := s.split(item.ID, pages)

	var stored []types.IngestedChunk
	if current != nil {
		if stored, err = s.store.ListChunks(ctx, item.ID); err != nil {
			return result{}, readError("list chunks", err)
		}
	}
	diff := diffChunks(stored, fresh, s.embedder.Dimensions())

	if len(diff.embed) > 0 {
		texts := make([]string, len(diff.embed))
		for i, ch := range diff.embed {
			texts[i] = ch.Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return result{}, s.embedError(err)
		}
		if len(vecs) != len(texts) {
			return result{}, s.embedError(fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(texts)))
		}
		for i := range diff.embed {
			diff.embed[i].Embedding = vecs[i]
		}
	}

	commit := store.DocumentCommit{
		Document: types.IngestedDocument{
			ID:         item.ID,
			SourceID:   src.ID(),
			Path:       item.Path,
			Title:      types.GenerateTitle(item.Path),
			Version:    item.Entry.Version,
			IngestedAt: s.now().UTC(),
		},
		Upsert: diff.embed,
		Delete: diff.delete,
	}
	// the commit lands as a whole even if the run is being cancelled
	if err := s.store.CommitDocument(context.WithoutCancel(ctx), commit); err != nil {
		return result{}, writeError("commit", err)
	}

	res := result{
		outcome:  outcomeUpdated,
		embedded: len(diff.embed),
		reused:   len(diff.keep),
		deleted:  len(diff.delete),
	}
	if current == nil {
		res.outcome = outcomeAdded
	}
	s.logger.Debug("document committed",
		"path", item.Path, "doc_id", item.ID, "version", item.Entry.Version,
		"pages", len(pages), "chunks", len(fresh), "embedded", res.embedded, "reused", res.reused)
	return res, nil
}

// remove drops a document that disappeared from its source.
func (s *Service) remove(ctx context.Context, item PlanItem) (result, error) {
	unlock := s.locks.lock(item.ID)
	defer unlock()

	if err := s.store.DeleteDocument(context.WithoutCancel(ctx), item.ID); err != nil {
		return result{}, writeError("delete document", err)
	}
	s.logger.Debug("document deleted", "path", item.Path, "doc_id", item.ID)
	return result{outcome: outcomeDeleted}, nil
}

func (s *Service) read(ctx context.Context, src source.Source, path string) ([]internal.Page, error) {
	obj, err := src.Open(ctx, path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	defer obj.Close()

	seq, err := s.readers.Read(ctx, path, obj, obj.Size())
	if err != nil {
		return nil, unreadable(path, err)
	}
	pages, err := internal.CollectPages(seq)
	if err != nil {
		return nil, unreadable(path, err)
	}
	if s.strip {
		pages = internal.StripRepeatedLines(pages)
	}
	return pages, nil
}

// split chunks every page on its own so that edits to one page leave the
// chunk ids of other pages untouched.
func (s *Service) split(docID uuid.UUID, pages []internal.Page) []types.IngestedChunk {
	var chunks []types.IngestedChunk
	for _, page := range pages {
		for i, text := range s.chunker.Split(page.Text) {
			chunks = append(chunks, types.IngestedChunk{
				ID:         types.ChunkID(docID, page.Number, i),
				DocumentID: docID,
				Page:       page.Number,
				Index:      i,
				Text:       text,
			})
		}
	}
	return chunks
}

func unreadable(path string, err error) error {
	if isContextErr(err) {
		return err
	}
	var target *types.UnreadableSourceError
	if errors.As(err, &target) {
		return err
	}
	return &types.UnreadableSourceError{Path: path, Err: err}
}

func (s *Service) embedError(err error) error {
	if isContextErr(err) || types.IsEmbeddingUnavailable(err) {
		return err
	}
	return &types.EmbeddingUnavailableError{Model: s.embedder.ModelName(), Err: err}
}

func readError(op string, err error) error {
	var target *types.StoreReadError
	if isContextErr(err) || errors.As(err, &target) {
		return err
	}
	return &types.StoreReadError{Op: op, Err: err}
}

func writeError(op string, err error) error {
	var target *types.StoreWriteError
	if errors.As(err, &target) {
		return err
	}
	return &types.StoreWriteError{Op: op, Err: err}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// docLocks hands out one mutex per document so that concurrent runs never
// write the same document at once. Entries are dropped when unused.
type docLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*docLock
}

type docLock struct {
	sync.Mutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[uuid.UUID]*docLock)}
}

func (l *docLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	dl, ok := l.locks[id]
	if !ok {
		dl = &docLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.Lock()
	return func() {
		dl.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
