// Package service reconciles the vector store with the documents offered by
// a source: new and modified documents are read, chunked, embedded and
// committed, removed ones are dropped, unchanged ones are left alone.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pdfrag/config"
	"pdfrag/loader/internal"
	"pdfrag/loader/source"
	"pdfrag/model"
	"pdfrag/store"
	"pdfrag/types"
)

const DefaultWorkers = 4

type Service struct {
	logger     *slog.Logger
	store      store.DBStorer
	embedder   model.EmbedderInterface
	readers    internal.Readers
	chunker    *internal.Chunker
	workers    int
	docTimeout time.Duration
	strip      bool
	now        func() time.Time
	locks      *docLocks
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithReaders(r internal.Readers) Option {
	return func(s *Service) {
		if len(r) > 0 {
			s.readers = r
		}
	}
}

func WithChunker(c *internal.Chunker) Option {
	return func(s *Service) {
		if c != nil {
			s.chunker = c
		}
	}
}

// WithWorkers bounds how many documents are processed at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithDocumentTimeout aborts a single document that takes longer than d.
// Zero disables the limit.
func WithDocumentTimeout(d time.Duration) Option {
	return func(s *Service) { s.docTimeout = d }
}

func WithStripRepeatedLines(on bool) Option {
	return func(s *Service) { s.strip = on }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(storer store.DBStorer, embedder model.EmbedderInterface, opts ...Option) *Service {
	s := &Service{
		logger:   slog.Default(),
		store:    storer,
		embedder: embedder,
		readers:  internal.DefaultReaders(),
		chunker:  internal.NewChunker(internal.ChunkPolicy{}),
		workers:  DefaultWorkers,
		now:      time.Now,
		locks:    newDocLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ingest")
	return s
}

// NewFromConfig wires a Service from the chunking and ingest settings.
func NewFromConfig(storer store.DBStorer, embedder model.EmbedderInterface, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	unit := internal.Unit(cfg.Chunking.Unit)
	length, err := internal.LengthFor(unit, cfg.Chunking.Encoding)
	if err != nil {
		return nil, err
	}
	chunker := internal.NewChunker(internal.ChunkPolicy{
		MaxSize: cfg.Chunking.MaxSize,
		Overlap: cfg.Chunking.Overlap,
		Unit:    unit,
	}, internal.WithLengthFunc(length))

	return New(storer, embedder,
		WithLogger(logger),
		WithChunker(chunker),
		WithWorkers(cfg.Ingest.Workers),
		WithDocumentTimeout(cfg.Ingest.DocumentTimeout),
		WithStripRepeatedLines(cfg.Chunking.StripRepeatedLines),
	), nil
}

// Failure records a document that could not be brought up to date.
type Failure struct {
	Path string
	Err  error
}

// Report summarises one ingestion run.
type Report struct {
	SourceID  string
	Added     int
	Updated   int
	Unchanged int
	Deleted   int

	ChunksEmbedded int
	ChunksReused   int
	ChunksDeleted  int

	Failures []Failure
	Duration time.Duration
}

func (r *Report) Failed() int { return len(r.Failures) }

// Writes counts the documents whose stored state changed.
func (r *Report) Writes() int { return r.Added + r.Updated + r.Deleted }

func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", r.SourceID),
		slog.Int("added", r.Added),
		slog.Int("updated", r.Updated),
		slog.Int("unchanged", r.Unchanged),
		slog.Int("deleted", r.Deleted),
		slog.Int("failed", r.Failed()),
		slog.Int("chunks_embedded", r.ChunksEmbedded),
		slog.Int("chunks_reused", r.ChunksReused),
		slog.Duration("took", r.Duration),
	)
}

func (r *Report) record(res result, err error, path string) {
	if err != nil {
		r.Failures = append(r.Failures, Failure{Path: path, Err: err})
		return
	}
	switch res.outcome {
	case outcomeAdded:
		r.Added++
	case outcomeUpdated:
		r.Updated++
	case outcomeDeleted:
		r.Deleted++
	default:
		r.Unchanged++
	}
	r.ChunksEmbedded += res.embedded
	r.ChunksReused += res.reused
	r.ChunksDeleted += res.deleted
}

// Ingest brings the store in line with src. Failing to enumerate either the
// store or the source aborts the run; failures of single documents are
// collected in the report. When ctx is cancelled no further documents are
// started and ctx's error is returned along with the partial report.
func (s *Service) Ingest(ctx context.Context, src source.Source) (*Report, error) {
	start := time.Now()
	sourceID := src.ID()
	report := &Report{SourceID: sourceID}

	known, err := s.store.ListDocuments(ctx, sourceID)
	if err != nil {
		var readErr *types.StoreReadError
		if !errors.As(err, &readErr) {
			err = &types.StoreReadError{Op: "list documents", Err: err}
		}
		return nil, err
	}

	entries, err := src.List(ctx)
	if err != nil {
		var srcErr *types.SourceError
		if !errors.As(err, &srcErr) {
			err = &types.SourceError{SourceID: sourceID, Op: "list", Err: err}
		}
		return nil, err
	}

	plan := Plan(sourceID, known, entries)
	s.logger.Debug("ingest planned", "source", sourceID, "known", len(known), "entries", len(entries))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)

	for _, item := range plan {
		if item.Action == Unchanged {
			report.Unchanged++
			continue
		}
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			// g.Go may have waited for a free worker
			if ctx.Err() != nil {
				return nil
			}
			var (
				res result
				err error
			)
			if item.Action == Deleted {
				res, err = s.remove(ctx, item)
			} else {
				res, err = s.process(ctx, src, item)
			}
			if err != nil {
				s.logger.Error("document failed", "source", sourceID, "path", item.Path, "err", err)
			}

			mu.Lock()
			report.record(res, err, item.Path)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingest %s: %w", sourceID, err)
	}
	s.logger.Info("ingest finished", "report", report)
	return report, nil
}
