// Package search answers semantic queries against the ingested chunks.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"pdfrag/config"
	"pdfrag/model"
	"pdfrag/store"
	"pdfrag/types"
)

const DefaultMaxResults = 5

type Service struct {
	logger     *slog.Logger
	store      store.DBStorer
	embedder   model.EmbedderInterface
	maxResults int
	minScore   float64
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxResults sets the result count used when a caller asks for none.
func WithMaxResults(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithMinScore drops results scoring below min.
func WithMinScore(min float64) Option {
	return func(s *Service) { s.minScore = min }
}

func New(storer store.DBStorer, embedder model.EmbedderInterface, opts ...Option) *Service {
	s := &Service{
		logger:     slog.Default(),
		store:      storer,
		embedder:   embedder,
		maxResults: DefaultMaxResults,
		minScore:   -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "search")
	return s
}

func NewFromConfig(storer store.DBStorer, embedder model.EmbedderInterface, cfg config.SearchConfig, logger *slog.Logger) *Service {
	opts := []Option{WithLogger(logger), WithMaxResults(cfg.MaxResults)}
	if cfg.MinScore != nil {
		opts = append(opts, WithMinScore(*cfg.MinScore))
	}
	return New(storer, embedder, opts...)
}

// Search embeds query and returns at most maxResults chunks ordered by
// descending cosine similarity. An empty store yields an empty slice.
func (s *Service) Search(ctx context.Context, query string, filter store.SearchFilter, maxResults int) ([]types.SearchResult, error) {
	return s.search(ctx, query, filter, maxResults, s.minScore)
}

// Query runs a search described by request parameters. Without a MinScore
// the service default applies.
func (s *Service) Query(ctx context.Context, params types.SearchParams) ([]types.SearchResult, error) {
	filter := store.SearchFilter{SourceID: params.SourceID}
	if params.DocumentID != "" {
		id, err := uuid.Parse(params.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("invalid doc_id %q: %w", params.DocumentID, err)
		}
		filter.DocumentID = id
	}

	minScore := s.minScore
	if params.MinScore != nil {
		minScore = *params.MinScore
	}
	return s.search(ctx, params.Query, filter, params.MaxResults, minScore)
}

func (s *Service) search(ctx context.Context, query string, filter store.SearchFilter, maxResults int, minScore float64) ([]types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || types.IsEmbeddingUnavailable(err) {
			return nil, err
		}
		return nil, &types.EmbeddingUnavailableError{Model: s.embedder.ModelName(), Err: err}
	}

	found, err := s.store.Search(ctx, vec, filter, maxResults)
	if err != nil {
		var readErr *types.StoreReadError
		if !errors.As(err, &readErr) {
			err = &types.StoreReadError{Op: "search", Err: err}
		}
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(found))
	for _, r := range found {
		if r.Score < minScore {
			s.logger.Debug("result below threshold", "chunk_id", r.ChunkID, "score", r.Score, "min_score", minScore)
			continue
		}
		results = append(results, r)
	}
	s.logger.Debug("search done", "results", len(results), "candidates", len(found))
	return results, nil
}
