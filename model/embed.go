package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"pdfrag/config"
	"pdfrag/types"
)

// EmbedderInterface turns text into vectors.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// Embedder wraps a provider with rate limiting, retries, caching and
// normalisation. Every error it returns for a failed call is an
// *types.EmbeddingUnavailableError, except for context cancellation.
type Embedder struct {
	provider  EmbedderInterface
	cache     EmbeddingCache
	limiter   *rate.Limiter
	backoff   func() retry.Backoff
	batchSize int
	logger    *slog.Logger

	mu   sync.Mutex
	dims int
}

type Option func(*Embedder)

func WithCache(c EmbeddingCache) Option {
	return func(e *Embedder) { e.cache = c }
}

// WithRateLimit allows rps provider requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Embedder) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry retries transient failures up to maxRetries times with Fibonacci backoff.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(e *Embedder) {
		e.backoff = func() retry.Backoff {
			return retry.WithMaxRetries(maxRetries, retry.NewFibonacci(base))
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDimensions fixes the expected vector length; vectors of another length are rejected.
func WithDimensions(n int) Option {
	return func(e *Embedder) { e.dims = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Embedder) { e.logger = l }
}

func NewEmbedder(provider EmbedderInterface, opts ...Option) *Embedder {
	e := &Embedder{
		provider:  provider,
		batchSize: 16,
		dims:      provider.Dimensions(),
		logger:    slog.Default(),
	}
	WithRetry(3, time.Second)(e)
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "embedder", "model", provider.ModelName())
	return e
}

// NewFromConfig builds the provider and cache described by cfg. dims is the
// vector size the store expects.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig, dims int, logger *slog.Logger) (*Embedder, error) {
	var provider EmbedderInterface
	switch cfg.Provider {
	case "openai":
		p, err := NewOpenAIEmbedder(cfg.APIKey, openAIBaseURL(cfg.URL), cfg.Model, cfg.Dimensions, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		provider = p
	case "ollama", "":
		provider = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	opts := []Option{
		WithRetry(cfg.MaxRetries, time.Second),
		WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		WithBatchSize(cfg.BatchSize),
		WithDimensions(dims),
		WithLogger(logger),
	}

	switch cfg.Cache.Driver {
	case "memory":
		opts = append(opts, WithCache(NewMemoryCache(cfg.Cache.MaxEntries)))
	case "redis":
		c, err := NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCache(c))
	}

	logger.Info("embedder configured",
		"provider", cfg.Provider, "model", cfg.Model, "cache", cfg.Cache.Driver)
	return NewEmbedder(provider, opts...), nil
}

// openAIBaseURL ignores the Ollama default so the public API is used.
func openAIBaseURL(url string) string {
	if url == DefaultOllamaURL {
		return ""
	}
	return url
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one unit-length vector per text, in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missing []int
	for i, text := range texts {
		keys[i] = CacheKey(e.provider.ModelName(), text)
		if v, ok := e.cached(ctx, keys[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += e.batchSize {
		end := min(start+e.batchSize, len(missing))
		idx := missing[start:end]

		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vecs, err := e.call(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &types.EmbeddingUnavailableError{Model: e.provider.ModelName(), Err: err}
		}

		for j, i := range idx {
			v := types.Normalize(vecs[j])
			if err := e.checkDims(len(v)); err != nil {
				return nil, &types.EmbeddingUnavailableError{Model: e.provider.ModelName(), Err: err}
			}
			out[i] = v
			if e.cache != nil {
				if err := e.cache.Set(ctx, keys[i], v); err != nil {
					e.logger.Warn("embedding cache write failed", "err", err)
				}
			}
		}
	}
	return out, nil
}

func (e *Embedder) cached(ctx context.Context, key string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	v, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("embedding cache read failed", "err", err)
		return nil, false
	}
	if ok && e.checkDims(len(v)) != nil {
		return nil, false
	}
	return v, ok
}

// NativeBatcher is implemented by providers whose EmbedBatch sends the
// whole batch in one request. Other providers are called once per text so
// that every request they make passes the rate limiter.
type NativeBatcher interface {
	NativeBatch() bool
}

func (e *Embedder) call(ctx context.Context, batch []string) ([][]float32, error) {
	if nb, ok := e.provider.(NativeBatcher); ok && nb.NativeBatch() {
		return e.request(ctx, len(batch), func(ctx context.Context) ([][]float32, error) {
			return e.provider.EmbedBatch(ctx, batch)
		})
	}

	vecs := make([][]float32, 0, len(batch))
	for _, text := range batch {
		out, err := e.request(ctx, 1, func(ctx context.Context) ([][]float32, error) {
			v, err := e.provider.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			return [][]float32{v}, nil
		})
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, out[0])
	}
	return vecs, nil
}

// request performs one rate-limited provider request expecting want
// vectors, retrying transient failures.
func (e *Embedder) request(ctx context.Context, want int, do func(context.Context) ([][]float32, error)) ([][]float32, error) {
	var vecs [][]float32
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		out, err := do(ctx)
		if err != nil {
			if transient(err) {
				e.logger.Debug("transient embedding failure, retrying", "err", err)
				return retry.RetryableError(err)
			}
			return err
		}
		if len(out) != want {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(out), want)
		}
		vecs = out
		return nil
	})
	return vecs, err
}

// checkDims pins the dimension on first use when none was configured.
func (e *Embedder) checkDims(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dims == 0 {
		e.dims = n
		return nil
	}
	if n != e.dims {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, n, e.dims)
	}
	return nil
}

func (e *Embedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

func (e *Embedder) ModelName() string { return e.provider.ModelName() }

// Close releases the cache connection, if any.
func (e *Embedder) Close() error {
	if c, ok := e.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
