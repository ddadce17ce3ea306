package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		if req.Prompt == "fail" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4, float64(len(req.Prompt))}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 3, time.Second)
	assert.Equal(t, "ollama/nomic-embed-text", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())

	out, err := e.EmbedBatch(context.Background(), []string{"a", "abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 4, 1}, {3, 4, 3}}, out)

	_, err = e.Embed(context.Background(), "fail")
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusServiceUnavailable, status.StatusCode)
	assert.True(t, transient(err))
}

func TestOllamaEmbedder_WrappedByEmbedder(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{0, 2}})
	}))
	defer srv.Close()

	e := NewEmbedder(NewOllamaEmbedder(srv.URL, "m", 0, time.Second), WithRetry(2, time.Millisecond))
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, e.Dimensions())
}

func TestOllamaEmbedder_RateLimitsEveryRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{1, 0}})
	}))
	defer srv.Close()

	e := NewEmbedder(NewOllamaEmbedder(srv.URL, "m", 0, time.Second),
		WithBatchSize(16), WithRateLimit(10, 1), WithRetry(0, time.Millisecond))

	start := time.Now()
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, int32(4), hits.Load(), "one request per text")
	// burst of one at 10/s: requests 2 to 4 wait ~100ms each
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Input[0] == "boom" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
			return
		}

		// answer out of order to check index handling
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "text-embedding-3-small", 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimensions())
	assert.Equal(t, "openai/text-embedding-3-small", e.ModelName())

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, out)

	_, err = e.Embed(context.Background(), "boom")
	require.Error(t, err)
	assert.True(t, transient(err))
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder("", "", "text-embedding-3-small", 0, 0)
	assert.Error(t, err)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("RAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RAG_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := NewRedisCache(ctx, addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	key := CacheKey("test", fmt.Sprintf("redis-%d", time.Now().UnixNano()))
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []float32{0.5, -0.25}))
	v, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, -0.25}, v)
}
