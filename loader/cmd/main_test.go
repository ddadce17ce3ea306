package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/types"
)

type fixture struct {
	dir        string
	configPath string
	status     int
}

// newFixture writes a config pointing at a sqlite store in a temp dir and a
// fake Ollama endpoint that maps texts mentioning "invoice" to one axis.
func newFixture(t *testing.T, sourceKind string) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir(), status: http.StatusOK}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.status != http.StatusOK {
			http.Error(w, "model not found", f.status)
			return
		}
		vec := []float64{0, 1, 0}
		if strings.Contains(req.Prompt, "invoice") {
			vec = []float64{1, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)

	docs := filepath.Join(f.dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))

	cfg := fmt.Sprintf(`log:
  level: error
store:
  driver: sqlite
  sqlite_path: %s
  dimensions: 3
embedding:
  provider: ollama
  url: %s
  model: test-embed
  max_retries: 0
  cache:
    driver: none
source:
  kind: %s
  id: docs
  dir: %s
  patterns: ["*.txt"]
  s3:
    bucket: docs-bucket
`, filepath.Join(f.dir, "store.db"), srv.URL, sourceKind, docs)

	f.configPath = filepath.Join(f.dir, "config.yaml")
	require.NoError(t, os.WriteFile(f.configPath, []byte(cfg), 0o644))
	return f
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "docs", name), []byte(content), 0o644))
}

// run executes the root command with args and returns everything it printed.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jsonOutput = false
	searchLimit, searchSource, searchDoc = 0, "", ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config", f.configPath}, args...))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["ingest"])
	assert.True(t, names["watch"])
	assert.True(t, names["search"])

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestSearchCmd_HasLimitFlag(t *testing.T) {
	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "0", flag.DefValue)
}

func TestIngestThenSearch(t *testing.T) {
	f := newFixture(t, "dir")
	f.write(t, "billing.txt", "How to file an invoice.")
	f.write(t, "travel.txt", "Booking trips and hotels.")

	out, err := f.run(t, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "Source docs: 2 added, 0 updated, 0 unchanged, 0 deleted")
	assert.Contains(t, out, "Chunks: 2 embedded")

	out, err = f.run(t, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "0 added, 0 updated, 2 unchanged, 0 deleted")

	out, err = f.run(t, "search", "--json", "-n", "1", "invoice")
	require.NoError(t, err)
	var results []types.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "billing.txt", results[0].Path)
	assert.Equal(t, "How to file an invoice.", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	travel := types.DocumentID("docs", "travel.txt")
	out, err = f.run(t, "search", "--doc", travel.String(), "invoice")
	require.NoError(t, err)
	assert.Contains(t, out, "Results: 1")
	assert.Contains(t, out, "travel.txt")
	assert.NotContains(t, out, "billing.txt")

	out, err = f.run(t, "search", "--source", "other", "invoice")
	require.NoError(t, err)
	assert.Contains(t, out, "No results.")
}

func TestIngest_DeletesRemovedDocuments(t *testing.T) {
	f := newFixture(t, "dir")
	f.write(t, "a.txt", "Alpha.")
	f.write(t, "b.txt", "Beta.")

	_, err := f.run(t, "ingest")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "docs", "b.txt")))
	out, err := f.run(t, "ingest", "--json")
	require.NoError(t, err)

	var report struct {
		Unchanged int `json:"unchanged"`
		Deleted   int `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Deleted)
}

func TestIngest_FailuresExitNonZero(t *testing.T) {
	f := newFixture(t, "dir")
	f.status = http.StatusNotFound
	f.write(t, "billing.txt", "How to file an invoice.")

	out, err := f.run(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 document(s) could not be ingested")
	assert.Contains(t, out, "failed billing.txt")
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	f := newFixture(t, "dir")

	_, err := f.run(t, "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestSearchCmd_RejectsInvalidDocID(t *testing.T) {
	f := newFixture(t, "dir")

	_, err := f.run(t, "search", "--doc", "not-a-uuid", "invoice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid document id")
}

func TestSearchCmd_EmptyQuery(t *testing.T) {
	f := newFixture(t, "dir")

	_, err := f.run(t, "search", "   ")
	require.ErrorIs(t, err, types.ErrEmptyQuery)
}

func TestWatchCmd_RequiresDirectorySource(t *testing.T) {
	f := newFixture(t, "s3")

	_, err := f.run(t, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory source")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n  b\tc", 10))
	assert.Equal(t, "abc...", snippet("abcdef", 3))
}
