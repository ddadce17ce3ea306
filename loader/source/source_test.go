package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/types"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func TestDirSource_ListRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "A")
	writeFile(t, root, "nested/deeper/B.PDF", "BB")
	writeFile(t, root, "notes.txt", "ignored")
	writeFile(t, root, ".hidden.pdf", "ignored")
	writeFile(t, root, ".cache/c.pdf", "ignored")

	src, err := NewDirSource(root)
	require.NoError(t, err)

	entries, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.pdf", entries[0].Path)
	assert.Equal(t, "nested/deeper/B.PDF", entries[1].Path)
	assert.Equal(t, int64(2), entries[1].Size)
	assert.NotEmpty(t, entries[0].Version)
}

func TestDirSource_IDAndPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "# hi")

	src, err := NewDirSource(root, WithID("handbook"), WithPatterns("*.md", "*.txt"))
	require.NoError(t, err)
	assert.Equal(t, "handbook", src.ID())

	entries, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	def, err := NewDirSource(root)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(def.ID(), "dir:"))
}

func TestDirSource_VersionTracksContent(t *testing.T) {
	for _, fp := range []Fingerprint{FingerprintMtime, FingerprintSHA256} {
		t.Run(string(fp), func(t *testing.T) {
			root := t.TempDir()
			path := writeFile(t, root, "a.pdf", "one")

			src, err := NewDirSource(root, WithFingerprint(fp))
			require.NoError(t, err)

			before, err := src.List(context.Background())
			require.NoError(t, err)
			again, err := src.List(context.Background())
			require.NoError(t, err)
			assert.Equal(t, before[0].Version, again[0].Version, "stable without changes")

			require.NoError(t, os.WriteFile(path, []byte("two!"), 0o644))
			later := time.Now().Add(time.Hour)
			require.NoError(t, os.Chtimes(path, later, later))

			after, err := src.List(context.Background())
			require.NoError(t, err)
			assert.NotEqual(t, before[0].Version, after[0].Version)
		})
	}
}

func TestDirSource_SHA256IgnoresTouch(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.pdf", "same")

	src, err := NewDirSource(root, WithFingerprint(FingerprintSHA256))
	require.NoError(t, err)

	before, err := src.List(context.Background())
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	after, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before[0].Version, after[0].Version)
	assert.True(t, strings.HasPrefix(after[0].Version, "sha256:"))
}

func TestDirSource_MissingRoot(t *testing.T) {
	src, err := NewDirSource(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)

	_, err = src.List(context.Background())
	var srcErr *types.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "list", srcErr.Op)
}

func TestDirSource_OpenAndSave(t *testing.T) {
	root := t.TempDir()
	src, err := NewDirSource(root)
	require.NoError(t, err)

	full, err := src.Save("uploads/new.pdf", strings.NewReader("hello pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "uploads", "new.pdf"), full)

	obj, err := src.Open(context.Background(), "uploads/new.pdf")
	require.NoError(t, err)
	defer obj.Close()

	assert.Equal(t, int64(9), obj.Size())
	buf := make([]byte, 3)
	_, err = obj.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(buf))

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDirSource_RejectsEscapingPaths(t *testing.T) {
	src, err := NewDirSource(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"../secret.pdf", "a/../../secret.pdf"} {
		_, err := src.Open(context.Background(), p)
		assert.Error(t, err, p)
		_, err = src.Save(p, strings.NewReader("x"))
		assert.Error(t, err, p)
	}
}

func TestResolve(t *testing.T) {
	base := t.TempDir()
	runtime := filepath.Join(base, "home", "Content")
	packaged := filepath.Join(base, "wwwroot", "Data")
	require.NoError(t, os.MkdirAll(runtime, 0o755))
	writeFile(t, packaged, "seed.pdf", "seed")

	// empty runtime folder falls back to the packaged one
	assert.Equal(t, packaged, Resolve(runtime, packaged, nil))

	writeFile(t, runtime, "sub/dropped.pdf", "new")
	assert.Equal(t, runtime, Resolve(runtime, packaged, nil))

	// neither exists
	missing := filepath.Join(base, "missing")
	assert.Equal(t, missing, Resolve(missing, filepath.Join(base, "also-missing"), nil))
	assert.Equal(t, packaged, Resolve("", packaged, nil))
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("dir/Report.PDF", nil))
	assert.False(t, Matches("dir/report.pdf.bak", nil))
	assert.True(t, Matches("a.md", []string{"*.txt", "*.md"}))
}

// fakeS3 serves objects from a map and pages listings two at a time.
type fakeS3 struct {
	objects map[string]string
	getErr  error
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		body := f.objects[k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			ETag:         aws.String(`"etag-` + body + `"`),
			Size:         aws.Int64(int64(len(body))),
			LastModified: aws.Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"docs/a.pdf":        "aaa",
		"docs/b.pdf":        "bbbb",
		"docs/sub/c.pdf":    "c",
		"docs/readme.txt":   "skip",
		"docs/folder/":      "",
		"other/outside.pdf": "x",
	}}
	src := NewS3Source(client, "bucket", "docs/")
	assert.Equal(t, "s3:bucket/docs", src.ID())

	entries, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.pdf", entries[0].Path)
	assert.Equal(t, "etag-aaa", entries[0].Version)
	assert.Equal(t, int64(4), entries[1].Size)
	assert.Equal(t, "sub/c.pdf", entries[2].Path)

	obj, err := src.Open(context.Background(), "sub/c.pdf")
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(1), obj.Size())

	client.getErr = errors.New("access denied")
	_, err = src.Open(context.Background(), "a.pdf")
	assert.ErrorContains(t, err, "access denied")
}

func TestS3Source_PrefixIsAFolder(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"docs/a.pdf":         "aaa",
		"docs-archive/x.pdf": "xxx",
		"docsx.pdf":          "y",
	}}
	src := NewS3Source(client, "bucket", "docs")
	assert.Equal(t, "s3:bucket/docs", src.ID())

	entries, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Path)

	obj, err := src.Open(context.Background(), entries[0].Path)
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(3), obj.Size())
}

func TestS3Source_WholeBucket(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"a.pdf":     "aaa",
		"sub/b.pdf": "bb",
	}}
	src := NewS3Source(client, "bucket", "")
	assert.Equal(t, "s3:bucket", src.ID())

	entries, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sub/b.pdf", entries[1].Path)

	obj, err := src.Open(context.Background(), "sub/b.pdf")
	require.NoError(t, err)
	obj.Close()
}
