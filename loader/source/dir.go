package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pdfrag/types"
)

type Fingerprint string

const (
	// FingerprintMtime derives versions from modification time and size.
	FingerprintMtime Fingerprint = "mtime"
	// FingerprintSHA256 hashes file content; slower but immune to touch.
	FingerprintSHA256 Fingerprint = "sha256"
)

// DirSource offers the matching files below a directory, recursively.
type DirSource struct {
	id          string
	root        string
	patterns    []string
	fingerprint Fingerprint
}

type DirOption func(*DirSource)

// WithID overrides the default "dir:<absolute root>" source id.
func WithID(id string) DirOption {
	return func(d *DirSource) {
		if id != "" {
			d.id = id
		}
	}
}

func WithPatterns(patterns ...string) DirOption {
	return func(d *DirSource) {
		if len(patterns) > 0 {
			d.patterns = patterns
		}
	}
}

func WithFingerprint(f Fingerprint) DirOption {
	return func(d *DirSource) {
		if f != "" {
			d.fingerprint = f
		}
	}
}

func NewDirSource(root string, opts ...DirOption) (*DirSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve source dir %q: %w", root, err)
	}
	d := &DirSource{
		id:          "dir:" + filepath.ToSlash(abs),
		root:        abs,
		patterns:    DefaultPatterns,
		fingerprint: FingerprintMtime,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *DirSource) ID() string { return d.id }

// Root returns the absolute directory being served.
func (d *DirSource) Root() string { return d.root }

// Patterns returns the file name patterns in use.
func (d *DirSource) Patterns() []string { return d.patterns }

func (d *DirSource) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(d.root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := de.Name()
		if de.IsDir() {
			if path != d.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !de.Type().IsRegular() || !Matches(name, d.patterns) {
			return nil
		}

		info, err := de.Info()
		if err != nil {
			// removed between readdir and stat
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}

		version, err := d.version(path, info)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:    filepath.ToSlash(rel),
			Version: version,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, &types.SourceError{SourceID: d.id, Op: "list", Err: err}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (d *DirSource) version(path string, info fs.FileInfo) (string, error) {
	if d.fingerprint != FingerprintSHA256 {
		return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func (d *DirSource) Open(_ context.Context, path string) (Object, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileObject{File: f, size: info.Size()}, nil
}

// resolve maps a source-relative path to a file below root.
func (d *DirSource) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes source root", path)
	}
	return filepath.Join(d.root, clean), nil
}

// Save writes r to path below root, creating directories as needed. The file
// is written under a temporary name and renamed into place.
func (d *DirSource) Save(path string, r io.Reader) (string, error) {
	full, err := d.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", err
	}
	return full, nil
}

type fileObject struct {
	*os.File
	size int64
}

func (f *fileObject) Size() int64 { return f.size }
