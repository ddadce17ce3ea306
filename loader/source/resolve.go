package source

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Resolve picks the directory to ingest from. The writable runtime folder
// (preferred) wins when it already holds matching documents; otherwise the
// packaged fallback folder is used if it exists. With neither, preferred is
// returned so callers can create it.
func Resolve(preferred, fallback string, patterns []string) string {
	if preferred != "" && HasDocuments(preferred, patterns) {
		return preferred
	}
	if fallback != "" {
		if info, err := os.Stat(fallback); err == nil && info.IsDir() {
			return fallback
		}
	}
	if preferred == "" {
		return fallback
	}
	return preferred
}

var errFound = errors.New("found")

// HasDocuments reports whether dir contains a matching file at any depth.
func HasDocuments(dir string, patterns []string) bool {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Matches(d.Name(), patterns) {
			return errFound
		}
		return nil
	})
	return errors.Is(err, errFound)
}
