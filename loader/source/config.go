package source

import (
	"fmt"
	"os"

	"pdfrag/config"
)

// FromConfig builds the source described by cfg. Directory sources are
// resolved between the runtime and packaged folders and created if missing.
func FromConfig(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 source requires a bucket")
		}
		client := Connect(S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		return NewS3Source(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.Patterns...), nil
	case "", "dir":
		return OpenDir(cfg)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// OpenDir resolves and prepares the directory source described by cfg.
func OpenDir(cfg config.SourceConfig) (*DirSource, error) {
	dir := Resolve(cfg.Dir, cfg.FallbackDir, cfg.Patterns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir %s: %w", dir, err)
	}
	return NewDirSource(dir,
		WithID(cfg.ID),
		WithPatterns(cfg.Patterns...),
		WithFingerprint(Fingerprint(cfg.Fingerprint)),
	)
}
