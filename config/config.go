// Package config loads runtime settings for the loader and the search server.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Source    SourceConfig    `yaml:"source"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr" validate:"required"`
	BodyLimitMB   int    `yaml:"body_limit_mb" validate:"gt=0"`
	IngestOnStart bool   `yaml:"ingest_on_start"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	Dimensions  int    `yaml:"dimensions" validate:"gt=0"`
}

type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=ollama openai"`
	URL               string        `yaml:"url" validate:"omitempty,url"`
	Model             string        `yaml:"model" validate:"required"`
	APIKey            string        `yaml:"api_key"`
	Dimensions        int           `yaml:"dimensions" validate:"gte=0"`
	BatchSize         int           `yaml:"batch_size" validate:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries        uint64        `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Cache             CacheConfig   `yaml:"cache"`
}

type CacheConfig struct {
	Driver        string        `yaml:"driver" validate:"oneof=none memory redis"`
	MaxEntries    int           `yaml:"max_entries" validate:"gte=0"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
}

type ChunkingConfig struct {
	MaxSize  int    `yaml:"max_size" validate:"gt=0"`
	Overlap  int    `yaml:"overlap" validate:"gte=0"`
	Unit     string `yaml:"unit" validate:"oneof=chars tokens"`
	Encoding string `yaml:"encoding"`
	// StripRepeatedLines removes header/footer lines repeated across pages.
	StripRepeatedLines bool `yaml:"strip_repeated_lines"`
}

type SourceConfig struct {
	Kind        string   `yaml:"kind" validate:"oneof=dir s3"`
	ID          string   `yaml:"id"`
	Dir         string   `yaml:"dir" validate:"required_if=Kind dir"`
	FallbackDir string   `yaml:"fallback_dir"`
	Patterns    []string `yaml:"patterns" validate:"min=1"`
	Fingerprint string   `yaml:"fingerprint" validate:"oneof=mtime sha256"`
	S3          S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type IngestConfig struct {
	Workers         int           `yaml:"workers" validate:"gt=0"`
	DocumentTimeout time.Duration `yaml:"document_timeout" validate:"gte=0"`
	MonitoringTime  time.Duration `yaml:"monitoring_time" validate:"gte=0"`
	RescanInterval  time.Duration `yaml:"rescan_interval" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// SearchConfig sets search defaults. A nil MinScore disables score filtering.
type SearchConfig struct {
	MaxResults int      `yaml:"max_results" validate:"gt=0"`
	MinScore   *float64 `yaml:"min_score" validate:"omitempty,gte=-1,lte=1"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":3000", BodyLimitMB: 32, IngestOnStart: true},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/vector-store.db",
			Dimensions: 768,
		},
		Embedding: EmbeddingConfig{
			Provider:          "ollama",
			URL:               "http://localhost:11434/api/embeddings",
			Model:             "nomic-embed-text",
			BatchSize:         16,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 10,
			Burst:             10,
			Cache:             CacheConfig{Driver: "memory", MaxEntries: 10000, TTL: 24 * time.Hour},
		},
		Chunking: ChunkingConfig{MaxSize: 1000, Overlap: 200, Unit: "chars", Encoding: "cl100k_base"},
		Source: SourceConfig{
			Kind:        "dir",
			Dir:         "data/Content",
			Patterns:    []string{"*.pdf"},
			Fingerprint: "mtime",
		},
		Ingest: IngestConfig{
			Workers:         4,
			MonitoringTime:  5 * time.Second,
			RescanInterval:  5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Search: SearchConfig{MaxResults: 5},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), an optional .env file and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env is optional outside of development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Embedding.Dimensions > 0 && c.Embedding.Dimensions != c.Store.Dimensions {
		return fmt.Errorf("invalid config: embedding.dimensions (%d) differs from store.dimensions (%d)",
			c.Embedding.Dimensions, c.Store.Dimensions)
	}
	if c.Source.Kind == "s3" && c.Source.S3.Bucket == "" {
		return errors.New("invalid config: source.s3.bucket is required for s3 sources")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Server.Addr, "SERVER_ADDR")

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Store.PostgresDSN, "POSTGRES_DSN")
	if host := os.Getenv("PG_HOST"); host != "" && os.Getenv("POSTGRES_DSN") == "" {
		cfg.Store.PostgresDSN = postgresDSN(host)
	}

	setString(&cfg.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.URL, "OLLAMA_EMBEDDING_URL")
	setString(&cfg.Embedding.Model, "OLLAMA_EMBEDDING_MODEL")
	setString(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Embedding.Cache.Driver, "EMBEDDING_CACHE")
	setString(&cfg.Embedding.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Embedding.Cache.RedisPassword, "REDIS_PASSWORD")

	setString(&cfg.Source.Dir, "LOADER_SOURCE_DIR")
	setString(&cfg.Source.FallbackDir, "LOADER_FALLBACK_DIR")
	setString(&cfg.Source.ID, "LOADER_SOURCE_ID")

	for _, v := range []struct {
		dst *int
		key string
	}{
		{&cfg.Store.Dimensions, "EMBEDDING_DIMENSIONS"},
		{&cfg.Chunking.MaxSize, "CHUNK_SIZE"},
		{&cfg.Chunking.Overlap, "CHUNK_OVERLAP"},
		{&cfg.Ingest.Workers, "LOADER_WORKERS"},
	} {
		if err := setInt(v.dst, v.key); err != nil {
			return err
		}
	}

	if raw := os.Getenv("LOADER_MONITORING_TIME"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("LOADER_MONITORING_TIME: %w", err)
		}
		cfg.Ingest.MonitoringTime = d
	}
	return nil
}

func postgresDSN(host string) string {
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("PG_USER"), os.Getenv("PG_PASS")),
		Host:     host + ":" + port,
		Path:     os.Getenv("PG_DB_NAME"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
