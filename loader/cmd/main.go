package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pdfrag/config"
	"pdfrag/model"
	"pdfrag/store"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "loader",
	Short: "Ingest documents into the vector store and search them",
	Long: `loader keeps a vector store in sync with a folder (or bucket) of documents.

Each run reads the documents, splits them into chunks, embeds only the chunks
that changed and removes documents that disappeared from the source.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("RAG_CONFIG", "config.yaml"), "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print output as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// env holds the collaborators shared by every subcommand.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.DBStorer
	embedder *model.Embedder
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Log)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := model.NewFromConfig(ctx, cfg.Embedding, cfg.Store.Dimensions, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: st, embedder: embedder}, nil
}

func (e *env) Close() {
	if err := e.embedder.Close(); err != nil {
		e.logger.Warn("close embedder", "err", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close store", "err", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
