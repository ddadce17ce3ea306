package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"pdfrag/app/server"
	"pdfrag/config"
	"pdfrag/loader/service"
	"pdfrag/loader/source"
	"pdfrag/model"
	"pdfrag/search"
	"pdfrag/store"
)

func main() {
	configPath := flag.String("config", envOr("RAG_CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("error to load config: ", err)
	}
	logger := config.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := model.NewFromConfig(ctx, cfg.Embedding, cfg.Store.Dimensions, logger)
	if err != nil {
		return err
	}
	defer embedder.Close()

	src, err := source.FromConfig(cfg.Source)
	if err != nil {
		return err
	}

	ingester, err := service.NewFromConfig(st, embedder, cfg, logger)
	if err != nil {
		return err
	}
	searcher := search.NewFromConfig(st, embedder, cfg.Search, logger)

	srv := server.NewServer(cfg, server.Deps{
		Store:    st,
		Searcher: searcher,
		Ingester: ingester,
		Source:   src,
	}, logger)

	var wg sync.WaitGroup
	if cfg.Server.IngestOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ingester.Ingest(ctx, src); err != nil && ctx.Err() == nil {
				logger.Error("startup ingest failed", "source", src.ID(), "err", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ingest.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all goroutines stopped successfully")
	case <-shutdownCtx.Done():
		logger.Warn("timeout waiting for goroutines to stop, forcing shutdown")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
