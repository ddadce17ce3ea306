package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"pdfrag/app/api"
	"pdfrag/app/middleware"
	"pdfrag/config"
	"pdfrag/loader/source"
	"pdfrag/store"
)

const searchTimeout = 30 * time.Second

// Deps are the collaborators the HTTP surface serves.
type Deps struct {
	Store    store.DBStorer
	Searcher api.Searcher
	Ingester api.Ingester
	Source   source.Source
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	var (
		app = fiber.New(fiber.Config{
			ErrorHandler:          api.ErrorHandler,
			BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
			DisableStartupMessage: true,
		})
		checkHandler  = api.NewCheckHandler(deps.Store)
		searchHandler = api.NewSearchHandler(deps.Searcher, searchTimeout)
		fileHandler   = api.NewFileHandler(deps.Store, deps.Ingester, deps.Source)
		configHandler = api.NewConfigHandler(cfg)
	)
	app.Use(middleware.RequestLogger(logger))

	var (
		check = app.Group("/check")
		apiv1 = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	apiv1.Post("/search", searchHandler.HandleSearch)
	apiv1.Post("/ingest", fileHandler.HandleIngest)
	apiv1.Post("/upload", fileHandler.HandleUpload)
	apiv1.Get("/documents", fileHandler.HandleListDocuments)
	apiv1.Get("/documents/:id", fileHandler.HandleGetDocument)
	apiv1.Get("/config", configHandler.HandleGetConfig)

	return &Server{
		listenAddr: cfg.Server.Addr,
		logger:     logger,
		app:        app,
	}
}

// App exposes the fiber application, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server listening", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.logger.Info("server stopped")
	return err
}
