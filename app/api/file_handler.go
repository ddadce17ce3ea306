package api

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pdfrag/loader/service"
	"pdfrag/loader/source"
	"pdfrag/store"
	"pdfrag/types"
)

// Ingester reconciles the store with a source.
type Ingester interface {
	Ingest(ctx context.Context, src source.Source) (*service.Report, error)
}

type FileHandler struct {
	store    store.DBStorer
	ingester Ingester
	src      source.Source
	// uploads is nil unless the source is a local directory
	uploads *source.DirSource
}

func NewFileHandler(s store.DBStorer, ingester Ingester, src source.Source) *FileHandler {
	h := &FileHandler{
		store:    s,
		ingester: ingester,
		src:      src,
	}
	if dir, ok := src.(*source.DirSource); ok {
		h.uploads = dir
	}
	return h
}

type IngestFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type IngestResponse struct {
	SourceID       string          `json:"source_id"`
	Added          int             `json:"added"`
	Updated        int             `json:"updated"`
	Unchanged      int             `json:"unchanged"`
	Deleted        int             `json:"deleted"`
	ChunksEmbedded int             `json:"chunks_embedded"`
	Failures       []IngestFailure `json:"failures"`
	TookMS         int64           `json:"took_ms"`
}

func newIngestResponse(r *service.Report) IngestResponse {
	resp := IngestResponse{
		SourceID:       r.SourceID,
		Added:          r.Added,
		Updated:        r.Updated,
		Unchanged:      r.Unchanged,
		Deleted:        r.Deleted,
		ChunksEmbedded: r.ChunksEmbedded,
		Failures:       make([]IngestFailure, 0, len(r.Failures)),
		TookMS:         r.Duration.Milliseconds(),
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, IngestFailure{Path: f.Path, Error: f.Err.Error()})
	}
	return resp
}

// HandleIngest runs one ingestion pass over the configured source.
func (h *FileHandler) HandleIngest(c *fiber.Ctx) error {
	report, err := h.ingester.Ingest(c.UserContext(), h.src)
	if err != nil {
		return err
	}
	return c.JSON(newIngestResponse(report))
}

// HandleUpload stores a document in the source directory and ingests it.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	if h.uploads == nil {
		return ErrConflict("uploads require a directory source")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	name := filepath.Base(filepath.Clean("/" + fileHeader.Filename))
	if name == "/" || name == "." || !source.Matches(name, h.uploads.Patterns()) {
		return NewError(fiber.StatusUnprocessableEntity, "unsupported file type")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := h.uploads.Save(name, file); err != nil {
		return err
	}
	report, err := h.ingester.Ingest(c.UserContext(), h.src)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"path":   name,
		"doc_id": types.DocumentID(h.src.ID(), name),
		"ingest": newIngestResponse(report),
	})
}

type DocumentResponse struct {
	types.IngestedDocument
	Chunks []ChunkSummary `json:"chunks,omitempty"`
}

type ChunkSummary struct {
	ID    uuid.UUID `json:"id"`
	Page  int       `json:"page"`
	Index int       `json:"index"`
	Text  string    `json:"text"`
}

// HandleListDocuments lists ingested documents, optionally for one source.
func (h *FileHandler) HandleListDocuments(c *fiber.Ctx) error {
	docs, err := h.store.ListDocuments(c.UserContext(), c.Query("source_id"))
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []types.IngestedDocument{}
	}
	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
		"timestamp": time.Now(),
	})
}

// HandleGetDocument returns one document with its chunks.
func (h *FileHandler) HandleGetDocument(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	doc, err := h.store.GetDocumentByID(c.UserContext(), id)
	if errors.Is(err, types.ErrNotFound) {
		return ErrNotFound(id, "document")
	}
	if err != nil {
		return err
	}

	chunks, err := h.store.ListChunks(c.UserContext(), id)
	if err != nil {
		return err
	}
	resp := DocumentResponse{IngestedDocument: *doc, Chunks: make([]ChunkSummary, len(chunks))}
	for i, ch := range chunks {
		resp.Chunks[i] = ChunkSummary{ID: ch.ID, Page: ch.Page, Index: ch.Index, Text: ch.Text}
	}
	return c.JSON(resp)
}
