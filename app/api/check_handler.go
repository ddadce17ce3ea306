package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pdfrag/store"
	"pdfrag/types"
)

type CheckHandler struct {
	store store.DBStorer
}

func NewCheckHandler(s store.DBStorer) *CheckHandler {
	return &CheckHandler{store: s}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady reports whether the store answers queries.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if _, err := h.store.GetDocumentByID(ctx, uuid.Nil); err != nil && !errors.Is(err, types.ErrNotFound) {
		return NewError(fiber.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(fiber.Map{"result": "ready"})
}
