package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"pdfrag/types"
)

// Searcher answers semantic queries.
type Searcher interface {
	Query(ctx context.Context, params types.SearchParams) ([]types.SearchResult, error)
}

type SearchHandler struct {
	searcher Searcher
	timeout  time.Duration
}

func NewSearchHandler(s Searcher, timeout time.Duration) *SearchHandler {
	return &SearchHandler{
		searcher: s,
		timeout:  timeout,
	}
}

// HandleSearch returns the chunks most similar to the posted query.
func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	var params types.SearchParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	ctx := c.UserContext()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	results, err := h.searcher.Query(ctx, params)
	if err != nil {
		return err
	}

	return c.JSON(&types.SearchResponse{
		Results:   results,
		Count:     len(results),
		Timestamp: time.Now(),
	})
}
