package api

import (
	"github.com/gofiber/fiber/v2"

	"pdfrag/config"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// HandleGetConfig exposes the effective pipeline settings. Credentials and
// connection strings are left out.
func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	cfg := h.cfg
	return c.JSON(fiber.Map{
		"store": fiber.Map{
			"driver":     cfg.Store.Driver,
			"dimensions": cfg.Store.Dimensions,
		},
		"embedding": fiber.Map{
			"provider":   cfg.Embedding.Provider,
			"model":      cfg.Embedding.Model,
			"batch_size": cfg.Embedding.BatchSize,
			"cache":      cfg.Embedding.Cache.Driver,
		},
		"chunking": fiber.Map{
			"max_size":             cfg.Chunking.MaxSize,
			"overlap":              cfg.Chunking.Overlap,
			"unit":                 cfg.Chunking.Unit,
			"strip_repeated_lines": cfg.Chunking.StripRepeatedLines,
		},
		"source": fiber.Map{
			"kind":        cfg.Source.Kind,
			"patterns":    cfg.Source.Patterns,
			"fingerprint": cfg.Source.Fingerprint,
		},
		"search": fiber.Map{
			"max_results": cfg.Search.MaxResults,
			"min_score":   cfg.Search.MinScore,
		},
	})
}
