package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/events"
	"github.com/basekick-labs/rowhouse/internal/pipeline"
)

// ProcessHandler triggers processing of stored objects.
type ProcessHandler struct {
	pipeline *pipeline.Pipeline
	logger   zerolog.Logger
}

// NewProcessHandler creates a new process handler
func NewProcessHandler(p *pipeline.Pipeline, logger zerolog.Logger) *ProcessHandler {
	return &ProcessHandler{
		pipeline: p,
		logger:   logger.With().Str("component", "process-api").Logger(),
	}
}

// RegisterRoutes registers the processing routes
func (h *ProcessHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/process", h.handleProcess)
	app.Post("/api/v1/events", h.handleEvent)
	app.Get("/api/v1/ledger", h.handleLedger)
}

// ProcessRequest names the objects to process: explicit keys, a prefix,
// or both.
type ProcessRequest struct {
	Keys   []string `json:"keys"`
	Prefix string   `json:"prefix"`
}

func (h *ProcessHandler) handleProcess(c *fiber.Ctx) error {
	var req ProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body: " + err.Error()})
	}
	if len(req.Keys) == 0 && req.Prefix == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "keys or prefix is required"})
	}

	ctx := c.UserContext()
	var results []*pipeline.ObjectResult
	var errs []error
	if len(req.Keys) > 0 {
		res, err := h.pipeline.ProcessObjects(ctx, req.Keys)
		results = append(results, res...)
		errs = append(errs, err)
	}
	if req.Prefix != "" {
		res, err := h.pipeline.ProcessPrefix(ctx, req.Prefix)
		results = append(results, res...)
		errs = append(errs, err)
	}
	return h.respond(c, results, errors.Join(errs...))
}

// handleEvent accepts a raw storage event notification.
func (h *ProcessHandler) handleEvent(c *fiber.Ctx) error {
	results, err := h.pipeline.ProcessEvent(c.UserContext(), c.Body())
	switch {
	case errors.Is(err, events.ErrNoKeys):
		// test notifications and removal-only events
		return c.JSON(fiber.Map{"success": true, "objects": 0, "results": []*pipeline.ObjectResult{}})
	case errors.Is(err, events.ErrUnrecognized):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return h.respond(c, results, err)
}

func (h *ProcessHandler) respond(c *fiber.Ctx, results []*pipeline.ObjectResult, err error) error {
	if results == nil {
		results = []*pipeline.ObjectResult{}
	}
	var rows, skipped, failed int
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
		if r.Error != "" {
			failed++
		}
		for _, t := range r.Tables {
			rows += t.Rows
		}
	}

	body := fiber.Map{
		"success": err == nil,
		"objects": len(results),
		"skipped": skipped,
		"failed":  failed,
		"rows":    rows,
		"results": results,
	}
	if err != nil {
		h.logger.Warn().Err(err).Int("failed", failed).Msg("Processing request finished with errors")
		body["error"] = err.Error()
		status := fiber.StatusInternalServerError
		if failed > 0 && failed < len(results) {
			status = fiber.StatusMultiStatus
		}
		return c.Status(status).JSON(body)
	}
	return c.JSON(body)
}

func (h *ProcessHandler) handleLedger(c *fiber.Ctx) error {
	l := h.pipeline.Ledger()
	if l == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "ledger is disabled"})
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	entries, err := l.Recent(c.UserContext(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read ledger")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "failed to read ledger"})
	}
	return c.JSON(fiber.Map{"success": true, "count": len(entries), "entries": entries})
}
