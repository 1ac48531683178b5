package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/coerce"
	"github.com/basekick-labs/rowhouse/internal/decode"
	"github.com/basekick-labs/rowhouse/internal/processor"
)

// UnfurlHandler unfurls inline document batches without touching storage.
type UnfurlHandler struct {
	processor *processor.Processor
	decoder   *decode.Decoder
	logger    zerolog.Logger
}

// NewUnfurlHandler creates a new unfurl handler
func NewUnfurlHandler(p *processor.Processor, decoder *decode.Decoder, logger zerolog.Logger) *UnfurlHandler {
	if decoder == nil {
		decoder = decode.NewDecoder(0, logger)
	}
	return &UnfurlHandler{
		processor: p,
		decoder:   decoder,
		logger:    logger.With().Str("component", "unfurl-api").Logger(),
	}
}

// RegisterRoutes registers the unfurl routes
func (h *UnfurlHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/unfurl", h.handleUnfurl)
	app.Get("/api/v1/mapping", h.handleMapping)
}

type columnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Metadata bool   `json:"metadata,omitempty"`
}

// UnfurlTable is one assembled table in an unfurl response.
type UnfurlTable struct {
	Discriminator string             `json:"discriminator"`
	Table         string             `json:"table"`
	Columns       []columnInfo       `json:"columns"`
	Rows          [][]interface{}    `json:"rows"`
	Diagnostics   coerce.Diagnostics `json:"diagnostics"`
}

// UnfurlResponse is the body of a successful unfurl.
type UnfurlResponse struct {
	Success   bool          `json:"success"`
	Documents int           `json:"documents"`
	Dropped   int           `json:"dropped"`
	Unmapped  int           `json:"unmapped"`
	Tables    []UnfurlTable `json:"tables"`
}

// handleUnfurl decodes the raw body (JSON, NDJSON or MessagePack, optionally
// gzipped) and returns the typed tables. Query parameters: format, source,
// last_modified (defaults to now).
func (h *UnfurlHandler) handleUnfurl(c *fiber.Ctx) error {
	format, err := decode.ParseFormat(c.Query("format"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if format == decode.FormatAuto && c.Get(fiber.HeaderContentType) == "application/msgpack" {
		format = decode.FormatMsgPack
	}

	// raw request body: gzip is detected by the decoder, not fiber
	body := c.Request().Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "empty request body"})
	}

	docs, err := h.decoder.DecodeBytes(body, format)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	meta := assemble.Metadata{
		Source:       c.Query("source", "inline"),
		LastModified: c.Query("last_modified", time.Now().UTC().Format(time.RFC3339Nano)),
	}
	res, err := h.processor.Process(docs, meta)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	out := UnfurlResponse{
		Success:   true,
		Documents: res.Documents,
		Dropped:   res.Dropped,
		Unmapped:  res.Unmapped,
		Tables:    make([]UnfurlTable, 0, len(res.Order)),
	}
	for _, disc := range res.Order {
		out.Tables = append(out.Tables, tableResponse(res.Tables[disc]))
	}

	h.logger.Debug().Int("documents", res.Documents).Int("tables", len(out.Tables)).Msg("Unfurled inline batch")
	return c.JSON(out)
}

func tableResponse(t *assemble.Table) UnfurlTable {
	ut := UnfurlTable{
		Discriminator: t.Discriminator,
		Table:         t.Name,
		Columns:       make([]columnInfo, len(t.Columns)),
		Rows:          make([][]interface{}, t.NumRows()),
		Diagnostics:   t.Diagnostics,
	}
	for i, col := range t.Columns {
		ut.Columns[i] = columnInfo{Name: col.Name, Type: string(col.Type), Metadata: col.Metadata}
	}
	for r := range ut.Rows {
		row := make([]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			row[i] = col.Value(r)
		}
		ut.Rows[r] = row
	}
	return ut
}

// handleMapping describes the compiled table mapping.
func (h *UnfurlHandler) handleMapping(c *fiber.Ctx) error {
	m := h.processor.Mapping()
	tables := make([]fiber.Map, 0, m.Len())
	for _, disc := range m.Discriminators() {
		t, _ := m.Table(disc)
		cols := make([]fiber.Map, 0, len(t.Columns))
		for _, col := range t.Columns {
			cols = append(cols, fiber.Map{
				"alias":   col.Alias,
				"source":  col.Source,
				"type":    string(col.Type),
				"lenient": col.Lenient,
			})
		}
		tables = append(tables, fiber.Map{
			"discriminator": disc,
			"table":         t.Name,
			"columns":       cols,
		})
	}
	return c.JSON(fiber.Map{"success": true, "tables": tables})
}
