// Package processor routes a batch of documents to their configured
// tables and assembles one typed table per discriminator value.
package processor

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/coerce"
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/internal/router"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// Config holds processor settings.
type Config struct {
	// SplitPath locates the discriminator, e.g. ["header", "action"].
	SplitPath []string
	// DefaultCoerce is the global lenient-coercion default.
	DefaultCoerce  bool
	SourceColumn   string
	ModifiedColumn string
	Coerce         coerce.Options
	// NormalizeAliases rewrites column aliases to lower snake case.
	NormalizeAliases bool
}

// Result is the output of one batch.
type Result struct {
	// Tables maps discriminator values to their tables.
	Tables map[string]*assemble.Table
	// Order lists the keys of Tables in mapping order.
	Order     []string
	Documents int
	// Dropped counts documents without a discriminator.
	Dropped int
	// Unmapped counts documents whose discriminator has no table.
	Unmapped int
}

// Rows sums the row counts of all tables.
func (r *Result) Rows() int {
	n := 0
	for _, t := range r.Tables {
		n += t.NumRows()
	}
	return n
}

// Processor is immutable after construction and safe for concurrent use.
type Processor struct {
	router    *router.Router
	mapping   *mapping.Mapping
	assembler *assemble.Assembler
	logger    zerolog.Logger
}

// New compiles tables and builds a Processor.
func New(cfg Config, tables mapping.Config, logger zerolog.Logger) (*Processor, error) {
	r, err := router.New(cfg.SplitPath, logger)
	if err != nil {
		return nil, err
	}
	asm := assemble.New(assemble.Options{
		SourceColumn:   cfg.SourceColumn,
		ModifiedColumn: cfg.ModifiedColumn,
		Coercer:        coerce.New(cfg.Coerce),
	})
	m, err := mapping.Compile(tables, mapping.CompileOptions{
		DefaultCoerce:    cfg.DefaultCoerce,
		Reserved:         asm.MetadataColumns(),
		NormalizeAliases: cfg.NormalizeAliases,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile table mapping: %w", err)
	}
	p := &Processor{
		router:    r,
		mapping:   m,
		assembler: asm,
		logger:    logger.With().Str("component", "processor").Logger(),
	}
	for _, disc := range m.Discriminators() {
		t, _ := m.Table(disc)
		for from, to := range t.Renamed() {
			p.logger.Info().Str("table", t.Name).Str("from", from).Str("to", to).Msg("Renamed column")
		}
	}
	return p, nil
}

// Mapping returns the compiled mapping.
func (p *Processor) Mapping() *mapping.Mapping { return p.mapping }

// Split groups docs by discriminator.
func (p *Processor) Split(docs []models.Value) router.Batch {
	return p.router.Split(docs)
}

// Process splits docs and assembles a table for every configured
// discriminator present in the batch. Metadata errors are returned before
// any work is done.
func (p *Processor) Process(docs []models.Value, meta assemble.Metadata) (*Result, error) {
	if _, err := meta.Validate(); err != nil {
		return nil, err
	}

	batch := p.router.Split(docs)
	res := &Result{
		Tables:    make(map[string]*assemble.Table),
		Documents: len(docs),
		Dropped:   batch.Dropped,
	}
	for _, disc := range batch.Order {
		if _, ok := p.mapping.Table(disc); !ok {
			res.Unmapped += len(batch.Groups[disc])
			p.logger.Debug().Str("discriminator", disc).Int("documents", len(batch.Groups[disc])).
				Msg("No table configured for discriminator")
		}
	}

	for _, disc := range p.mapping.Discriminators() {
		group, ok := batch.Groups[disc]
		if !ok {
			continue
		}
		table, _ := p.mapping.Table(disc)
		out, err := p.assembler.Assemble(group, table, meta)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table.Name, err)
		}
		if out.NumRows() == 0 {
			continue
		}
		p.logDiagnostics(out)
		res.Tables[disc] = out
		res.Order = append(res.Order, disc)
	}
	return res, nil
}

func (p *Processor) logDiagnostics(t *assemble.Table) {
	for _, w := range t.Diagnostics.Warnings {
		p.logger.Warn().Str("table", t.Name).Msg(w)
	}
	for _, e := range t.Diagnostics.Errors {
		p.logger.Error().Str("table", t.Name).Msg(e)
	}
}
