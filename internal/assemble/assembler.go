// Package assemble turns the rows extracted from a batch of documents into
// a typed table.
package assemble

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/rowhouse/internal/coerce"
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/internal/unfurl"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

var (
	// ErrMissingMetadata is returned when the batch source or its
	// last-modified time was not provided.
	ErrMissingMetadata = errors.New("source metadata not set")
	// ErrInvalidMetadata is returned when the last-modified time cannot be parsed.
	ErrInvalidMetadata = errors.New("invalid last-modified time")
)

const (
	DefaultSourceColumn   = "s3_source_path"
	DefaultModifiedColumn = "s3_last_modified_utc"
)

// Metadata describes the object a batch was read from.
type Metadata struct {
	Source       string
	LastModified string
}

// Validate checks that both fields are set and returns the parsed
// last-modified instant.
func (m Metadata) Validate() (time.Time, error) {
	if m.Source == "" || m.LastModified == "" {
		return time.Time{}, ErrMissingMetadata
	}
	return ParseLastModified(m.LastModified)
}

// ParseLastModified accepts RFC 3339 and the looser layouts object stores
// and HTTP headers use. The result is UTC.
func ParseLastModified(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		return t.UTC(), nil
	}
	if t, ok := coerce.InferTime(s); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMetadata, s)
}

// Options configure an Assembler.
type Options struct {
	SourceColumn   string
	ModifiedColumn string
	Coercer        *coerce.Coercer
}

// Assembler builds typed tables. It is safe for concurrent use.
type Assembler struct {
	sourceColumn   string
	modifiedColumn string
	coercer        *coerce.Coercer
}

// New returns an Assembler, defaulting unset options.
func New(opts Options) *Assembler {
	a := &Assembler{
		sourceColumn:   opts.SourceColumn,
		modifiedColumn: opts.ModifiedColumn,
		coercer:        opts.Coercer,
	}
	if a.sourceColumn == "" {
		a.sourceColumn = DefaultSourceColumn
	}
	if a.modifiedColumn == "" {
		a.modifiedColumn = DefaultModifiedColumn
	}
	if a.coercer == nil {
		a.coercer = coerce.New(coerce.DefaultOptions())
	}
	return a
}

// MetadataColumns returns the names of the appended columns.
func (a *Assembler) MetadataColumns() []string {
	return []string{a.sourceColumn, a.modifiedColumn}
}

// Assemble traverses docs, concatenates their rows and coerces each
// declared column.
func (a *Assembler) Assemble(docs []models.Value, table *mapping.Table, meta Metadata) (*Table, error) {
	modified, err := meta.Validate()
	if err != nil {
		return nil, err
	}

	rows := unfurl.TraverseAll(docs, table)
	out := &Table{
		Discriminator: table.Discriminator,
		Name:          table.Name,
		Columns:       make([]Column, 0, table.Width()+2),
		rows:          len(rows),
	}

	raw := make([]models.Value, len(rows))
	for _, col := range table.Columns {
		for i, r := range rows {
			v, _ := r.Get(col.Slot)
			if s, ok := v.AsString(); ok && s == "" {
				v = models.Null()
			}
			raw[i] = v
		}
		typ := col.Type
		if !col.KnownType {
			typ = mapping.Type(strings.ToLower(col.DeclaredType))
		}
		typed, diag := a.coercer.Coerce(raw, typ, col.Lenient)
		out.Diagnostics.Merge(col.Alias, diag)
		out.Columns = append(out.Columns, Column{Name: col.Alias, Column: typed})
	}
	checkConstraints(out, table)

	source := coerce.NullColumn(mapping.TypeString, len(rows))
	stamp := coerce.NullColumn(mapping.TypeTimestamp, len(rows))
	micros := modified.UnixMicro()
	for i := range rows {
		source.Strings[i] = meta.Source
		source.Valid[i] = true
		stamp.Times[i] = micros
		stamp.Valid[i] = true
	}
	out.Columns = append(out.Columns,
		Column{Name: a.sourceColumn, Column: source, Metadata: true},
		Column{Name: a.modifiedColumn, Column: stamp, Metadata: true},
	)
	return out, nil
}

// checkConstraints records nulls in required columns and rows repeating the
// unique key as table errors. Offending rows are kept.
func checkConstraints(out *Table, table *mapping.Table) {
	for _, col := range table.Columns {
		if !col.Required {
			continue
		}
		if n := out.Columns[col.Slot].NullCount(); n > 0 {
			out.Diagnostics.Errorf("Column '%s' has %d null values", col.Alias, n)
		}
	}

	if len(table.Unique) == 0 || out.rows < 2 {
		return
	}
	key := make([]*Column, len(table.Unique))
	for i, name := range table.Unique {
		slot, _ := table.SlotOf(name)
		key[i] = &out.Columns[slot]
	}
	keys := make([]string, out.rows)
	counts := make(map[string]int, out.rows)
	var b strings.Builder
	for r := 0; r < out.rows; r++ {
		b.Reset()
		for _, c := range key {
			// nulls compare equal to each other
			if v := c.Value(r); v == nil {
				b.WriteString("\x00")
			} else {
				fmt.Fprintf(&b, "%v", v)
			}
			b.WriteByte(0x1f)
		}
		keys[r] = b.String()
		counts[keys[r]]++
	}
	dups := 0
	for _, k := range keys {
		if counts[k] > 1 {
			dups++
		}
	}
	if dups > 0 {
		out.Diagnostics.Errorf("Found %d duplicate rows for columns: %s", dups, strings.Join(table.Unique, ", "))
	}
}
