package assemble

import (
	"github.com/basekick-labs/rowhouse/internal/coerce"
)

// Column is a named typed column of an assembled table.
type Column struct {
	Name string
	coerce.Column
	// Metadata marks the appended source and last-modified columns.
	Metadata bool
}

// Table is the typed output for one discriminator value: declared columns
// in configured order followed by the metadata columns.
type Table struct {
	Discriminator string
	Name          string
	Columns       []Column
	Diagnostics   coerce.Diagnostics
	rows          int
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return t.rows }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Row returns row i keyed by column name, nulls as nil.
func (t *Table) Row(i int) map[string]interface{} {
	out := make(map[string]interface{}, len(t.Columns))
	for _, c := range t.Columns {
		out[c.Name] = c.Value(i)
	}
	return out
}
