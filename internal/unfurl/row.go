package unfurl

import "github.com/basekick-labs/rowhouse/pkg/models"

// Row holds one slot per declared column. A slot is present when the
// document had the key, even if its value was null.
type Row struct {
	values  []models.Value
	present []bool
	n       int
}

// NewRow returns an empty row of the given width.
func NewRow(width int) Row {
	return Row{
		values:  make([]models.Value, width),
		present: make([]bool, width),
	}
}

// Width is the number of slots.
func (r Row) Width() int { return len(r.values) }

// Empty reports whether no slot is present.
func (r Row) Empty() bool { return r.n == 0 }

// Get returns the value in slot and whether it was set.
func (r Row) Get(slot int) (models.Value, bool) {
	return r.values[slot], r.present[slot]
}

// Set stores v in slot.
func (r *Row) Set(slot int, v models.Value) {
	if !r.present[slot] {
		r.present[slot] = true
		r.n++
	}
	r.values[slot] = v
}

// Clone returns an independent copy.
func (r Row) Clone() Row {
	c := Row{
		values:  make([]models.Value, len(r.values)),
		present: make([]bool, len(r.present)),
		n:       r.n,
	}
	copy(c.values, r.values)
	copy(c.present, r.present)
	return c
}

// merge returns a copy of r overwritten by every present slot of other.
func (r Row) merge(other Row) Row {
	c := r.Clone()
	for i, ok := range other.present {
		if ok {
			c.Set(i, other.values[i])
		}
	}
	return c
}

// Map renders the present slots keyed by alias, mostly for tests and
// debugging output.
func (r Row) Map(aliases []string) map[string]models.Value {
	out := make(map[string]models.Value, r.n)
	for i, ok := range r.present {
		if ok {
			out[aliases[i]] = r.values[i]
		}
	}
	return out
}
