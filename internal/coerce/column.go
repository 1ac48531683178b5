package coerce

import (
	"time"

	"github.com/basekick-labs/rowhouse/internal/mapping"
)

// Column is a typed, nullable column. Only the slice matching Type is
// populated; Valid marks non-null positions. Timestamps are microseconds
// since the Unix epoch in UTC.
type Column struct {
	Type    mapping.Type
	Strings []string
	Ints    []int64
	Floats  []float64
	Bools   []bool
	Times   []int64
	Valid   []bool
}

func newColumn(t mapping.Type, n int) Column {
	c := Column{Type: t, Valid: make([]bool, n)}
	switch t {
	case mapping.TypeInteger:
		c.Ints = make([]int64, n)
	case mapping.TypeFloat:
		c.Floats = make([]float64, n)
	case mapping.TypeBoolean:
		c.Bools = make([]bool, n)
	case mapping.TypeTimestamp, mapping.TypeDate:
		c.Times = make([]int64, n)
	default:
		c.Type = mapping.TypeString
		c.Strings = make([]string, n)
	}
	return c
}

// NullColumn returns an all-null column of type t.
func NullColumn(t mapping.Type, n int) Column {
	return newColumn(t, n)
}

// Len is the number of positions.
func (c Column) Len() int { return len(c.Valid) }

// IsNull reports whether position i is null.
func (c Column) IsNull(i int) bool { return !c.Valid[i] }

// NullCount counts null positions.
func (c Column) NullCount() int {
	n := 0
	for _, ok := range c.Valid {
		if !ok {
			n++
		}
	}
	return n
}

// Value returns position i as a Go value (string, int64, float64, bool,
// time.Time) or nil.
func (c Column) Value(i int) interface{} {
	if !c.Valid[i] {
		return nil
	}
	switch c.Type {
	case mapping.TypeInteger:
		return c.Ints[i]
	case mapping.TypeFloat:
		return c.Floats[i]
	case mapping.TypeBoolean:
		return c.Bools[i]
	case mapping.TypeTimestamp, mapping.TypeDate:
		return time.UnixMicro(c.Times[i]).UTC()
	default:
		return c.Strings[i]
	}
}
