// Package coerce converts raw extracted values into typed, nullable
// columns.
//
// Two modes exist. Lenient mode cleans real-world formatting noise before
// parsing: currency symbols, thousands separators, percentages, yes/no
// booleans and a list of common date layouts. Strict mode only accepts
// values already in the target representation. In both modes a value that
// cannot be converted becomes null and is reported in the returned
// Diagnostics; nothing is fatal.
package coerce

import (
	"strings"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// Options tune lenient conversion.
type Options struct {
	// AllowNegative keeps minus signs when cleaning numeric text.
	AllowNegative bool
	// TrueValues and FalseValues replace the default boolean vocabularies.
	// Matching is case-insensitive.
	TrueValues  []string
	FalseValues []string
	// DateFormats replaces the default ordered date layouts.
	DateFormats []DateFormat
}

var (
	defaultTrueValues  = []string{"true", "yes", "1", "y", "on"}
	defaultFalseValues = []string{"false", "no", "0", "n", "off"}
)

// DefaultOptions returns the standard lenient settings.
func DefaultOptions() Options {
	return Options{AllowNegative: true}
}

// Coercer converts columns. It holds no per-call state and is safe for
// concurrent use.
type Coercer struct {
	allowNegative bool
	trueSet       map[string]struct{}
	falseSet      map[string]struct{}
	formats       []DateFormat
}

// New builds a Coercer from opts, filling unset vocabularies and layouts
// with defaults.
func New(opts Options) *Coercer {
	c := &Coercer{
		allowNegative: opts.AllowNegative,
		trueSet:       toSet(opts.TrueValues, defaultTrueValues),
		falseSet:      toSet(opts.FalseValues, defaultFalseValues),
		formats:       opts.DateFormats,
	}
	if len(c.formats) == 0 {
		c.formats = DefaultDateFormats
	}
	return c
}

func toSet(values, fallback []string) map[string]struct{} {
	if len(values) == 0 {
		values = fallback
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

// Coerce converts values to type t. lenient selects the cleaning mode.
func (c *Coercer) Coerce(values []models.Value, t mapping.Type, lenient bool) (Column, Diagnostics) {
	var diag Diagnostics
	values = dropNaNSentinels(values)

	switch t {
	case mapping.TypeString, mapping.TypeInteger, mapping.TypeFloat, mapping.TypeBoolean,
		mapping.TypeTimestamp, mapping.TypeDate:
	default:
		diag.Warnf("Unknown data type '%s'. Defaulting to string.", t)
		t = mapping.TypeString
	}

	if t == mapping.TypeString {
		return toString(values), diag
	}
	if lenient {
		switch t {
		case mapping.TypeFloat:
			return c.toFloat(values, &diag), diag
		case mapping.TypeInteger:
			return c.toInteger(values, &diag), diag
		case mapping.TypeBoolean:
			return c.toBoolean(values, &diag), diag
		default:
			return c.toTimestamp(values, t, &diag), diag
		}
	}
	return c.strict(values, t, &diag), diag
}

// dropNaNSentinels replaces the textual NaN spellings with null.
func dropNaNSentinels(values []models.Value) []models.Value {
	var out []models.Value
	for i, v := range values {
		s, ok := v.AsString()
		if !ok || (s != "nan" && s != "NaN" && s != "NAN") {
			continue
		}
		if out == nil {
			out = make([]models.Value, len(values))
			copy(out, values)
		}
		out[i] = models.Null()
	}
	if out == nil {
		return values
	}
	return out
}

func toString(values []models.Value) Column {
	col := newColumn(mapping.TypeString, len(values))
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		col.Strings[i] = v.Text()
		col.Valid[i] = true
	}
	return col
}

func countNulls(values []models.Value) int {
	n := 0
	for _, v := range values {
		if v.IsNull() {
			n++
		}
	}
	return n
}
