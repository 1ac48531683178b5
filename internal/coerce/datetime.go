package coerce

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// DateFormat is one candidate layout for lenient timestamp parsing.
type DateFormat struct {
	Name   string
	Layout string
	// Fraction requires a fractional-seconds part when set and forbids
	// one otherwise. time.Parse accepts fractions after a seconds field
	// even when the layout omits them, so this keeps formats distinct.
	Fraction bool
	// Meridiem formats are matched against upper-cased input.
	Meridiem bool
}

// DefaultDateFormats is tried in order; the first layout that parses every
// non-null value in a column wins. Layouts use unpadded month, day, hour,
// minute and second fields so both "2024-01-05" and "2024-1-5" match.
var DefaultDateFormats = []DateFormat{
	{Name: "iso-datetime-micro", Layout: "2006-1-2 15:4:5", Fraction: true},
	{Name: "iso-datetime", Layout: "2006-1-2 15:4:5"},
	{Name: "iso8601-micro-z", Layout: "2006-1-2T15:4:5Z", Fraction: true},
	{Name: "iso8601-z", Layout: "2006-1-2T15:4:5Z"},
	{Name: "iso8601", Layout: "2006-1-2T15:4:5"},
	{Name: "iso-date", Layout: "2006-1-2"},
	{Name: "us-12h-seconds", Layout: "1/2/2006 3:4:5 PM", Meridiem: true},
	{Name: "us-12h", Layout: "1/2/2006 3:4 PM", Meridiem: true},
	{Name: "us-12h-short-year", Layout: "1/2/06 3:4 PM", Meridiem: true},
	{Name: "us-24h-seconds", Layout: "1/2/2006 15:4:5"},
	{Name: "us-date", Layout: "1/2/2006"},
	{Name: "us-date-short-year", Layout: "1/2/06"},
	{Name: "eu-date", Layout: "2/1/2006"},
	{Name: "eu-date-dashes", Layout: "2-1-2006"},
	{Name: "compact-date", Layout: "20060102"},
}

// Parse parses s with this format as a UTC wall-clock time.
func (f DateFormat) Parse(s string) (time.Time, bool) {
	if strings.Contains(s, ".") != f.Fraction {
		return time.Time{}, false
	}
	if f.Meridiem {
		s = strings.ToUpper(s)
	}
	t, err := time.ParseInLocation(f.Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// InferTime parses s without a known layout. Offsets are honored and the
// result is normalized to UTC; text without an offset is read as UTC.
func InferTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// timeText returns the text used for date parsing, or false for values
// that can never be a date.
func timeText(v models.Value) (string, bool) {
	switch v.Kind() {
	case models.KindString:
		s, _ := v.AsString()
		return s, true
	case models.KindNumber:
		n, _ := v.AsNumber()
		return string(n), true
	default:
		return "", false
	}
}

func (c *Coercer) toTimestamp(values []models.Value, t mapping.Type, diag *Diagnostics) Column {
	col := newColumn(t, len(values))

	for _, format := range c.formats {
		if c.parseAllWith(format, values, &col) {
			return col
		}
	}

	diag.Warnf("No exact format match - using datetime inference")
	col = newColumn(t, len(values))
	lost := 0
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		text, ok := timeText(v)
		if !ok {
			lost++
			continue
		}
		ts, ok := InferTime(text)
		if !ok {
			lost++
			continue
		}
		col.Times[i] = ts.UnixMicro()
		col.Valid[i] = true
	}
	if lost > 0 {
		diag.Warnf("%d values could not be parsed as datetime", lost)
	}
	return col
}

// parseAllWith fills col when every non-null value parses with format.
func (c *Coercer) parseAllWith(format DateFormat, values []models.Value, col *Column) bool {
	for i, v := range values {
		if v.IsNull() {
			col.Valid[i] = false
			continue
		}
		text, ok := timeText(v)
		if !ok {
			return false
		}
		ts, ok := format.Parse(text)
		if !ok {
			return false
		}
		col.Times[i] = ts.UnixMicro()
		col.Valid[i] = true
	}
	return true
}
