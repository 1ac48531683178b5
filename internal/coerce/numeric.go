package coerce

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// number is the outcome of lenient numeric parsing. intLit is set when the
// cleaned text is an exact integer literal, so integers wider than a
// float64 mantissa keep their precision.
type number struct {
	f      float64
	intLit string
	ok     bool
}

const (
	// 2^63 as a float; anything at or above overflows int64.
	int64Ceil  = 9223372036854775808.0
	int64Floor = -9223372036854775808.0
)

// CleanNumeric strips currency symbols, whitespace and thousands
// separators. A trailing percent sign is reported separately.
func CleanNumeric(s string) (cleaned string, percent bool) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '$', '€', '£', '¥', '₹':
			continue
		}
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	s = dropThousands(b.String())
	if strings.HasSuffix(s, "%") {
		return s[:len(s)-1], true
	}
	return s, false
}

// dropThousands removes commas followed by exactly three digits and then a
// comma, a period or the end of the text.
func dropThousands(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ',' && isThousandsComma(s, i) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isThousandsComma(s string, i int) bool {
	if i+3 >= len(s) {
		return false
	}
	for j := i + 1; j <= i+3; j++ {
		if s[j] < '0' || s[j] > '9' {
			return false
		}
	}
	if i+4 == len(s) {
		return true
	}
	return s[i+4] == ',' || s[i+4] == '.'
}

func isIntegerLiteral(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseLenientNumber converts one value. Individual format problems are
// reported as warnings on diag.
func (c *Coercer) parseLenientNumber(v models.Value, diag *Diagnostics) number {
	switch v.Kind() {
	case models.KindNumber:
		n, _ := v.AsNumber()
		f, err := n.Float64()
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return number{}
		}
		out := number{f: f, ok: true}
		if n.IsInteger() {
			out.intLit = string(n)
		}
		return out
	case models.KindBool:
		if b, _ := v.AsBool(); b {
			return number{f: 1, intLit: "1", ok: true}
		}
		return number{f: 0, intLit: "0", ok: true}
	case models.KindString:
		s, _ := v.AsString()
		return c.parseNumericText(s, diag)
	default:
		return number{}
	}
}

func (c *Coercer) parseNumericText(raw string, diag *Diagnostics) number {
	s, percent := CleanNumeric(raw)
	if percent {
		if !c.allowNegative {
			s = strings.Replace(s, "-", "", 1)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return number{}
		}
		return number{f: f / 100, ok: true}
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch >= '0' && ch <= '9') || ch == '.' || (ch == '-' && c.allowNegative) {
			b.WriteByte(ch)
		}
	}
	cleaned := b.String()
	if strings.Count(cleaned, ".") > 1 || strings.Count(cleaned, "-") > 1 {
		diag.Warnf("Invalid numeric format: %s", raw)
		return number{}
	}
	if strings.Contains(cleaned, "-") && !strings.HasPrefix(cleaned, "-") {
		diag.Warnf("Invalid negative format: %s", raw)
		return number{}
	}
	if cleaned == "" {
		return number{}
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return number{}
	}
	out := number{f: f, ok: true}
	if isIntegerLiteral(cleaned) {
		out.intLit = cleaned
	}
	return out
}

func (c *Coercer) toFloat(values []models.Value, diag *Diagnostics) Column {
	col := newColumn(mapping.TypeFloat, len(values))
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		n := c.parseLenientNumber(v, diag)
		if !n.ok || math.IsNaN(n.f) {
			continue
		}
		col.Floats[i] = n.f
		col.Valid[i] = true
	}
	if lost := col.NullCount() - countNulls(values); lost > 0 {
		diag.Warnf("%d values could not be converted to numeric", lost)
	}
	return col
}

func (c *Coercer) toInteger(values []models.Value, diag *Diagnostics) Column {
	col := newColumn(mapping.TypeInteger, len(values))
	unparsed := 0
	truncated := false
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		n := c.parseLenientNumber(v, diag)
		if !n.ok || math.IsNaN(n.f) {
			unparsed++
			continue
		}
		if n.intLit != "" {
			iv, err := strconv.ParseInt(n.intLit, 10, 64)
			if err == nil {
				col.Ints[i] = iv
				col.Valid[i] = true
				continue
			}
			if strings.HasPrefix(n.intLit, "-") {
				diag.Errorf("Integer underflow: %s below int64 min", n.intLit)
			} else {
				diag.Errorf("Integer overflow: %s exceeds int64 max", n.intLit)
			}
			continue
		}
		switch {
		case n.f >= int64Ceil:
			diag.Errorf("Integer overflow: %s exceeds int64 max", formatFloat(n.f))
			continue
		case n.f < int64Floor:
			diag.Errorf("Integer underflow: %s below int64 min", formatFloat(n.f))
			continue
		}
		if n.f != math.Trunc(n.f) {
			truncated = true
		}
		col.Ints[i] = int64(n.f)
		col.Valid[i] = true
	}
	if unparsed > 0 {
		diag.Warnf("%d values could not be converted to numeric", unparsed)
	}
	if truncated {
		diag.Warnf("Decimal values will be truncated to integers")
	}
	return col
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
