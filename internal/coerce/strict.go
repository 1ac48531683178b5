package coerce

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// strict converts without cleaning. Numbers and booleans must already be
// in their target form (or be plain numeric/boolean text); timestamps go
// straight to inference. Failures are errors.
func (c *Coercer) strict(values []models.Value, t mapping.Type, diag *Diagnostics) Column {
	col := newColumn(t, len(values))
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		var ok bool
		switch t {
		case mapping.TypeInteger:
			col.Ints[i], ok = strictInt(v, diag)
		case mapping.TypeFloat:
			col.Floats[i], ok = strictFloat(v)
			if !ok {
				diag.Errorf("Cannot convert %s to float", v.Text())
			}
		case mapping.TypeBoolean:
			col.Bools[i], ok = strictBool(v)
			if !ok {
				diag.Errorf("Cannot convert %s to boolean", v.Text())
			}
		case mapping.TypeTimestamp, mapping.TypeDate:
			col.Times[i], ok = strictTime(v)
			if !ok {
				diag.Errorf("Cannot parse %s as datetime", v.Text())
			}
		}
		col.Valid[i] = ok
	}
	return col
}

func strictInt(v models.Value, diag *Diagnostics) (int64, bool) {
	var lit string
	switch v.Kind() {
	case models.KindBool:
		if b, _ := v.AsBool(); b {
			return 1, true
		}
		return 0, true
	case models.KindNumber:
		n, _ := v.AsNumber()
		lit = string(n)
	case models.KindString:
		s, _ := v.AsString()
		lit = strings.TrimSpace(s)
	default:
		diag.Errorf("Cannot convert %s to integer", v.Text())
		return 0, false
	}

	i, err := strconv.ParseInt(lit, 10, 64)
	if err == nil {
		return i, true
	}
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(lit, "-") {
			diag.Errorf("Integer underflow: %s below int64 min", lit)
		} else {
			diag.Errorf("Integer overflow: %s exceeds int64 max", lit)
		}
		return 0, false
	}
	// Integral floats such as 3.0 are accepted; anything with a fraction is not.
	f, ferr := strconv.ParseFloat(lit, 64)
	if ferr == nil && f == math.Trunc(f) && f >= int64Floor && f < int64Ceil {
		return int64(f), true
	}
	diag.Errorf("Cannot convert %s to integer", lit)
	return 0, false
}

func strictFloat(v models.Value) (float64, bool) {
	switch v.Kind() {
	case models.KindBool:
		if b, _ := v.AsBool(); b {
			return 1, true
		}
		return 0, true
	case models.KindNumber:
		n, _ := v.AsNumber()
		f, err := n.Float64()
		return f, err == nil || errors.Is(err, strconv.ErrRange)
	case models.KindString:
		s, _ := v.AsString()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func strictTime(v models.Value) (int64, bool) {
	text, ok := timeText(v)
	if !ok {
		return 0, false
	}
	ts, ok := InferTime(text)
	if !ok {
		return 0, false
	}
	return ts.UnixMicro(), true
}

func strictBool(v models.Value) (bool, bool) {
	switch v.Kind() {
	case models.KindBool:
		b, _ := v.AsBool()
		return b, true
	case models.KindNumber:
		n, _ := v.AsNumber()
		switch string(n) {
		case "1":
			return true, true
		case "0":
			return false, true
		}
	case models.KindString:
		s, _ := v.AsString()
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
