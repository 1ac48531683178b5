package coerce

import (
	"math"
	"strconv"
	"strings"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

func (c *Coercer) toBoolean(values []models.Value, diag *Diagnostics) Column {
	col := newColumn(mapping.TypeBoolean, len(values))
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		b, ok := c.lenientBool(v)
		if !ok {
			diag.Warnf("Unknown boolean value: %s", v.Text())
			continue
		}
		col.Bools[i] = b
		col.Valid[i] = true
	}
	return col
}

func (c *Coercer) lenientBool(v models.Value) (bool, bool) {
	switch v.Kind() {
	case models.KindBool:
		b, _ := v.AsBool()
		return b, true
	case models.KindNumber:
		// numbers match the configured vocabulary by their text, with
		// integral floats also matching their integer form (1.0 as "1")
		n, _ := v.AsNumber()
		keys := []string{strings.ToLower(n.String())}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
			keys = append(keys, strconv.FormatInt(int64(f), 10))
		}
		for _, key := range keys {
			if b, ok := c.lookupBool(key); ok {
				return b, true
			}
		}
		return false, false
	case models.KindString:
		s, _ := v.AsString()
		return c.lookupBool(strings.ToLower(strings.TrimSpace(s)))
	}
	return false, false
}

func (c *Coercer) lookupBool(key string) (bool, bool) {
	if _, ok := c.trueSet[key]; ok {
		return true, true
	}
	if _, ok := c.falseSet[key]; ok {
		return false, true
	}
	return false, false
}
