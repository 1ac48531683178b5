// Package mapping holds the declarative table configuration: which
// document fields land in which output columns, and with what type.
package mapping

import (
	"strings"
)

// Type is a declared column type.
type Type string

const (
	TypeString    Type = "string"
	TypeInteger   Type = "integer"
	TypeFloat     Type = "float"
	TypeBoolean   Type = "boolean"
	TypeTimestamp Type = "timestamp"
	TypeDate      Type = "date"
)

// ParseType normalizes a declared type name. An empty name means string.
// Unknown names return TypeString and false so callers can warn.
func ParseType(name string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "string":
		return TypeString, true
	case "integer":
		return TypeInteger, true
	case "float":
		return TypeFloat, true
	case "boolean":
		return TypeBoolean, true
	case "timestamp":
		return TypeTimestamp, true
	case "date":
		return TypeDate, true
	default:
		return TypeString, false
	}
}

// IsTemporal reports whether values of t are instants.
func (t Type) IsTemporal() bool {
	return t == TypeTimestamp || t == TypeDate
}

// Field maps one document path to one output column.
type Field struct {
	Source string `json:"source" yaml:"source"`
	Alias  string `json:"alias" yaml:"alias"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
	// Coerce overrides the table and global lenient-coercion default.
	Coerce *bool `json:"coerce,omitempty" yaml:"coerce,omitempty"`
	// Required reports nulls in this column as table errors.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// TableConfig describes the output table for one discriminator value.
// Field order is column order.
type TableConfig struct {
	TableName string  `json:"table_name" yaml:"table_name"`
	Coerce    *bool   `json:"coerce,omitempty" yaml:"coerce,omitempty"`
	Fields    []Field `json:"fields" yaml:"fields"`
	// Unique names columns whose combined values must not repeat across
	// the rows of one batch.
	Unique []string `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// Config maps discriminator values to table configurations.
type Config map[string]TableConfig

// ResolveCoerce picks the coercion mode for a field: the field setting wins,
// then the table setting, then the global default.
func ResolveCoerce(field, table *bool, global bool) bool {
	if field != nil {
		return *field
	}
	if table != nil {
		return *table
	}
	return global
}
