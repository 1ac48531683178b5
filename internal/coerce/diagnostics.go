package coerce

import "fmt"

// Diagnostics collects the messages produced while converting a column.
// Warnings are informational; errors mark values that were nulled because
// they could not be represented.
type Diagnostics struct {
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Warnf appends a warning.
func (d *Diagnostics) Warnf(format string, args ...interface{}) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Errorf appends an error.
func (d *Diagnostics) Errorf(format string, args ...interface{}) {
	d.Errors = append(d.Errors, fmt.Sprintf(format, args...))
}

// Merge appends other's messages, each prefixed with prefix when set.
func (d *Diagnostics) Merge(prefix string, other Diagnostics) {
	for _, w := range other.Warnings {
		d.Warnings = append(d.Warnings, withPrefix(prefix, w))
	}
	for _, e := range other.Errors {
		d.Errors = append(d.Errors, withPrefix(prefix, e))
	}
}

// Empty reports whether nothing was recorded.
func (d Diagnostics) Empty() bool {
	return len(d.Warnings) == 0 && len(d.Errors) == 0
}

// OK reports whether no errors were recorded.
func (d Diagnostics) OK() bool { return len(d.Errors) == 0 }

func withPrefix(prefix, msg string) string {
	if prefix == "" {
		return msg
	}
	return fmt.Sprintf("Column '%s': %s", prefix, msg)
}
