package mapping

import (
	"regexp"
	"strings"
)

var (
	separatorRun = regexp.MustCompile(`[\s-]+`)
	nonWord      = regexp.MustCompile(`[^\p{L}\p{N}_]`)
	underscores  = regexp.MustCompile(`_+`)
)

// NormalizeName turns a column name into lower snake case: whitespace and
// hyphens become underscores, other punctuation is removed, runs of
// underscores collapse and leading or trailing underscores are trimmed.
// "Order Total ($)" becomes "order_total".
func NormalizeName(name string) string {
	s := separatorRun.ReplaceAllString(name, "_")
	s = nonWord.ReplaceAllString(s, "")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = strings.TrimLeft(s, "$")
	return strings.ToLower(s)
}
