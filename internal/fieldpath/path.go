// Package fieldpath parses dotted field sources such as
// "body.orders[].items[].sku" into navigation segments.
package fieldpath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFieldSpec is returned for field sources that cannot be parsed.
var ErrInvalidFieldSpec = errors.New("invalid field spec")

const arrayMarker = "[]"

// Segment is one step of a path. Explode marks an array segment whose
// elements each produce their own rows.
type Segment struct {
	Key     string
	Explode bool
}

func (s Segment) String() string {
	if s.Explode {
		return s.Key + arrayMarker
	}
	return s.Key
}

// Path is a parsed field source.
type Path []Segment

// Parse splits source on "." and strips a trailing "[]" marker from each
// segment.
func Parse(source string) (Path, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidFieldSpec)
	}
	parts := strings.Split(source, ".")
	path := make(Path, 0, len(parts))
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q segment %d: %v", ErrInvalidFieldSpec, source, i, err)
		}
		path = append(path, seg)
	}
	return path, nil
}

// MustParse is Parse for static sources; it panics on error.
func MustParse(source string) Path {
	p, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(part string) (Segment, error) {
	if part == "" {
		return Segment{}, errors.New("empty segment")
	}
	key := part
	explode := false
	if strings.HasSuffix(part, arrayMarker) {
		key = strings.TrimSuffix(part, arrayMarker)
		explode = true
	}
	if key == "" {
		return Segment{}, errors.New("array marker without a key")
	}
	if strings.ContainsAny(key, "[]") {
		return Segment{}, errors.New("misplaced array marker")
	}
	return Segment{Key: key, Explode: explode}, nil
}

// HasArray reports whether any segment explodes an array.
func (p Path) HasArray() bool {
	for _, s := range p {
		if s.Explode {
			return true
		}
	}
	return false
}

// Depth is the number of segments.
func (p Path) Depth() int { return len(p) }

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}
