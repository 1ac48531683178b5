// Package discover analyzes a sample of documents to find the field whose
// value decides the shape of the rest of each document: the split path a
// table mapping should route on.
package discover

import (
	"sort"
	"strings"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

// PathSet is the set of leaf paths of one document, in the field source
// notation: "header.action", "body.items[].sku", "tags[]".
type PathSet map[string]struct{}

// Sorted returns the paths in lexical order.
func (s PathSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Paths extracts the leaf paths of doc. Object keys nest with ".", array
// elements share a "[]" segment, and an empty array still records its path.
// Empty objects contribute nothing.
func Paths(doc models.Value) PathSet {
	set := make(PathSet)
	collect(doc, "", set)
	return set
}

func collect(v models.Value, prefix string, set PathSet) {
	switch v.Kind() {
	case models.KindObject:
		v.AsObject().Range(func(key string, child models.Value) bool {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			switch child.Kind() {
			case models.KindObject, models.KindArray:
				collect(child, path, set)
			default:
				set[path] = struct{}{}
			}
			return true
		})
	case models.KindArray:
		items := v.AsArray()
		elem := prefix + "[]"
		if len(items) == 0 {
			set[elem] = struct{}{}
			return
		}
		for _, item := range items {
			switch item.Kind() {
			case models.KindObject, models.KindArray:
				collect(item, elem, set)
			default:
				set[elem] = struct{}{}
			}
		}
	}
}

// ValueAt follows path through nested objects. Array markers are ignored
// and any array on the way makes the value unreachable. Null counts as
// absent.
func ValueAt(doc models.Value, path string) (models.Value, bool) {
	cur := doc
	for _, key := range strings.Split(strings.ReplaceAll(path, "[]", ""), ".") {
		if cur.Kind() != models.KindObject {
			return models.Null(), false
		}
		next, ok := cur.Get(key)
		if !ok {
			return models.Null(), false
		}
		cur = next
	}
	if cur.IsNull() {
		return cur, false
	}
	return cur, true
}

// depth counts the nesting levels below the root: one per "." and one
// per "[]".
func depth(path string) int {
	return strings.Count(path, ".") + strings.Count(path, "[]")
}
