// Package unfurl flattens nested documents into rows. Arrays marked for
// explosion fan out into one row per element, and independent branches are
// combined by cartesian product.
package unfurl

import (
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// Traverse produces the rows for one document. Every object document yields
// at least one row: top-level branches that produce nothing (missing keys,
// empty or exhausted arrays) leave the product unchanged rather than
// emptying it. Non-object documents yield nothing.
func Traverse(doc models.Value, table *mapping.Table) []Row {
	obj := doc.AsObject()
	if obj == nil {
		return nil
	}
	width := table.Width()
	base := NewRow(width)
	root := table.Root()

	// Single-segment sources are read straight off the document.
	for _, child := range root.Children {
		if len(child.Leaves) == 0 {
			continue
		}
		if v, ok := obj.Get(child.Key); ok {
			for _, slot := range child.Leaves {
				base.Set(slot, v)
			}
		}
	}

	rows := []Row{base}
	for _, child := range root.Children {
		if !child.IsBranch() {
			continue
		}
		v, ok := obj.Get(child.Key)
		if !ok {
			continue
		}
		var partial []Row
		if items := v.AsArray(); child.Explode && v.Kind() == models.KindArray {
			for _, item := range items {
				partial = append(partial, descend(child, item, width)...)
			}
		} else {
			partial = descend(child, v, width)
		}
		if len(partial) == 0 {
			// placeholder: neutral element of the product
			continue
		}
		rows = product(rows, partial)
	}
	return rows
}

// descend handles a non-root node. It returns nil when the node yields no
// rows, including when any exploded array below it is empty.
func descend(n *mapping.Node, data models.Value, width int) []Row {
	obj := data.AsObject()
	if obj == nil {
		return nil
	}
	current := NewRow(width)
	for _, child := range n.Children {
		if len(child.Leaves) == 0 {
			continue
		}
		if v, ok := obj.Get(child.Key); ok {
			for _, slot := range child.Leaves {
				current.Set(slot, v)
			}
		}
	}

	type branch struct {
		node *mapping.Node
		data models.Value
	}
	var objects, arrays []branch
	for _, child := range n.Children {
		if !child.IsBranch() {
			continue
		}
		v, ok := obj.Get(child.Key)
		if !ok {
			continue
		}
		switch {
		case child.Explode && v.Kind() == models.KindArray:
			arrays = append(arrays, branch{child, v})
		case v.Kind() == models.KindObject:
			objects = append(objects, branch{child, v})
		}
	}

	var results [][]Row
	for _, b := range objects {
		if sub := descend(b.node, b.data, width); len(sub) > 0 {
			results = append(results, sub)
		}
	}
	for _, b := range arrays {
		items := b.data.AsArray()
		if len(items) == 0 {
			return nil
		}
		var sub []Row
		for _, item := range items {
			sub = append(sub, descend(b.node, item, width)...)
		}
		if len(sub) > 0 {
			results = append(results, sub)
		}
	}

	if len(results) == 0 {
		if current.Empty() {
			return nil
		}
		return []Row{current}
	}
	rows := []Row{current}
	for _, sub := range results {
		rows = product(rows, sub)
	}
	return rows
}

// product combines every row of left with every row of right, right
// values overwriting left ones. left varies slowest.
func product(left, right []Row) []Row {
	out := make([]Row, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			out = append(out, l.merge(r))
		}
	}
	return out
}

// TraverseAll concatenates the rows of every document in order.
func TraverseAll(docs []models.Value, table *mapping.Table) []Row {
	var rows []Row
	for _, doc := range docs {
		rows = append(rows, Traverse(doc, table)...)
	}
	return rows
}
