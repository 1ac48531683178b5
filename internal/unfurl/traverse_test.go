package unfurl

import (
	"testing"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, fields ...mapping.Field) *mapping.Table {
	t.Helper()
	tbl, err := mapping.CompileTable("test", mapping.TableConfig{TableName: "test", Fields: fields}, mapping.CompileOptions{})
	require.NoError(t, err)
	return tbl
}

func f(source, alias string) mapping.Field {
	return mapping.Field{Source: source, Alias: alias, Type: "string"}
}

// flatten renders rows as alias -> text, with "<null>" for present nulls.
func flatten(rows []Row, tbl *mapping.Table) []map[string]string {
	out := make([]map[string]string, len(rows))
	for i, r := range rows {
		m := map[string]string{}
		for alias, v := range r.Map(tbl.Aliases()) {
			if v.IsNull() {
				m[alias] = "<null>"
			} else {
				m[alias] = v.Text()
			}
		}
		out[i] = m
	}
	return out
}

func run(t *testing.T, doc string, fields ...mapping.Field) []map[string]string {
	t.Helper()
	tbl := compile(t, fields...)
	return flatten(Traverse(models.MustParseJSON(doc), tbl), tbl)
}

func TestSingleArrayExplodes(t *testing.T) {
	rows := run(t, `{
		"header": {"action": "OrderCreated", "orderId": "ORD-001"},
		"body": {"items": [
			{"sku": "A", "quantity": 2},
			{"sku": "B", "quantity": 1},
			{"sku": "C", "quantity": 3}
		]}
	}`,
		f("header.action", "action"),
		f("header.orderId", "order_id"),
		f("body.items[].sku", "sku"),
		f("body.items[].quantity", "quantity"),
	)

	require.Len(t, rows, 3)
	for i, sku := range []string{"A", "B", "C"} {
		assert.Equal(t, "OrderCreated", rows[i]["action"])
		assert.Equal(t, "ORD-001", rows[i]["order_id"])
		assert.Equal(t, sku, rows[i]["sku"])
	}
	assert.Equal(t, "3", rows[2]["quantity"])
}

func TestTopLevelEmptyArrayKeepsOneRow(t *testing.T) {
	rows := run(t, `{"id": "x", "items": []}`,
		f("items[].sku", "sku"),
	)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0])
}

func TestTopLevelArrayWithEmptyElementsKeepsOneRow(t *testing.T) {
	rows := run(t, `{"header": {"h": "1"}, "events": [{}, {"other": 1}]}`,
		f("header.h", "h"),
		f("events[].type", "type"),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"h": "1"}, rows[0])
}

func TestTopLevelArrayExplodes(t *testing.T) {
	rows := run(t, `{"header": {"h": "1"}, "events": [{"type": "a"}, {"type": "b"}]}`,
		f("header.h", "h"),
		f("events[].type", "type"),
	)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"h": "1", "type": "a"}, rows[0])
	assert.Equal(t, map[string]string{"h": "1", "type": "b"}, rows[1])
}

func TestNestedEmptyArrayKillsBranch(t *testing.T) {
	rows := run(t, `{
		"header": {"action": "Batch"},
		"body": {"orders": [
			{"orderId": "X", "items": []},
			{"orderId": "Y", "items": [{"sku": "a"}, {"sku": "b"}]},
			{"orderId": "Z", "items": [{"sku": "c"}]}
		]}
	}`,
		f("header.action", "action"),
		f("body.orders[].orderId", "order_id"),
		f("body.orders[].items[].sku", "sku"),
	)

	require.Len(t, rows, 3)
	assert.Equal(t, map[string]string{"action": "Batch", "order_id": "Y", "sku": "a"}, rows[0])
	assert.Equal(t, map[string]string{"action": "Batch", "order_id": "Y", "sku": "b"}, rows[1])
	assert.Equal(t, map[string]string{"action": "Batch", "order_id": "Z", "sku": "c"}, rows[2])
}

func TestNestedEmptyArrayKillsWholeCall(t *testing.T) {
	// The empty items array sits inside body, so body yields nothing and
	// the customer leaf next to it is lost too. The header branch survives.
	rows := run(t, `{
		"header": {"action": "A"},
		"body": {"customer": "c1", "items": []}
	}`,
		f("header.action", "action"),
		f("body.customer", "customer"),
		f("body.items[].sku", "sku"),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"action": "A"}, rows[0])
}

func TestTripleNesting(t *testing.T) {
	rows := run(t, `{
		"regions": [
			{"name": "east", "stores": [
				{"id": "s1", "sales": [{"amt": 1}, {"amt": 2}]},
				{"id": "s2", "sales": [{"amt": 3}]}
			]},
			{"name": "west", "stores": [
				{"id": "s3", "sales": [{"amt": 4}]}
			]}
		]
	}`,
		f("regions[].name", "region"),
		f("regions[].stores[].id", "store"),
		f("regions[].stores[].sales[].amt", "amt"),
	)

	require.Len(t, rows, 4)
	assert.Equal(t, map[string]string{"region": "east", "store": "s1", "amt": "1"}, rows[0])
	assert.Equal(t, map[string]string{"region": "east", "store": "s1", "amt": "2"}, rows[1])
	assert.Equal(t, map[string]string{"region": "east", "store": "s2", "amt": "3"}, rows[2])
	assert.Equal(t, map[string]string{"region": "west", "store": "s3", "amt": "4"}, rows[3])
}

func TestSiblingArraysCartesianProduct(t *testing.T) {
	rows := run(t, `{
		"body": {
			"items": [{"sku": "A"}, {"sku": "B"}, {"sku": "C"}],
			"payments": [{"method": "card"}, {"method": "cash"}]
		}
	}`,
		f("body.items[].sku", "sku"),
		f("body.payments[].method", "method"),
	)

	require.Len(t, rows, 6)
	want := []map[string]string{
		{"sku": "A", "method": "card"},
		{"sku": "A", "method": "cash"},
		{"sku": "B", "method": "card"},
		{"sku": "B", "method": "cash"},
		{"sku": "C", "method": "card"},
		{"sku": "C", "method": "cash"},
	}
	assert.Equal(t, want, rows)
}

func TestTopLevelSiblingArraysCartesianProduct(t *testing.T) {
	rows := run(t, `{"a": [{"x": 1}, {"x": 2}], "b": [{"y": 1}, {"y": 2}, {"y": 3}]}`,
		f("a[].x", "x"),
		f("b[].y", "y"),
	)
	require.Len(t, rows, 6)
	assert.Equal(t, map[string]string{"x": "1", "y": "3"}, rows[2])
	assert.Equal(t, map[string]string{"x": "2", "y": "1"}, rows[3])
}

func TestDeeplyNestedEmptiesYieldOneRowPerDocument(t *testing.T) {
	fields := []mapping.Field{f("a[].b[].c[].value", "value")}
	for _, doc := range []string{
		`{"a": []}`,
		`{"a": [{"b": []}]}`,
		`{"a": [{"b": [{"c": []}]}]}`,
		`{"a": [{"b": [{"c": []}, {"c": []}]}, {"b": []}]}`,
	} {
		t.Run(doc, func(t *testing.T) {
			rows := run(t, doc, fields...)
			require.Len(t, rows, 1)
			assert.Empty(t, rows[0])
		})
	}
}

func TestSameKeyAtDifferentLevels(t *testing.T) {
	rows := run(t, `{
		"body": {
			"id": "order-1",
			"details": {"name": "n1", "id": "detail-1"},
			"items": [{"id": "item-1"}, {"id": "item-2"}]
		}
	}`,
		f("body.id", "order_id"),
		f("body.details.id", "detail_id"),
		f("body.details.name", "detail_name"),
		f("body.items[].id", "item_id"),
	)

	require.Len(t, rows, 2)
	for i, item := range []string{"item-1", "item-2"} {
		assert.Equal(t, map[string]string{
			"order_id":    "order-1",
			"detail_id":   "detail-1",
			"detail_name": "n1",
			"item_id":     item,
		}, rows[i])
	}
}

func TestPrefixSiblingsAtDifferentDepthsBothExtract(t *testing.T) {
	rows := run(t, `{"body": {"level1": {"shallow": "s", "nested": {"deep": "d"}}}}`,
		f("body.level1.shallow", "shallow"),
		f("body.level1.nested.deep", "deep"),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"shallow": "s", "deep": "d"}, rows[0])

	// Declaring the deep field first changes nothing.
	rows = run(t, `{"body": {"level1": {"shallow": "s", "nested": {"deep": "d"}}}}`,
		f("body.level1.nested.deep", "deep"),
		f("body.level1.shallow", "shallow"),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"shallow": "s", "deep": "d"}, rows[0])
}

func TestMissingAndNullBranches(t *testing.T) {
	fields := []mapping.Field{
		f("header.action", "action"),
		f("body.customer.name", "name"),
	}

	rows := run(t, `{"header": {"action": "A"}}`, fields...)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"action": "A"}, rows[0])

	rows = run(t, `{"header": {"action": "A"}, "body": null}`, fields...)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"action": "A"}, rows[0])

	rows = run(t, `{"header": {"action": "A"}, "body": {"customer": null}}`, fields...)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"action": "A"}, rows[0])

	rows = run(t, `{}`, fields...)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0])
}

func TestExplicitNullIsPresent(t *testing.T) {
	rows := run(t, `{"body": {"orders": [{"orderId": null}, {"orderId": "B"}]}}`,
		f("body.orders[].orderId", "order_id"),
	)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"order_id": "<null>"}, rows[0])
	assert.Equal(t, map[string]string{"order_id": "B"}, rows[1])
}

func TestRootLeavesAreRead(t *testing.T) {
	rows := run(t, `{"id": 7, "items": [{"sku": "a"}, {"sku": "b"}]}`,
		f("id", "id"),
		f("items[].sku", "sku"),
	)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"id": "7", "sku": "a"}, rows[0])
	assert.Equal(t, map[string]string{"id": "7", "sku": "b"}, rows[1])
}

func TestLeafArrayStoredWhole(t *testing.T) {
	rows := run(t, `{"body": {"tags": ["x", "y"]}}`, f("body.tags[]", "tags"))
	require.Len(t, rows, 1)
	assert.Equal(t, `["x","y"]`, rows[0]["tags"])
}

func TestUnmarkedArrayIsNotExploded(t *testing.T) {
	rows := run(t, `{"header": {"h": "1"}, "body": {"items": [{"sku": "a"}, {"sku": "b"}]}}`,
		f("header.h", "h"),
		f("body.items.sku", "sku"),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"h": "1"}, rows[0])
}

func TestMarkedSegmentHoldingObjectIsTraversedOnce(t *testing.T) {
	rows := run(t, `{"body": {"items": {"sku": "solo"}}}`, f("body.items[].sku", "sku"))
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"sku": "solo"}, rows[0])
}

func TestNonObjectDocumentYieldsNothing(t *testing.T) {
	tbl := compile(t, f("a", "a"))
	assert.Empty(t, Traverse(models.Array(models.Int(1)), tbl))
	assert.Empty(t, Traverse(models.String("x"), tbl))
}

func TestTraverseAllConcatenatesInOrder(t *testing.T) {
	tbl := compile(t, f("items[].sku", "sku"))
	docs := []models.Value{
		models.MustParseJSON(`{"items": [{"sku": "a"}, {"sku": "b"}]}`),
		models.MustParseJSON(`{"items": []}`),
		models.MustParseJSON(`{"items": [{"sku": "c"}]}`),
	}
	rows := flatten(TraverseAll(docs, tbl), tbl)
	require.Len(t, rows, 4)
	assert.Equal(t, "a", rows[0]["sku"])
	assert.Equal(t, "b", rows[1]["sku"])
	assert.Empty(t, rows[2])
	assert.Equal(t, "c", rows[3]["sku"])
}

func TestRowMergeOverwrites(t *testing.T) {
	a := NewRow(2)
	a.Set(0, models.String("old"))
	b := NewRow(2)
	b.Set(0, models.String("new"))
	b.Set(1, models.Null())

	m := a.merge(b)
	v, ok := m.Get(0)
	require.True(t, ok)
	assert.Equal(t, "new", v.Text())
	_, ok = m.Get(1)
	assert.True(t, ok)
	assert.False(t, m.Empty())

	// source rows are untouched
	v, _ = a.Get(0)
	assert.Equal(t, "old", v.Text())
	_, ok = a.Get(1)
	assert.False(t, ok)
}
