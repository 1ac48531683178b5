package assemble

import (
	"errors"
	"testing"
	"time"

	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureMeta = Metadata{
	Source:       "test/2024/01/15/00/test.json.gz",
	LastModified: "2024-01-15T00:00:00Z",
}

func boolPtr(b bool) *bool { return &b }

func ordersTable(t *testing.T) *mapping.Table {
	t.Helper()
	tbl, err := mapping.CompileTable("OrderCreated", mapping.TableConfig{
		TableName: "orders",
		Fields: []mapping.Field{
			{Source: "header.orderId", Alias: "order_id", Type: "string"},
			{Source: "body.items[].sku", Alias: "sku", Type: "string"},
			{Source: "body.items[].price", Alias: "price", Type: "float", Coerce: boolPtr(true)},
			{Source: "body.items[].quantity", Alias: "quantity", Type: "integer"},
			{Source: "body.discount", Alias: "discount", Type: "float"},
			{Source: "body.note", Alias: "note", Type: "memo"},
		},
	}, mapping.CompileOptions{})
	require.NoError(t, err)
	return tbl
}

func TestAssembleOrdersColumnsAndMetadata(t *testing.T) {
	docs := []models.Value{
		models.MustParseJSON(`{
			"header": {"orderId": "ORD-1"},
			"body": {"note": "", "items": [
				{"sku": "A", "price": "$1,234.56", "quantity": 2},
				{"sku": "", "price": "25%", "quantity": "x"}
			]}
		}`),
		models.MustParseJSON(`{"header": {"orderId": "ORD-2"}, "body": {"items": []}}`),
	}

	tbl, err := New(Options{}).Assemble(docs, ordersTable(t), fixtureMeta)
	require.NoError(t, err)

	assert.Equal(t, "orders", tbl.Name)
	assert.Equal(t, "OrderCreated", tbl.Discriminator)
	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, []string{
		"order_id", "sku", "price", "quantity", "discount", "note",
		DefaultSourceColumn, DefaultModifiedColumn,
	}, tbl.Names())

	price, ok := tbl.Column("price")
	require.True(t, ok)
	assert.InDelta(t, 1234.56, price.Floats[0], 1e-9)
	assert.InDelta(t, 0.25, price.Floats[1], 1e-12)
	assert.True(t, price.IsNull(2))

	sku, _ := tbl.Column("sku")
	assert.Equal(t, "A", sku.Value(0))
	assert.Nil(t, sku.Value(1), "empty strings become null")

	qty, _ := tbl.Column("quantity")
	assert.Equal(t, int64(2), qty.Value(0))
	assert.Nil(t, qty.Value(1))

	discount, _ := tbl.Column("discount")
	assert.Equal(t, mapping.TypeFloat, discount.Type)
	assert.Equal(t, 3, discount.NullCount())

	note, _ := tbl.Column("note")
	assert.Equal(t, mapping.TypeString, note.Type)

	src, _ := tbl.Column(DefaultSourceColumn)
	assert.True(t, src.Metadata)
	mod, _ := tbl.Column(DefaultModifiedColumn)
	for i := 0; i < tbl.NumRows(); i++ {
		assert.Equal(t, fixtureMeta.Source, src.Value(i))
		assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), mod.Value(i))
	}

	assert.Contains(t, tbl.Diagnostics.Errors, "Column 'quantity': Cannot convert x to integer")
	assert.Contains(t, tbl.Diagnostics.Warnings, "Column 'note': Unknown data type 'memo'. Defaulting to string.")
}

func TestAssembleRowView(t *testing.T) {
	tbl, err := New(Options{SourceColumn: "src", ModifiedColumn: "modified"}).Assemble(
		[]models.Value{models.MustParseJSON(`{"header": {"orderId": "ORD-9"}}`)},
		ordersTable(t), fixtureMeta)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.NumRows())

	row := tbl.Row(0)
	assert.Equal(t, "ORD-9", row["order_id"])
	assert.Nil(t, row["sku"])
	assert.Equal(t, fixtureMeta.Source, row["src"])
	assert.Contains(t, row, "modified")
}

func TestAssembleRequiresMetadata(t *testing.T) {
	a := New(Options{})
	docs := []models.Value{models.MustParseJSON(`{"header": {"orderId": "x"}}`)}

	_, err := a.Assemble(docs, ordersTable(t), Metadata{})
	assert.True(t, errors.Is(err, ErrMissingMetadata))

	_, err = a.Assemble(docs, ordersTable(t), Metadata{Source: "k"})
	assert.True(t, errors.Is(err, ErrMissingMetadata))

	_, err = a.Assemble(docs, ordersTable(t), Metadata{Source: "k", LastModified: "yesterday-ish"})
	assert.True(t, errors.Is(err, ErrInvalidMetadata))
}

func TestParseLastModified(t *testing.T) {
	want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-01-15T10:00:00Z",
		"2024-01-15T12:00:00+02:00",
		"Mon, 15 Jan 2024 10:00:00 UTC",
		"2024-01-15 10:00:00",
	} {
		got, err := ParseLastModified(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}
}

func constrainedTable(t *testing.T) *mapping.Table {
	t.Helper()
	tbl, err := mapping.CompileTable("OrderCreated", mapping.TableConfig{
		TableName: "order_lines",
		Fields: []mapping.Field{
			{Source: "header.orderId", Alias: "order_id", Type: "string", Required: true},
			{Source: "body.items[].sku", Alias: "sku", Type: "string"},
			{Source: "body.items[].quantity", Alias: "quantity", Type: "integer"},
		},
		Unique: []string{"order_id", "sku"},
	}, mapping.CompileOptions{})
	require.NoError(t, err)
	return tbl
}

func TestAssembleColumnConstraints(t *testing.T) {
	docs := []models.Value{
		models.MustParseJSON(`{"header": {"orderId": "ORD-1"}, "body": {"items": [
			{"sku": "A", "quantity": 1},
			{"sku": "A", "quantity": 2},
			{"sku": "B", "quantity": 3}
		]}}`),
		models.MustParseJSON(`{"body": {"items": [{"quantity": 4}, {"quantity": 5}]}}`),
	}

	tbl, err := New(Options{}).Assemble(docs, constrainedTable(t), fixtureMeta)
	require.NoError(t, err)
	require.Equal(t, 5, tbl.NumRows(), "violations are reported, rows are kept")

	assert.Contains(t, tbl.Diagnostics.Errors, "Column 'order_id' has 2 null values")
	// (ORD-1, A) twice and (null, null) twice
	assert.Contains(t, tbl.Diagnostics.Errors, "Found 4 duplicate rows for columns: order_id, sku")
}

func TestAssembleColumnConstraintsSatisfied(t *testing.T) {
	docs := []models.Value{
		models.MustParseJSON(`{"header": {"orderId": "ORD-1"}, "body": {"items": [{"sku": "A"}, {"sku": "B"}]}}`),
		models.MustParseJSON(`{"header": {"orderId": "ORD-2"}, "body": {"items": [{"sku": "A"}]}}`),
	}

	tbl, err := New(Options{}).Assemble(docs, constrainedTable(t), fixtureMeta)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows())
	assert.Empty(t, tbl.Diagnostics.Errors)
}
