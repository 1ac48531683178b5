package columnar

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

func ordersTable(t *testing.T) *assemble.Table {
	t.Helper()
	tbl, err := mapping.CompileTable("OrderCreated", mapping.TableConfig{
		TableName: "orders",
		Fields: []mapping.Field{
			{Source: "header.orderId", Alias: "order_id", Type: "string"},
			{Source: "items[].qty", Alias: "qty", Type: "integer"},
			{Source: "items[].price", Alias: "price", Type: "float"},
			{Source: "items[].gift", Alias: "gift", Type: "boolean"},
			{Source: "header.at", Alias: "created_at", Type: "timestamp"},
		},
	}, mapping.CompileOptions{DefaultCoerce: true})
	require.NoError(t, err)

	docs := []models.Value{models.MustParseJSON(`{
		"header": {"orderId": "ORD-1", "at": "2024-01-15 10:30:00"},
		"items": [
			{"qty": 2, "price": "$10.50", "gift": "yes"},
			{"qty": null, "price": "n/a", "gift": "no"}
		]
	}`)}
	out, err := assemble.New(assemble.Options{}).Assemble(docs, tbl, assemble.Metadata{
		Source:       "raw/2024/01/15/00/orders.json.gz",
		LastModified: "2024-01-15T00:00:00Z",
	})
	require.NoError(t, err)
	return out
}

func TestSchemaTypes(t *testing.T) {
	schema := Schema(ordersTable(t))
	want := map[string]arrow.DataType{
		"order_id":                     arrow.BinaryTypes.String,
		"qty":                          arrow.PrimitiveTypes.Int64,
		"price":                        arrow.PrimitiveTypes.Float64,
		"gift":                         arrow.FixedWidthTypes.Boolean,
		"created_at":                   arrow.FixedWidthTypes.Timestamp_us,
		assemble.DefaultSourceColumn:   arrow.BinaryTypes.String,
		assemble.DefaultModifiedColumn: arrow.FixedWidthTypes.Timestamp_us,
	}
	require.Equal(t, len(want), schema.NumFields())
	for _, f := range schema.Fields() {
		assert.True(t, arrow.TypeEqual(want[f.Name], f.Type), f.Name)
		assert.True(t, f.Nullable)
	}
	assert.Equal(t, "order_id", schema.Field(0).Name)
}

func TestRecordNullsAndValues(t *testing.T) {
	w, err := NewArrowWriter(DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	rec, err := w.Record(ordersTable(t))
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	qty := rec.Column(1).(*array.Int64)
	assert.Equal(t, int64(2), qty.Value(0))
	assert.True(t, qty.IsNull(1))

	price := rec.Column(2).(*array.Float64)
	assert.InDelta(t, 10.5, price.Value(0), 1e-9)
	assert.True(t, price.IsNull(1))

	gift := rec.Column(3).(*array.Boolean)
	assert.True(t, gift.Value(0))
	assert.False(t, gift.Value(1))

	at := rec.Column(4).(*array.Timestamp)
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, want.UnixMicro(), int64(at.Value(1)))
}

func TestWriteParquetRoundTrip(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "zstd", "none"} {
		t.Run(codec, func(t *testing.T) {
			w, err := NewArrowWriter(Options{Compression: codec, UseDictionary: true, WriteStatistics: true, DataPageVersion: "2.0"}, zerolog.Nop())
			require.NoError(t, err)

			data, err := w.WriteParquet(ordersTable(t))
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(data, []byte("PAR1")))

			mem := memory.NewGoAllocator()
			tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
				parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
			require.NoError(t, err)
			defer tbl.Release()

			assert.Equal(t, int64(2), tbl.NumRows())
			assert.Equal(t, int64(7), tbl.NumCols())
			src := tbl.Column(5).Data().Chunk(0).(*array.String)
			assert.Equal(t, "raw/2024/01/15/00/orders.json.gz", src.Value(1))
		})
	}
}

func TestParseCompression(t *testing.T) {
	_, err := ParseCompression("lz4-ish")
	assert.Error(t, err)
	_, err = NewArrowWriter(Options{Compression: "brotli-x"}, zerolog.Nop())
	assert.Error(t, err)
}
