// Package columnar converts assembled tables into Arrow records and Parquet
// files.
package columnar

import (
	"bytes"
	"fmt"
	"strings"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/mapping"
)

// memory.GoAllocator is safe for concurrent use; one instance serves all writers.
var sharedArrowAllocator = memory.NewGoAllocator()

// arrow.Timestamp is `type Timestamp int64`, so the slice header can be
// reinterpreted without copying.
func int64SliceToTimestamps(src []int64) []arrow.Timestamp {
	return *(*[]arrow.Timestamp)(unsafe.Pointer(&src))
}

// Options configure Parquet output.
type Options struct {
	Compression     string // snappy (default), gzip, zstd, none
	UseDictionary   bool
	WriteStatistics bool
	DataPageVersion string // "1.0" or "2.0"
}

// DefaultOptions returns snappy with dictionary encoding and statistics.
func DefaultOptions() Options {
	return Options{Compression: "snappy", UseDictionary: true, WriteStatistics: true, DataPageVersion: "1.0"}
}

// ArrowWriter handles Arrow conversion and Parquet writing. It holds no
// per-table state and is safe for concurrent use.
type ArrowWriter struct {
	compression     compress.Compression
	useDictionary   bool
	writeStatistics bool
	dataPageVersion string

	logger zerolog.Logger
}

// ParseCompression maps a codec name to the Parquet codec.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Snappy, fmt.Errorf("unsupported parquet compression: %s (expected snappy, gzip, zstd or none)", name)
	}
}

// NewArrowWriter creates a new Arrow writer
func NewArrowWriter(opts Options, logger zerolog.Logger) (*ArrowWriter, error) {
	comp, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &ArrowWriter{
		compression:     comp,
		useDictionary:   opts.UseDictionary,
		writeStatistics: opts.WriteStatistics,
		dataPageVersion: opts.DataPageVersion,
		logger:          logger.With().Str("component", "arrow-writer").Logger(),
	}, nil
}

// ArrowType returns the Arrow type a column of type t is written as.
func ArrowType(t mapping.Type) arrow.DataType {
	switch t {
	case mapping.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case mapping.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case mapping.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case mapping.TypeTimestamp, mapping.TypeDate:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// Schema builds the Arrow schema of t. Every column is nullable.
func Schema(t *assemble.Table) *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: ArrowType(c.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Record converts t into an Arrow record. The caller must Release it.
func (w *ArrowWriter) Record(t *assemble.Table) (arrow.Record, error) {
	schema := Schema(t)
	mem := sharedArrowAllocator
	arrays := make([]arrow.Array, len(t.Columns))
	defer func() {
		for _, arr := range arrays {
			if arr != nil {
				arr.Release()
			}
		}
	}()

	for i, col := range t.Columns {
		arr, err := buildArray(mem, col)
		if err != nil {
			return nil, err
		}
		arrays[i] = arr
	}
	// NewRecord retains the arrays; the deferred Release drops our reference.
	return array.NewRecord(schema, arrays, int64(t.NumRows())), nil
}

func buildArray(mem memory.Allocator, col assemble.Column) (arrow.Array, error) {
	valid := col.Valid
	switch col.Type {
	case mapping.TypeInteger:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(col.Ints, valid)
		return b.NewArray(), nil
	case mapping.TypeFloat:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(col.Floats, valid)
		return b.NewArray(), nil
	case mapping.TypeBoolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(col.Bools, valid)
		return b.NewArray(), nil
	case mapping.TypeTimestamp, mapping.TypeDate:
		b := array.NewTimestampBuilder(mem, arrow.FixedWidthTypes.Timestamp_us.(*arrow.TimestampType))
		defer b.Release()
		b.AppendValues(int64SliceToTimestamps(col.Times), valid)
		return b.NewArray(), nil
	case mapping.TypeString:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(col.Strings, valid)
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("unsupported column type for %s: %s", col.Name, col.Type)
	}
}

// WriteParquet renders t as a single-row-group Parquet file.
func (w *ArrowWriter) WriteParquet(t *assemble.Table) ([]byte, error) {
	record, err := w.Record(t)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	writerOpts := []parquet.WriterProperty{
		parquet.WithCompression(w.compression),
		parquet.WithDictionaryDefault(w.useDictionary),
		parquet.WithStats(w.writeStatistics),
		parquet.WithAllocator(sharedArrowAllocator),
	}
	if w.dataPageVersion == "2.0" {
		writerOpts = append(writerOpts, parquet.WithDataPageVersion(parquet.DataPageV2))
	}
	writerProps := parquet.NewWriterProperties(writerOpts...)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	var buf bytes.Buffer
	writer, err := pqarrow.NewFileWriter(record.Schema(), &buf, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}

	w.logger.Debug().
		Str("table", t.Name).
		Int("columns", len(t.Columns)).
		Int("rows", t.NumRows()).
		Int("size", buf.Len()).
		Msg("Wrote Parquet file")

	return buf.Bytes(), nil
}
