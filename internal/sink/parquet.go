package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/columnar"
	"github.com/basekick-labs/rowhouse/internal/metrics"
	"github.com/basekick-labs/rowhouse/internal/storage"
)

// ParquetSink writes each table as one Parquet object.
type ParquetSink struct {
	backend     storage.Backend
	writer      *columnar.ArrowWriter
	keyTemplate string
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewParquetSink returns a sink writing through backend. An empty
// keyTemplate uses DefaultKeyTemplate.
func NewParquetSink(backend storage.Backend, writer *columnar.ArrowWriter, keyTemplate string, logger zerolog.Logger) *ParquetSink {
	if keyTemplate == "" {
		keyTemplate = DefaultKeyTemplate
	}
	return &ParquetSink{
		backend:     backend,
		writer:      writer,
		keyTemplate: keyTemplate,
		metrics:     metrics.Get(),
		logger:      logger.With().Str("component", "parquet-sink").Logger(),
	}
}

func (s *ParquetSink) Name() string { return "parquet" }

// Write encodes b.Table and stores it under the templated key.
func (s *ParquetSink) Write(ctx context.Context, b TableBatch) (string, error) {
	start := time.Now()
	data, err := s.writer.WriteParquet(b.Table)
	if err != nil {
		return "", fmt.Errorf("failed to encode parquet for table %s: %w", b.Table.Name, err)
	}

	key := FormatKey(s.keyTemplate, KeyFields{
		Table:         b.Table.Name,
		Discriminator: b.Table.Discriminator,
		RunID:         b.RunID,
		InputKey:      b.SourceKey,
	})
	if err := s.backend.Write(ctx, key, data); err != nil {
		s.metrics.IncStorageErrors()
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}

	s.metrics.IncStorageWrites()
	s.metrics.IncStorageWriteBytes(int64(len(data)))

	s.logger.Info().
		Str("table", b.Table.Name).
		Str("key", key).
		Int("rows", b.Table.NumRows()).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Wrote parquet output")
	return key, nil
}

// Close is a no-op; the backend is owned by the caller.
func (s *ParquetSink) Close() error { return nil }
